package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/port"
	"github.com/medialabel/medialabel-labeling-service/internal/sampling"
)

// cloneVideo and cloneFrame give the fakes database semantics: what a test
// reads back is a snapshot, not the caller's live pointer.
func cloneVideo(v *entity.VideoAsset) *entity.VideoAsset {
	data, _ := json.Marshal(v)
	out := &entity.VideoAsset{}
	_ = json.Unmarshal(data, out)
	return out
}

func cloneFrame(k *entity.Keyframe) *entity.Keyframe {
	data, _ := json.Marshal(k)
	out := &entity.Keyframe{}
	_ = json.Unmarshal(data, out)
	return out
}

type fakeRepo struct {
	mu     sync.Mutex
	videos map[uuid.UUID]*entity.VideoAsset
	frames map[uuid.UUID]*entity.Keyframe

	// frameSaveLog records the labeling status carried by each keyframe
	// save, in order, for asserting persistence ordering.
	frameSaveLog []entity.PhaseStatus
	deleteCalls  int

	saveVideoErr error
	saveFrameErr error
	getVideoErr  error
	getFrameErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		videos: map[uuid.UUID]*entity.VideoAsset{},
		frames: map[uuid.UUID]*entity.Keyframe{},
	}
}

func (r *fakeRepo) SaveVideo(_ context.Context, v *entity.VideoAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveVideoErr != nil {
		return r.saveVideoErr
	}
	r.videos[v.ID] = cloneVideo(v)
	return nil
}

func (r *fakeRepo) GetVideo(_ context.Context, id uuid.UUID) (*entity.VideoAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getVideoErr != nil {
		return nil, r.getVideoErr
	}
	v, ok := r.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", id, port.ErrAssetNotFound)
	}
	out := cloneVideo(v)
	out.Keyframes = r.framesFor(id)
	return out, nil
}

func (r *fakeRepo) SaveKeyframe(_ context.Context, f *entity.Keyframe) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveFrameErr != nil {
		return r.saveFrameErr
	}
	r.frameSaveLog = append(r.frameSaveLog, f.LabelingStatus)
	r.frames[f.ID] = cloneFrame(f)
	return nil
}

func (r *fakeRepo) GetKeyframe(_ context.Context, id uuid.UUID) (*entity.Keyframe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getFrameErr != nil {
		return nil, r.getFrameErr
	}
	f, ok := r.frames[id]
	if !ok {
		return nil, fmt.Errorf("keyframe %s: %w", id, port.ErrAssetNotFound)
	}
	return cloneFrame(f), nil
}

func (r *fakeRepo) DeleteKeyframes(_ context.Context, videoID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	for id, f := range r.frames {
		if f.ParentVideoID == videoID {
			delete(r.frames, id)
		}
	}
	return nil
}

func (r *fakeRepo) framesFor(id uuid.UUID) []*entity.Keyframe {
	var list []*entity.Keyframe
	for _, f := range r.frames {
		if f.ParentVideoID == id {
			list = append(list, cloneFrame(f))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].FrameNumber < list[j].FrameNumber })
	return list
}

type fakeStorage struct {
	mu        sync.Mutex
	downloads []string
	uploads   []string

	downloadErr error
	uploadErr   error
}

func (s *fakeStorage) DownloadVideo(_ context.Context, objectKey, destPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downloadErr != nil {
		return s.downloadErr
	}
	s.downloads = append(s.downloads, objectKey)
	return os.WriteFile(destPath, []byte("not a real video"), 0644)
}

func (s *fakeStorage) UploadFrame(_ context.Context, objectKey string, _ io.Reader, _ int64) (*port.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	s.uploads = append(s.uploads, objectKey)
	return &port.UploadResult{
		Key:        objectKey,
		PrimaryURL: "http://storage.local/keyframes/" + objectKey,
	}, nil
}

type fakeExtractor struct {
	availableErr error
	meta         *entity.VideoMetadata
	probeErr     error

	// frameQueue entries are returned per ExtractFrame call in order; a
	// nil entry simulates an undecodable position. Calls beyond the queue
	// get bytes that do not decode, which the filters pass fail-open.
	frameQueue [][]byte
	calls      int
}

func (e *fakeExtractor) Available() error { return e.availableErr }

func (e *fakeExtractor) Probe(context.Context, string) (*entity.VideoMetadata, error) {
	if e.probeErr != nil {
		return nil, e.probeErr
	}
	if e.meta != nil {
		return e.meta, nil
	}
	return &entity.VideoMetadata{Duration: 100, Width: 1280, Height: 720, Format: "mov,mp4,m4a"}, nil
}

func (e *fakeExtractor) ExtractFrame(_ context.Context, _ string, _ float64) ([]byte, error) {
	i := e.calls
	e.calls++
	if i < len(e.frameQueue) {
		return e.frameQueue[i], nil
	}
	return []byte("opaque frame bytes"), nil
}

type fakeDetector struct {
	stamps     []float64
	calls      int
	lastTarget int
}

func (d *fakeDetector) DetectTimestamps(_ context.Context, _ string, duration float64, target int) []float64 {
	d.calls++
	d.lastTarget = target
	if d.stamps != nil {
		return d.stamps
	}
	return sampling.Adaptive(duration, target)
}

type scheduledRetry struct {
	msg   entity.LabelFrameMessage
	delay time.Duration
}

type fakeLabelQueue struct {
	mu        sync.Mutex
	enqueued  []entity.LabelFrameMessage
	scheduled []scheduledRetry

	enqueueErr  error
	scheduleErr error
}

func (q *fakeLabelQueue) EnqueueLabel(_ context.Context, msg entity.LabelFrameMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueued = append(q.enqueued, msg)
	return nil
}

func (q *fakeLabelQueue) ScheduleRetry(_ context.Context, msg entity.LabelFrameMessage, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.scheduleErr != nil {
		return q.scheduleErr
	}
	q.scheduled = append(q.scheduled, scheduledRetry{msg: msg, delay: delay})
	return nil
}

type fakeStatusPublisher struct {
	mu   sync.Mutex
	msgs []entity.PhaseStatusMessage
	err  error
}

func (p *fakeStatusPublisher) PublishStatus(_ context.Context, body []byte) error {
	if p.err != nil {
		return p.err
	}
	var m entity.PhaseStatusMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return nil
}

type dlqEntry struct {
	body   string
	reason string
}

type fakeDLQ struct {
	mu      sync.Mutex
	entries []dlqEntry
}

func (d *fakeDLQ) PublishToDLQ(_ context.Context, msg []byte, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, dlqEntry{body: string(msg), reason: reason})
	return nil
}

type notifyCall struct {
	recipient string
	videoID   string
	videoKey  string
	errMsg    string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, recipient, videoID, videoKey, errMsg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{recipient: recipient, videoID: videoID, videoKey: videoKey, errMsg: errMsg})
	return nil
}

const defaultLabelResponse = `{
	"scene": "A fixed test scene unfolds.",
	"objects": ["thing"],
	"style": ["flat"],
	"mood": ["calm"],
	"themes": ["testing"],
	"confidence": {"scene": 0.9, "objects": 0.8}
}`

type fakeVision struct {
	mu         sync.Mutex
	labelFn    func(imageURL, prompt string) (string, error)
	textFn     func(prompt string) (string, error)
	labelCalls []string
	textCalls  []string
}

func (v *fakeVision) LabelImage(_ context.Context, imageURL, prompt string) (string, error) {
	v.mu.Lock()
	v.labelCalls = append(v.labelCalls, imageURL)
	fn := v.labelFn
	v.mu.Unlock()
	if fn != nil {
		return fn(imageURL, prompt)
	}
	return defaultLabelResponse, nil
}

func (v *fakeVision) GenerateText(_ context.Context, prompt string) (string, error) {
	v.mu.Lock()
	v.textCalls = append(v.textCalls, prompt)
	fn := v.textFn
	v.mu.Unlock()
	if fn != nil {
		return fn(prompt)
	}
	return "A synthesized description of the whole video.", nil
}
