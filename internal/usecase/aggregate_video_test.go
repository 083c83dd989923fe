package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type aggregateFixture struct {
	repo   *fakeRepo
	vision *fakeVision
	queue  *fakeLabelQueue
	status *fakeStatusPublisher
	uc     *AggregateVideoUseCase
}

func newAggregateFixture(retryDelay time.Duration) *aggregateFixture {
	fx := &aggregateFixture{
		repo:   newFakeRepo(),
		vision: &fakeVision{},
		queue:  &fakeLabelQueue{},
		status: &fakeStatusPublisher{},
	}
	fx.uc = NewAggregateVideoUseCase(fx.repo, fx.vision, fx.queue, fx.status,
		zap.NewNop(), AggregateVideoConfig{RetryDelay: retryDelay})
	fx.uc.jitter = func() float64 { return 0 }
	return fx
}

// seedAggregateVideo writes a video whose keyframes carry the given labeling
// statuses. Completed frames get one scene sentence and a couple of objects,
// failed frames carry retryCount burned attempts.
func seedAggregateVideo(t *testing.T, repo *fakeRepo, statuses []entity.PhaseStatus, retryCount int) (*entity.VideoAsset, []*entity.Keyframe) {
	t.Helper()
	ctx := context.Background()

	video := entity.NewVideoAsset(uuid.New(), "rollup test", "uploads/rollup.mp4")
	video.MarkExtractionCompleted(&entity.VideoMetadata{Duration: 120})
	require.NoError(t, repo.SaveVideo(ctx, video))

	var frames []*entity.Keyframe
	for i, status := range statuses {
		f := entity.NewKeyframe(video.ID, i+1, float64((i+1)*10))
		f.PrimaryURL = fmt.Sprintf("http://storage.local/keyframes/frame_%04d.jpg", i+1)
		switch status {
		case entity.PhaseCompleted:
			f.MarkLabelCompleted(&entity.AILabels{
				Scenes:     []string{fmt.Sprintf("Frame %d shows a distinct moment.", i+1)},
				Objects:    []string{fmt.Sprintf("object-%d", i+1), "shared object"},
				Style:      []string{"handheld"},
				Mood:       []string{"upbeat"},
				Themes:     []string{"travel"},
				Confidence: map[string]float64{"objects": 0.6},
			})
		case entity.PhaseFailed:
			f.MarkLabelFailed("model timeout")
			f.RetryCount = retryCount
		}
		require.NoError(t, repo.SaveKeyframe(ctx, f))
		frames = append(frames, f)
	}
	return video, frames
}

func TestAggregateCompletesAtThreshold(t *testing.T) {
	ctx := context.Background()
	fx := newAggregateFixture(time.Second)

	// 6 of 8 labeled is exactly the 75% threshold; the two failures are ignored.
	statuses := []entity.PhaseStatus{
		entity.PhaseCompleted, entity.PhaseCompleted, entity.PhaseCompleted,
		entity.PhaseCompleted, entity.PhaseCompleted, entity.PhaseCompleted,
		entity.PhaseFailed, entity.PhaseFailed,
	}
	video, _ := seedAggregateVideo(t, fx.repo, statuses, 0)

	require.NoError(t, fx.uc.Aggregate(ctx, video.ID))

	fresh, err := fx.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PhaseCompleted, fresh.Status.AILabeling)
	assert.NotNil(t, fresh.LabeledAt)

	require.NotNil(t, fresh.AILabels)
	assert.Equal(t, "A synthesized description of the whole video.", fresh.AILabels.Description)
	assert.Contains(t, fresh.AILabels.Objects, "object-1")
	assert.Contains(t, fresh.AILabels.Objects, "object-6")
	// "shared object" appears on every frame but is merged once.
	assert.Len(t, fresh.AILabels.Objects, 7)
	assert.Equal(t, []string{"handheld"}, fresh.AILabels.Style)
	assert.Equal(t, []string{"travel"}, fresh.AILabels.Themes)
	assert.Empty(t, fresh.AILabels.Scenes)
	assert.InDelta(t, 0.6, fresh.AILabels.Confidence["objects"], 1e-9)

	// The synthesis prompt lists the completed frames' scenes in order.
	require.Len(t, fx.vision.textCalls, 1)
	assert.Contains(t, fx.vision.textCalls[0], "1. Frame 1 shows a distinct moment.")
	assert.Contains(t, fx.vision.textCalls[0], "6. Frame 6 shows a distinct moment.")

	// Failed frames are not resubmitted once the video is rolled up.
	assert.Empty(t, fx.queue.scheduled)

	require.Len(t, fx.status.msgs, 1)
	assert.Equal(t, entity.StatusPhaseLabeling, fx.status.msgs[0].Phase)
	assert.Equal(t, entity.PhaseCompleted, fx.status.msgs[0].Status)
	assert.Equal(t, 8, fx.status.msgs[0].FrameCount)
}

func TestAggregateSynthesisFallsBackToLongestScene(t *testing.T) {
	ctx := context.Background()
	fx := newAggregateFixture(time.Second)
	fx.vision.textFn = func(string) (string, error) {
		return "", errors.New("llm unavailable")
	}

	video := entity.NewVideoAsset(uuid.New(), "fallback test", "uploads/fallback.mp4")
	video.MarkExtractionCompleted(&entity.VideoMetadata{Duration: 30})
	require.NoError(t, fx.repo.SaveVideo(ctx, video))

	long := "A lingering wide shot pans across the coastline while gulls circle overhead."
	scenes := []string{"A boat departs.", long}
	for i, scene := range scenes {
		f := entity.NewKeyframe(video.ID, i+1, float64((i+1)*10))
		f.MarkLabelCompleted(&entity.AILabels{Scenes: []string{scene}})
		require.NoError(t, fx.repo.SaveKeyframe(ctx, f))
	}

	require.NoError(t, fx.uc.Aggregate(ctx, video.ID))

	fresh, err := fx.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PhaseCompleted, fresh.Status.AILabeling)
	assert.Equal(t, long, fresh.AILabels.Description)
}

func TestAggregateSchedulesRetriesWhenAllTerminal(t *testing.T) {
	ctx := context.Background()
	fx := newAggregateFixture(2 * time.Second)

	statuses := []entity.PhaseStatus{
		entity.PhaseCompleted, entity.PhaseCompleted,
		entity.PhaseFailed, entity.PhaseFailed,
	}
	video, frames := seedAggregateVideo(t, fx.repo, statuses, 0)

	require.NoError(t, fx.uc.Aggregate(ctx, video.ID))

	// Exactly one resubmission per failed frame, with the base delay.
	require.Len(t, fx.queue.scheduled, 2)
	wantIDs := map[uuid.UUID]bool{frames[2].ID: true, frames[3].ID: true}
	for _, s := range fx.queue.scheduled {
		assert.True(t, wantIDs[s.msg.KeyframeID])
		assert.Equal(t, video.ID, s.msg.VideoID)
		assert.Equal(t, 2*time.Second, s.delay)
		delete(wantIDs, s.msg.KeyframeID)
	}

	for _, id := range []uuid.UUID{frames[2].ID, frames[3].ID} {
		f, err := fx.repo.GetKeyframe(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, f.RetryCount)
		assert.Equal(t, entity.PhaseProcessing, f.LabelingStatus)
	}

	fresh, err := fx.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PhaseProcessing, fresh.Status.AILabeling)
	assert.Empty(t, fx.status.msgs)
	assert.Empty(t, fx.vision.textCalls)
}

func TestAggregateJitterWidensRetryDelay(t *testing.T) {
	ctx := context.Background()
	fx := newAggregateFixture(2 * time.Second)
	fx.uc.jitter = func() float64 { return 0.5 }

	statuses := []entity.PhaseStatus{entity.PhaseCompleted, entity.PhaseFailed}
	video, _ := seedAggregateVideo(t, fx.repo, statuses, 0)

	require.NoError(t, fx.uc.Aggregate(ctx, video.ID))

	require.Len(t, fx.queue.scheduled, 1)
	assert.Equal(t, 3*time.Second, fx.queue.scheduled[0].delay)
}

func TestAggregateFailsVideoWhenRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	fx := newAggregateFixture(time.Second)

	statuses := []entity.PhaseStatus{
		entity.PhaseCompleted, entity.PhaseCompleted,
		entity.PhaseFailed, entity.PhaseFailed,
	}
	video, _ := seedAggregateVideo(t, fx.repo, statuses, entity.MaxLabelRetries)

	require.NoError(t, fx.uc.Aggregate(ctx, video.ID))

	fresh, err := fx.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PhaseFailed, fresh.Status.AILabeling)
	assert.Equal(t, "only 2 of 4 frames labeled", fresh.ErrorMessage)
	assert.Nil(t, fresh.AILabels)

	assert.Empty(t, fx.queue.scheduled)
	require.Len(t, fx.status.msgs, 1)
	assert.Equal(t, entity.PhaseFailed, fx.status.msgs[0].Status)
	assert.Equal(t, "only 2 of 4 frames labeled", fx.status.msgs[0].ErrorMessage)
}

func TestAggregateWaitsOnInFlightFrames(t *testing.T) {
	ctx := context.Background()
	fx := newAggregateFixture(time.Second)

	statuses := []entity.PhaseStatus{
		entity.PhaseCompleted, entity.PhaseFailed,
		entity.PhaseNotStarted, entity.PhaseNotStarted,
	}
	video, _ := seedAggregateVideo(t, fx.repo, statuses, 0)

	require.NoError(t, fx.uc.Aggregate(ctx, video.ID))

	// Retries wait until every frame is terminal, even though a failed frame
	// has budget left.
	assert.Empty(t, fx.queue.scheduled)
	assert.Empty(t, fx.status.msgs)
	assert.Empty(t, fx.vision.textCalls)

	fresh, err := fx.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PhaseProcessing, fresh.Status.AILabeling)
}

func TestAggregateTerminalVideoIsNoop(t *testing.T) {
	ctx := context.Background()
	fx := newAggregateFixture(time.Second)

	statuses := []entity.PhaseStatus{entity.PhaseCompleted}
	video, _ := seedAggregateVideo(t, fx.repo, statuses, 0)

	require.NoError(t, fx.uc.Aggregate(ctx, video.ID))
	require.Len(t, fx.status.msgs, 1)
	require.Len(t, fx.vision.textCalls, 1)

	// A second trigger after completion does nothing.
	require.NoError(t, fx.uc.Aggregate(ctx, video.ID))
	assert.Len(t, fx.status.msgs, 1)
	assert.Len(t, fx.vision.textCalls, 1)
}

func TestAggregateNoFramesIsNoop(t *testing.T) {
	ctx := context.Background()
	fx := newAggregateFixture(time.Second)

	video := entity.NewVideoAsset(uuid.New(), "empty", "uploads/empty.mp4")
	video.MarkExtractionCompleted(&entity.VideoMetadata{Duration: 10})
	require.NoError(t, fx.repo.SaveVideo(ctx, video))

	require.NoError(t, fx.uc.Aggregate(ctx, video.ID))

	fresh, err := fx.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PhasePending, fresh.Status.AILabeling)
	assert.Empty(t, fx.status.msgs)
}

func TestAggregateUnknownVideoErrors(t *testing.T) {
	ctx := context.Background()
	fx := newAggregateFixture(time.Second)

	err := fx.uc.Aggregate(ctx, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load video")
}
