package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not_started"
	PhasePending    PhaseStatus = "pending"
	PhaseProcessing PhaseStatus = "processing"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// Terminal reports whether the phase can no longer move forward.
func (s PhaseStatus) Terminal() bool {
	return s == PhaseCompleted || s == PhaseFailed
}

// MaxLabelRetries bounds how often a failed frame labeling is rescheduled.
const MaxLabelRetries = 3

type VideoMetadata struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Format   string  `json:"format,omitempty"`
	FileSize int64   `json:"file_size,omitempty"`
}

type AILabels struct {
	Scenes      []string           `json:"scenes"`
	Objects     []string           `json:"objects"`
	Style       []string           `json:"style"`
	Mood        []string           `json:"mood"`
	Themes      []string           `json:"themes"`
	Confidence  map[string]float64 `json:"confidence_scores,omitempty"`
	Description string             `json:"description,omitempty"`
}

type ProcessingStatus struct {
	Upload             PhaseStatus `json:"upload"`
	KeyframeExtraction PhaseStatus `json:"keyframe_extraction"`
	AILabeling         PhaseStatus `json:"ai_labeling"`
}

type VideoAsset struct {
	ID           uuid.UUID        `json:"id"`
	Title        string           `json:"title"`
	VideoKey     string           `json:"video_key"`
	PrimaryURL   string           `json:"primary_url,omitempty"`
	MirrorURL    string           `json:"mirror_url,omitempty"`
	Metadata     *VideoMetadata   `json:"metadata,omitempty"`
	AILabels     *AILabels        `json:"ai_labels,omitempty"`
	Status       ProcessingStatus `json:"processing_status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	// ExtractAttempts counts deliveries of the extraction message, so a
	// crashed worker does not requeue the same video forever.
	ExtractAttempts int        `json:"extract_attempts,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ExtractedAt     *time.Time `json:"extracted_at,omitempty"`
	LabeledAt       *time.Time `json:"labeled_at,omitempty"`

	// Keyframes is always loaded fresh from its own table, never stored
	// inside the video document.
	Keyframes []*Keyframe `json:"-"`
}

func NewVideoAsset(id uuid.UUID, title, videoKey string) *VideoAsset {
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	return &VideoAsset{
		ID:       id,
		Title:    title,
		VideoKey: videoKey,
		Status: ProcessingStatus{
			Upload:             PhaseCompleted,
			KeyframeExtraction: PhasePending,
			AILabeling:         PhaseNotStarted,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (v *VideoAsset) MarkExtractionProcessing() {
	v.Status.KeyframeExtraction = PhaseProcessing
	v.ExtractAttempts++
	v.UpdatedAt = time.Now().UTC()
}

func (v *VideoAsset) CanRetryExtraction(maxAttempts int) bool {
	return v.ExtractAttempts < maxAttempts
}

func (v *VideoAsset) MarkExtractionCompleted(meta *VideoMetadata) {
	now := time.Now().UTC()
	v.Status.KeyframeExtraction = PhaseCompleted
	v.Status.AILabeling = PhasePending
	v.Metadata = meta
	v.ErrorMessage = ""
	v.UpdatedAt = now
	v.ExtractedAt = &now
}

func (v *VideoAsset) MarkExtractionFailed(errMsg string) {
	v.Status.KeyframeExtraction = PhaseFailed
	v.ErrorMessage = errMsg
	v.UpdatedAt = time.Now().UTC()
}

func (v *VideoAsset) MarkLabelingProcessing() {
	v.Status.AILabeling = PhaseProcessing
	v.UpdatedAt = time.Now().UTC()
}

func (v *VideoAsset) MarkLabelingCompleted(labels *AILabels) {
	now := time.Now().UTC()
	v.Status.AILabeling = PhaseCompleted
	v.AILabels = labels
	v.ErrorMessage = ""
	v.UpdatedAt = now
	v.LabeledAt = &now
}

func (v *VideoAsset) MarkLabelingFailed(errMsg string) {
	v.Status.AILabeling = PhaseFailed
	v.ErrorMessage = errMsg
	v.UpdatedAt = time.Now().UTC()
}

type Keyframe struct {
	ID             uuid.UUID   `json:"id"`
	ParentVideoID  uuid.UUID   `json:"parent_video_id"`
	FrameNumber    int         `json:"frame_number"`
	Timestamp      string      `json:"timestamp"`
	Seconds        float64     `json:"seconds"`
	FrameKey       string      `json:"frame_key,omitempty"`
	PrimaryURL     string      `json:"primary_url,omitempty"`
	MirrorURL      string      `json:"mirror_url,omitempty"`
	QualityScore   int         `json:"quality_score"`
	Resolution     string      `json:"resolution,omitempty"`
	LabelingStatus PhaseStatus `json:"labeling_status"`
	RetryCount     int         `json:"retry_count"`
	AILabels       *AILabels   `json:"ai_labels,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	LabeledAt      *time.Time  `json:"labeled_at,omitempty"`
}

func NewKeyframe(parentVideoID uuid.UUID, frameNumber int, seconds float64) *Keyframe {
	now := time.Now().UTC()
	return &Keyframe{
		ID:             uuid.New(),
		ParentVideoID:  parentVideoID,
		FrameNumber:    frameNumber,
		Timestamp:      FormatTimestamp(seconds),
		Seconds:        seconds,
		LabelingStatus: PhaseNotStarted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (k *Keyframe) MarkLabelProcessing() {
	k.LabelingStatus = PhaseProcessing
	k.UpdatedAt = time.Now().UTC()
}

func (k *Keyframe) MarkLabelCompleted(labels *AILabels) {
	now := time.Now().UTC()
	k.LabelingStatus = PhaseCompleted
	k.AILabels = labels
	k.ErrorMessage = ""
	k.UpdatedAt = now
	k.LabeledAt = &now
}

func (k *Keyframe) MarkLabelFailed(errMsg string) {
	k.LabelingStatus = PhaseFailed
	k.ErrorMessage = errMsg
	k.UpdatedAt = time.Now().UTC()
}

func (k *Keyframe) CanRetryLabel() bool {
	return k.RetryCount < MaxLabelRetries
}

// ScheduleRetry moves a failed frame back to processing and burns one retry.
func (k *Keyframe) ScheduleRetry() {
	k.RetryCount++
	k.LabelingStatus = PhaseProcessing
	k.UpdatedAt = time.Now().UTC()
}

// FormatTimestamp renders seconds as MM:SS, or H:MM:SS from one hour up.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
