package entity

import "github.com/google/uuid"

// ExtractKeyframesMessage is the inbound message from the keyframes.extract queue.
type ExtractKeyframesMessage struct {
	VideoID      uuid.UUID `json:"video_id"`
	Title        string    `json:"title,omitempty"`
	VideoKey     string    `json:"video_key"`
	Strategy     string    `json:"strategy,omitempty"`
	TargetFrames int       `json:"target_frames,omitempty"`
	Force        bool      `json:"force,omitempty"`
	NotifyEmail  string    `json:"notify_email,omitempty"`
}

// LabelFrameMessage is the inbound message from the frames.label queue.
type LabelFrameMessage struct {
	KeyframeID uuid.UUID `json:"keyframe_id"`
	VideoID    uuid.UUID `json:"video_id"`
	Force      bool      `json:"force,omitempty"`
}

// Phase names carried by status messages.
const (
	StatusPhaseExtraction = "keyframe_extraction"
	StatusPhaseLabeling   = "ai_labeling"
)

// PhaseStatusMessage is the outbound message published to the video.status queue.
type PhaseStatusMessage struct {
	VideoID      uuid.UUID   `json:"video_id"`
	Phase        string      `json:"phase"`
	Status       PhaseStatus `json:"status"`
	FrameCount   int         `json:"frame_count,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}
