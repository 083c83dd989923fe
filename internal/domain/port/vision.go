package port

import "context"

// VisionLabeler is the AI surface the pipeline depends on. LabelImage sends a
// publicly reachable image URL with a prompt and returns the raw model text;
// GenerateText is a plain completion used for narrative synthesis.
type VisionLabeler interface {
	LabelImage(ctx context.Context, imageURL string, prompt string) (string, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
}
