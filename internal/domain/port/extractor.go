package port

import (
	"context"
	"errors"

	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
)

// ErrToolchainUnavailable means ffmpeg or ffprobe is not installed on the host.
var ErrToolchainUnavailable = errors.New("video toolchain unavailable")

type FrameExtractor interface {
	// Available reports whether the extraction toolchain is usable,
	// wrapping ErrToolchainUnavailable when it is not.
	Available() error

	// Probe reads container metadata. Probe errors are fatal to a pipeline
	// run: without a duration no sampling strategy can be applied.
	Probe(ctx context.Context, videoPath string) (*entity.VideoMetadata, error)

	// ExtractFrame grabs a single JPEG at the given offset. A frame that
	// cannot be decoded at that position yields (nil, nil) so callers skip
	// it without failing the batch.
	ExtractFrame(ctx context.Context, videoPath string, seconds float64) ([]byte, error)
}

// SceneDetector finds visually distinct timestamps. Implementations never
// fail: when detection is unusable they fall back to adaptive sampling.
type SceneDetector interface {
	DetectTimestamps(ctx context.Context, videoPath string, duration float64, targetFrames int) []float64
}
