package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/medialabel/medialabel-labeling-service/internal/sampling"
	"go.uber.org/zap"
)

var ptsTimeRegex = regexp.MustCompile(`pts_time:([0-9.]+)`)

// Detector finds scene boundaries through ffmpeg's scene filter. It never
// returns an error: whenever detection is unusable it degrades to the
// adaptive sampling plan, so a noisy encode can't fail a pipeline run.
type Detector struct {
	threshold float64
	timeout   time.Duration
	logger    *zap.Logger
}

func NewDetector(threshold float64, timeout time.Duration, logger *zap.Logger) *Detector {
	return &Detector{threshold: threshold, timeout: timeout, logger: logger}
}

func (d *Detector) DetectTimestamps(ctx context.Context, videoPath string, duration float64, targetFrames int) []float64 {
	if targetFrames <= 0 {
		return nil
	}

	stamps, err := d.sceneTimestamps(ctx, videoPath)
	if err != nil {
		d.logger.Warn("scene detection failed, using adaptive sampling",
			zap.String("video_path", videoPath),
			zap.Error(err),
		)
		return sampling.Adaptive(duration, targetFrames)
	}
	if len(stamps) < targetFrames {
		d.logger.Info("too few scene changes, using adaptive sampling",
			zap.Int("detected", len(stamps)),
			zap.Int("target", targetFrames),
		)
		return sampling.Adaptive(duration, targetFrames)
	}

	return spreadPicks(stamps, targetFrames)
}

// spreadPicks takes target entries spread across all detected boundaries
// instead of just the first N, so the picks cover the whole timeline.
func spreadPicks(stamps []float64, target int) []float64 {
	stride := len(stamps) / target
	out := make([]float64, 0, target)
	for i := 0; i < len(stamps) && len(out) < target; i += stride {
		out = append(out, stamps[i])
	}
	return out
}

func (d *Detector) sceneTimestamps(ctx context.Context, videoPath string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := []string{
		"-i", videoPath,
		"-vf", fmt.Sprintf("select=gt(scene\\,%.2f),metadata=print:file=-", d.threshold),
		"-f", "null",
		"-",
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("scene filter: %w, output: %s", err, string(output))
	}

	return parseSceneTimes(output), nil
}

func parseSceneTimes(output []byte) []float64 {
	matches := ptsTimeRegex.FindAllSubmatch(output, -1)
	stamps := make([]float64, 0, len(matches))
	for _, m := range matches {
		ts, err := strconv.ParseFloat(string(m[1]), 64)
		if err != nil {
			continue
		}
		stamps = append(stamps, ts)
	}
	return stamps
}
