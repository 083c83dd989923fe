package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/port"
	"go.uber.org/zap"
)

const jpegQuality = 85

type Extractor struct {
	maxWidth  int
	maxHeight int
	timeout   time.Duration
	tempDir   string
	logger    *zap.Logger
}

func NewExtractor(maxWidth, maxHeight int, timeout time.Duration, tempDir string, logger *zap.Logger) *Extractor {
	return &Extractor{
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		timeout:   timeout,
		tempDir:   tempDir,
		logger:    logger,
	}
}

func (e *Extractor) Available() error {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s not found in PATH", port.ErrToolchainUnavailable, bin)
		}
	}
	return nil
}

type ffprobeOutput struct {
	Streams []struct {
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Format   string `json:"format_name"`
	} `json:"format"`
}

func (e *Extractor) Probe(ctx context.Context, videoPath string) (*entity.VideoMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	meta, err := parseProbe(output)
	if err != nil {
		return nil, err
	}
	if stat, err := os.Stat(videoPath); err == nil {
		meta.FileSize = stat.Size()
	}
	return meta, nil
}

func parseProbe(output []byte) (*entity.VideoMetadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	meta := &entity.VideoMetadata{Format: probe.Format.Format}
	if probe.Format.Duration != "" {
		duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
		}
		meta.Duration = duration
	}
	for _, stream := range probe.Streams {
		if stream.CodecType == "video" {
			meta.Width = stream.Width
			meta.Height = stream.Height
			break
		}
	}
	return meta, nil
}

// ExtractFrame grabs one JPEG at the given offset, scaled to fit the
// configured bounds without ever upscaling. A frame ffmpeg cannot decode at
// that position is reported as (nil, nil): the caller skips it and moves on.
func (e *Extractor) ExtractFrame(ctx context.Context, videoPath string, seconds float64) ([]byte, error) {
	tmp, err := os.CreateTemp(e.tempDir, "frame_*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create temp frame file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{
		"-ss", fmt.Sprintf("%.2f", seconds),
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", e.maxWidth, e.maxHeight),
		"-q:v", "2",
		"-f", "mjpeg",
		"-y",
		tmpPath,
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		e.logger.Warn("frame extraction failed",
			zap.Float64("timestamp", seconds),
			zap.Error(err),
			zap.String("stderr", stderr.String()),
		)
		return nil, nil
	}

	file, err := os.Open(tmpPath)
	if err != nil {
		return nil, nil
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		e.logger.Warn("extracted frame did not decode", zap.Float64("timestamp", seconds), zap.Error(err))
		return nil, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
