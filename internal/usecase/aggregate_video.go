package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medialabel/medialabel-labeling-service/internal/ailabels"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/port"
	"github.com/medialabel/medialabel-labeling-service/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// minCompletionRatio is the share of keyframes that must be labeled before
// the video-level labels are rolled up. Deliberately below 1.0: one stubborn
// frame should not hold the whole video hostage.
const minCompletionRatio = 0.75

const synthesisPrompt = `These are descriptions of frames sampled from one video, in temporal order. Write a single cohesive description of the whole video as a narrative: how it opens, how it progresses, and how it ends. Mention transitions and pacing where they are evident. Respond with the description only, no preamble.

`

// AggregateVideoUseCase rolls per-frame labels up to the video once enough
// frames are labeled, and schedules delayed retries for failed frames while
// the video can still get there. It runs after every labeling attempt and is
// idempotent: videos already in a terminal labeling state are left alone.
type AggregateVideoUseCase struct {
	repo       port.AssetRepository
	vision     port.VisionLabeler
	labelQueue port.LabelQueue
	publisher  port.StatusPublisher
	logger     *zap.Logger
	retryDelay time.Duration
	jitter     func() float64
}

type AggregateVideoConfig struct {
	RetryDelay time.Duration
}

func NewAggregateVideoUseCase(
	repo port.AssetRepository,
	vision port.VisionLabeler,
	labelQueue port.LabelQueue,
	publisher port.StatusPublisher,
	logger *zap.Logger,
	cfg AggregateVideoConfig,
) *AggregateVideoUseCase {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &AggregateVideoUseCase{
		repo:       repo,
		vision:     vision,
		labelQueue: labelQueue,
		publisher:  publisher,
		logger:     logger,
		retryDelay: cfg.RetryDelay,
		jitter:     rand.Float64,
	}
}

func (uc *AggregateVideoUseCase) Aggregate(ctx context.Context, videoID uuid.UUID) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "AggregateVideoUseCase.Aggregate")
	defer span.End()
	span.SetAttributes(attribute.String("video.id", videoID.String()))

	log := uc.logger.With(zap.String("video_id", videoID.String()))

	// Always judge a fresh read; the triggering labeler's copy is stale by
	// the time concurrent workers have finished their own frames.
	video, err := uc.repo.GetVideo(ctx, videoID)
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}

	if video.Status.AILabeling.Terminal() {
		return nil
	}

	total := len(video.Keyframes)
	if total == 0 {
		return nil
	}

	var completed, failed int
	var retryable []*entity.Keyframe
	for _, frame := range video.Keyframes {
		switch frame.LabelingStatus {
		case entity.PhaseCompleted:
			completed++
		case entity.PhaseFailed:
			failed++
			if frame.CanRetryLabel() {
				retryable = append(retryable, frame)
			}
		}
	}
	ratio := float64(completed) / float64(total)

	span.SetAttributes(
		attribute.Int("frames.total", total),
		attribute.Int("frames.completed", completed),
		attribute.Int("frames.failed", failed),
	)

	if ratio >= minCompletionRatio {
		return uc.completeVideo(ctx, video, completed, total, log)
	}

	// Below the threshold with frames still in flight: record that labeling
	// is underway and wait for the next trigger.
	if completed+failed < total {
		if video.Status.AILabeling != entity.PhaseProcessing {
			video.MarkLabelingProcessing()
			if err := uc.repo.SaveVideo(ctx, video); err != nil {
				return fmt.Errorf("update video: %w", err)
			}
		}
		metrics.AggregationsTotal.WithLabelValues("waiting").Inc()
		return nil
	}

	// Every frame is terminal and the threshold was missed. Resubmit failed
	// frames that still have retry budget; without any, the video is done for.
	if len(retryable) > 0 {
		return uc.scheduleRetries(ctx, video, retryable, log)
	}

	video.MarkLabelingFailed(fmt.Sprintf("only %d of %d frames labeled", completed, total))
	if err := uc.repo.SaveVideo(ctx, video); err != nil {
		return fmt.Errorf("update video failed: %w", err)
	}
	metrics.AggregationsTotal.WithLabelValues("failed").Inc()
	uc.publishStatus(ctx, video, total, log)

	log.Warn("video labeling failed, retries exhausted",
		zap.Int("completed", completed), zap.Int("total", total))
	return nil
}

func (uc *AggregateVideoUseCase) completeVideo(
	ctx context.Context,
	video *entity.VideoAsset,
	completed, total int,
	log *zap.Logger,
) error {
	var sets []*entity.AILabels
	var scenes []string
	for _, frame := range video.Keyframes {
		if frame.LabelingStatus != entity.PhaseCompleted || frame.AILabels == nil {
			continue
		}
		sets = append(sets, frame.AILabels)
		scenes = append(scenes, frame.AILabels.Scenes...)
	}

	labels := ailabels.Merge(sets)

	desc, err := uc.synthesizeDescription(ctx, scenes)
	if err != nil || desc == "" {
		if err != nil {
			log.Warn("description synthesis failed, falling back to longest scene", zap.Error(err))
		}
		desc = longestString(scenes)
	}
	labels.Description = desc

	video.MarkLabelingCompleted(labels)
	if err := uc.repo.SaveVideo(ctx, video); err != nil {
		return fmt.Errorf("update video completed: %w", err)
	}

	metrics.AggregationsTotal.WithLabelValues("completed").Inc()
	uc.publishStatus(ctx, video, total, log)

	log.Info("video labels aggregated",
		zap.Int("completed", completed),
		zap.Int("total", total),
		zap.Int("objects", len(labels.Objects)),
		zap.Int("themes", len(labels.Themes)),
	)
	return nil
}

func (uc *AggregateVideoUseCase) scheduleRetries(
	ctx context.Context,
	video *entity.VideoAsset,
	retryable []*entity.Keyframe,
	log *zap.Logger,
) error {
	for _, frame := range retryable {
		frame.ScheduleRetry()
		if err := uc.repo.SaveKeyframe(ctx, frame); err != nil {
			// Without the incremented count on record the retry ledger
			// would drift, so this frame sits out the round.
			log.Error("failed to record frame retry",
				zap.String("keyframe_id", frame.ID.String()), zap.Error(err))
			continue
		}

		delay := uc.retryDelay + time.Duration(uc.jitter()*float64(uc.retryDelay))
		msg := entity.LabelFrameMessage{KeyframeID: frame.ID, VideoID: video.ID}
		if err := uc.labelQueue.ScheduleRetry(ctx, msg, delay); err != nil {
			log.Error("failed to schedule frame retry",
				zap.String("keyframe_id", frame.ID.String()), zap.Error(err))
			continue
		}

		metrics.LabelRetriesTotal.WithLabelValues(strconv.Itoa(frame.RetryCount)).Inc()
		log.Info("frame labeling retry scheduled",
			zap.String("keyframe_id", frame.ID.String()),
			zap.Int("retry_count", frame.RetryCount),
			zap.Duration("delay", delay),
		)
	}

	if video.Status.AILabeling != entity.PhaseProcessing {
		video.MarkLabelingProcessing()
		if err := uc.repo.SaveVideo(ctx, video); err != nil {
			return fmt.Errorf("update video: %w", err)
		}
	}
	metrics.AggregationsTotal.WithLabelValues("retried").Inc()
	return nil
}

func (uc *AggregateVideoUseCase) synthesizeDescription(ctx context.Context, scenes []string) (string, error) {
	if len(scenes) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString(synthesisPrompt)
	for i, scene := range scenes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, scene)
	}

	tracer := otel.Tracer("usecase")
	ctx2, span := tracer.Start(ctx, "synthesize_description")
	text, err := uc.vision.GenerateText(ctx2, b.String())
	span.End()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (uc *AggregateVideoUseCase) publishStatus(ctx context.Context, video *entity.VideoAsset, frameCount int, log *zap.Logger) {
	statusMsg := entity.PhaseStatusMessage{
		VideoID:      video.ID,
		Phase:        entity.StatusPhaseLabeling,
		Status:       video.Status.AILabeling,
		FrameCount:   frameCount,
		ErrorMessage: video.ErrorMessage,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}

func longestString(values []string) string {
	var out string
	for _, v := range values {
		if len(v) > len(out) {
			out = v
		}
	}
	return out
}
