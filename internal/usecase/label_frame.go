package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/medialabel/medialabel-labeling-service/internal/ailabels"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/port"
	"github.com/medialabel/medialabel-labeling-service/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const labelPrompt = `Analyze this video frame and respond with a JSON object using exactly these keys:
"scene": one sentence describing what is happening in the frame,
"objects": an array of visible objects (at most 15),
"style": an array of visual style descriptors such as lighting, color palette and camera work (at most 8),
"mood": an array of emotional tone descriptors (at most 8),
"themes": an array of broader themes the frame suggests (at most 8),
"confidence": an object mapping "scene", "objects", "style", "mood" and "themes" to a confidence between 0 and 1.
Respond with the JSON object only, no surrounding text.`

// LabelFrameUseCase sends one extracted frame to the vision model and
// persists whatever labels come back. Every attempt ends by poking the
// aggregator, which decides whether the video as a whole is done.
type LabelFrameUseCase struct {
	repo       port.AssetRepository
	vision     port.VisionLabeler
	aggregator *AggregateVideoUseCase
	dlq        port.DLQPublisher
	logger     *zap.Logger
}

func NewLabelFrameUseCase(
	repo port.AssetRepository,
	vision port.VisionLabeler,
	aggregator *AggregateVideoUseCase,
	dlq port.DLQPublisher,
	logger *zap.Logger,
) *LabelFrameUseCase {
	return &LabelFrameUseCase{
		repo:       repo,
		vision:     vision,
		aggregator: aggregator,
		dlq:        dlq,
		logger:     logger,
	}
}

func (uc *LabelFrameUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "LabelFrameUseCase.Execute")
	defer span.End()

	var msg entity.LabelFrameMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("keyframe.id", msg.KeyframeID.String()),
		attribute.String("video.id", msg.VideoID.String()),
	)

	log := uc.logger.With(
		zap.String("keyframe_id", msg.KeyframeID.String()),
		zap.String("video_id", msg.VideoID.String()),
	)

	frame, err := uc.repo.GetKeyframe(ctx, msg.KeyframeID)
	if err != nil {
		if errors.Is(err, port.ErrAssetNotFound) {
			// The frame was replaced by a newer extraction; nothing to label.
			log.Warn("keyframe no longer exists, dropping message")
			_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "keyframe_not_found")
			return nil
		}
		log.Error("failed to load keyframe", zap.Error(err))
		return fmt.Errorf("load keyframe: %w", err)
	}

	if frame.LabelingStatus == entity.PhaseCompleted && !msg.Force {
		log.Info("frame already labeled, skipping")
		return nil
	}

	// A frame redelivered after burning its whole retry budget is poison;
	// park it instead of looping through the model again.
	if frame.LabelingStatus == entity.PhaseFailed && !frame.CanRetryLabel() && !msg.Force {
		log.Warn("frame label retries exhausted, sending to DLQ",
			zap.Int("retry_count", frame.RetryCount))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "label retries exhausted")
		return nil
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	// Record the in-flight state before calling out, so a crash mid-call
	// leaves an honest status behind.
	frame.MarkLabelProcessing()
	if err := uc.repo.SaveKeyframe(ctx, frame); err != nil {
		log.Error("failed to update frame to processing", zap.Error(err))
		return fmt.Errorf("update keyframe: %w", err)
	}

	callStart := time.Now()
	ctx2, spanAI := tracer.Start(ctx, "label_image")
	raw, err := uc.vision.LabelImage(ctx2, frame.PrimaryURL, labelPrompt)
	spanAI.End()
	metrics.StageDuration.WithLabelValues("label").Observe(time.Since(callStart).Seconds())

	if err != nil {
		log.Error("vision labeling failed", zap.Error(err))
		return uc.handleLabelFailure(ctx, frame, "label_image: "+err.Error(), log)
	}

	labels := ailabels.Parse(raw)

	frame.MarkLabelCompleted(labels)
	if err := uc.repo.SaveKeyframe(ctx, frame); err != nil {
		log.Error("failed to save frame labels", zap.Error(err))
		return fmt.Errorf("save keyframe labels: %w", err)
	}

	metrics.LabelCallsTotal.WithLabelValues("completed").Inc()

	log.Info("frame labeled",
		zap.Int("frame_number", frame.FrameNumber),
		zap.Int("scenes", len(labels.Scenes)),
		zap.Int("objects", len(labels.Objects)),
		zap.Int("themes", len(labels.Themes)),
	)

	uc.triggerAggregation(ctx, frame, log)
	return nil
}

// handleLabelFailure records the failed attempt and still pokes the
// aggregator, which owns the decision to retry or give up on the video.
// The error is returned afterwards so the queue sees the failed delivery.
func (uc *LabelFrameUseCase) handleLabelFailure(
	ctx context.Context,
	frame *entity.Keyframe,
	errMsg string,
	log *zap.Logger,
) error {
	frame.MarkLabelFailed(errMsg)
	if err := uc.repo.SaveKeyframe(ctx, frame); err != nil {
		log.Error("failed to persist frame failure", zap.Error(err))
	}

	metrics.LabelCallsTotal.WithLabelValues("failed").Inc()

	uc.triggerAggregation(ctx, frame, log)

	return fmt.Errorf("label frame %s: %s", frame.ID, errMsg)
}

func (uc *LabelFrameUseCase) triggerAggregation(ctx context.Context, frame *entity.Keyframe, log *zap.Logger) {
	if err := uc.aggregator.Aggregate(ctx, frame.ParentVideoID); err != nil {
		log.Error("aggregation after labeling attempt failed", zap.Error(err))
	}
}
