package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/port"
	"github.com/medialabel/medialabel-labeling-service/internal/framestats"
	"github.com/medialabel/medialabel-labeling-service/internal/infra/metrics"
	"github.com/medialabel/medialabel-labeling-service/internal/sampling"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ExtractKeyframesUseCase downloads a video, samples frames along its
// timeline, filters near-duplicates and low-quality grabs, uploads the
// survivors and hands each one to the labeling queue.
type ExtractKeyframesUseCase struct {
	repo       port.AssetRepository
	storage    port.MediaStorage
	extractor  port.FrameExtractor
	detector   port.SceneDetector
	labelQueue port.LabelQueue
	publisher  port.StatusPublisher
	dlq        port.DLQPublisher
	notifier   port.FailureNotifier
	logger     *zap.Logger
	cfg        ExtractKeyframesConfig
}

type ExtractKeyframesConfig struct {
	TempDir    string
	MaxRetries int

	// Strategy and TargetFrames override the duration-based defaults for
	// every video; the per-message values override both. Empty and zero
	// mean "choose by duration".
	Strategy     string
	TargetFrames int

	SkipSimilarFrames   bool
	SimilarityThreshold float64
	QualityThreshold    int // 0 disables the quality gate
}

func NewExtractKeyframesUseCase(
	repo port.AssetRepository,
	storage port.MediaStorage,
	extractor port.FrameExtractor,
	detector port.SceneDetector,
	labelQueue port.LabelQueue,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ExtractKeyframesConfig,
) *ExtractKeyframesUseCase {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = framestats.DefaultSimilarityThreshold
	}
	return &ExtractKeyframesUseCase{
		repo:       repo,
		storage:    storage,
		extractor:  extractor,
		detector:   detector,
		labelQueue: labelQueue,
		publisher:  publisher,
		dlq:        dlq,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

func (uc *ExtractKeyframesUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ExtractKeyframesUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.ExtractKeyframesMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("video.id", msg.VideoID.String()),
		attribute.String("video.key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("video_id", msg.VideoID.String()), zap.String("video_key", msg.VideoKey))

	video, err := uc.repo.GetVideo(ctx, msg.VideoID)
	if err != nil {
		video = entity.NewVideoAsset(msg.VideoID, msg.Title, msg.VideoKey)
		if err := uc.repo.SaveVideo(ctx, video); err != nil {
			log.Error("failed to create video record", zap.Error(err))
			return fmt.Errorf("create video: %w", err)
		}
	}

	if video.Status.KeyframeExtraction == entity.PhaseCompleted && len(video.Keyframes) > 0 && !msg.Force {
		log.Info("keyframes already extracted, skipping",
			zap.Int("frame_count", len(video.Keyframes)))
		return nil
	}

	if err := uc.extractor.Available(); err != nil {
		log.Error("video toolchain unavailable", zap.Error(err))
		_ = uc.handlePermanentFailure(ctx, video, msg, rawMsg, "toolchain: "+err.Error())
		return nil
	}

	if !video.CanRetryExtraction(uc.cfg.MaxRetries) {
		log.Warn("extraction exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, video, msg, rawMsg, "max retries exceeded")
		return nil
	}

	video.MarkExtractionProcessing()
	if err := uc.repo.SaveVideo(ctx, video); err != nil {
		log.Error("failed to update video to processing", zap.Error(err))
		return fmt.Errorf("update video: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.runPipeline(ctx, video, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.ExtractionsTotal.WithLabelValues("completed").Inc()
	metrics.StageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *ExtractKeyframesUseCase) runPipeline(
	ctx context.Context,
	video *entity.VideoAsset,
	msg entity.ExtractKeyframesMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, video.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download video from object storage
	dlStart := time.Now()
	ctx2, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "input.mp4")
	if err := uc.storage.DownloadVideo(ctx2, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, video, msg, rawMsg, "download_video: "+err.Error(), log)
	}
	spanDl.End()
	metrics.StageDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	// Probe container metadata. Without a duration no sampling strategy
	// can run, so a probe failure fails the whole attempt.
	prStart := time.Now()
	ctx3, spanPr := tracer.Start(ctx, "probe_metadata")
	meta, err := uc.extractor.Probe(ctx3, videoPath)
	spanPr.End()
	if err != nil {
		log.Error("failed to probe video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, video, msg, rawMsg, "probe_metadata: "+err.Error(), log)
	}
	metrics.StageDuration.WithLabelValues("probe").Observe(time.Since(prStart).Seconds())

	strategy, target := uc.resolvePlan(msg, meta.Duration)
	timestamps := uc.planTimestamps(ctx, strategy, target, videoPath, meta.Duration)

	log.Info("sampling plan resolved",
		zap.String("strategy", string(strategy)),
		zap.Int("target_frames", target),
		zap.Float64("duration_secs", meta.Duration),
		zap.Int("timestamps", len(timestamps)),
	)

	// Extract and filter frames sequentially; similarity is judged against
	// frames already accepted in this run.
	exStart := time.Now()
	ctx4, spanEx := tracer.Start(ctx, "extract_frames")
	frames, frameData := uc.extractAndFilter(ctx4, videoPath, timestamps, video.ID, log)
	spanEx.End()
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(exStart).Seconds())

	if len(frames) == 0 {
		log.Error("no usable frames extracted", zap.Int("candidates", len(timestamps)))
		return uc.handleRetryableFailure(ctx, video, msg, rawMsg, "extract_frames: no usable frames", log)
	}

	// Upload accepted frames. Object keys are derived from the frame
	// number, so a requeued run overwrites rather than piling up copies.
	upStart := time.Now()
	ctx5, spanUp := tracer.Start(ctx, "upload_frames")
	for i, frame := range frames {
		key := fmt.Sprintf("%s/frames/frame_%04d.jpg", video.ID, frame.FrameNumber)
		data := frameData[i]
		res, err := uc.storage.UploadFrame(ctx5, key, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			spanUp.End()
			log.Error("frame upload failed", zap.String("frame_key", key), zap.Error(err))
			return uc.handleRetryableFailure(ctx, video, msg, rawMsg, "upload_frame: "+err.Error(), log)
		}
		frame.FrameKey = res.Key
		frame.PrimaryURL = res.PrimaryURL
		frame.MirrorURL = res.MirrorURL
	}
	spanUp.End()
	metrics.StageDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	// Replace any keyframes from an earlier run, then persist the new list.
	if err := uc.repo.DeleteKeyframes(ctx, video.ID); err != nil {
		log.Error("failed to clear previous keyframes", zap.Error(err))
		return uc.handleRetryableFailure(ctx, video, msg, rawMsg, "clear_keyframes: "+err.Error(), log)
	}
	for _, frame := range frames {
		if err := uc.repo.SaveKeyframe(ctx, frame); err != nil {
			log.Error("failed to save keyframe", zap.Int("frame_number", frame.FrameNumber), zap.Error(err))
			return uc.handleRetryableFailure(ctx, video, msg, rawMsg, "save_keyframe: "+err.Error(), log)
		}
	}

	video.MarkExtractionCompleted(meta)
	video.Keyframes = frames
	if err := uc.repo.SaveVideo(ctx, video); err != nil {
		log.Error("failed to update video to completed", zap.Error(err))
		return fmt.Errorf("update video completed: %w", err)
	}

	metrics.FramesExtractedTotal.Add(float64(len(frames)))

	// Labeling is fire-and-forget: a queue hiccup here must not undo a
	// successful extraction.
	for _, frame := range frames {
		labelMsg := entity.LabelFrameMessage{KeyframeID: frame.ID, VideoID: video.ID}
		if err := uc.labelQueue.EnqueueLabel(ctx, labelMsg); err != nil {
			log.Error("failed to enqueue frame for labeling",
				zap.String("keyframe_id", frame.ID.String()), zap.Error(err))
		}
	}

	uc.publishStatus(ctx, video, len(frames), log)

	log.Info("keyframe extraction completed",
		zap.Int("frame_count", len(frames)),
		zap.Float64("duration_secs", meta.Duration),
		zap.String("strategy", string(strategy)),
	)

	return nil
}

// resolvePlan layers overrides onto the duration-based defaults: service
// config first, then per-message values, with the frame count held to 2..20.
func (uc *ExtractKeyframesUseCase) resolvePlan(msg entity.ExtractKeyframesMessage, duration float64) (sampling.Strategy, int) {
	strategy, target := sampling.DefaultPlan(duration)

	if uc.cfg.Strategy != "" {
		strategy = sampling.Strategy(uc.cfg.Strategy)
	}
	if uc.cfg.TargetFrames > 0 {
		target = uc.cfg.TargetFrames
	}
	if msg.Strategy != "" {
		strategy = sampling.Strategy(msg.Strategy)
	}
	if msg.TargetFrames > 0 {
		target = msg.TargetFrames
	}

	if target < 2 {
		target = 2
	}
	if target > 20 {
		target = 20
	}
	return strategy, target
}

// planTimestamps turns a strategy into concrete offsets. Unknown strategy
// names get adaptive spacing, same as the scene detector's own fallback.
func (uc *ExtractKeyframesUseCase) planTimestamps(
	ctx context.Context,
	strategy sampling.Strategy,
	target int,
	videoPath string,
	duration float64,
) []float64 {
	switch strategy {
	case sampling.StrategySceneChange:
		return uc.detector.DetectTimestamps(ctx, videoPath, duration, target)
	case sampling.StrategyUniform:
		return sampling.Uniform(duration, target)
	default:
		return sampling.Adaptive(duration, target)
	}
}

func (uc *ExtractKeyframesUseCase) extractAndFilter(
	ctx context.Context,
	videoPath string,
	timestamps []float64,
	videoID uuid.UUID,
	log *zap.Logger,
) ([]*entity.Keyframe, [][]byte) {
	var (
		frames        []*entity.Keyframe
		frameData     [][]byte
		acceptedStats []*framestats.Stats
	)

	for _, ts := range timestamps {
		data, err := uc.extractor.ExtractFrame(ctx, videoPath, ts)
		if err != nil || data == nil {
			if err != nil {
				log.Warn("frame extraction error, skipping", zap.Float64("seconds", ts), zap.Error(err))
			}
			metrics.FramesSkippedTotal.WithLabelValues("extract_failed").Inc()
			continue
		}

		// Measurement failure leaves stats nil; the filters treat such a
		// frame as unique and full quality rather than dropping it blind.
		stats, statErr := framestats.Compute(data)
		if statErr != nil {
			log.Warn("frame measurement failed", zap.Float64("seconds", ts), zap.Error(statErr))
			stats = nil
		}

		if uc.cfg.SkipSimilarFrames && framestats.IsSimilar(stats, acceptedStats, uc.cfg.SimilarityThreshold) {
			log.Debug("skipping near-duplicate frame", zap.Float64("seconds", ts))
			metrics.FramesSkippedTotal.WithLabelValues("similar").Inc()
			continue
		}

		quality := framestats.QualityScore(stats)
		if uc.cfg.QualityThreshold > 0 && quality < uc.cfg.QualityThreshold {
			log.Debug("skipping low-quality frame",
				zap.Float64("seconds", ts), zap.Int("quality", quality))
			metrics.FramesSkippedTotal.WithLabelValues("low_quality").Inc()
			continue
		}

		frame := entity.NewKeyframe(videoID, len(frames)+1, ts)
		frame.QualityScore = quality
		frame.Resolution = stats.Resolution()

		frames = append(frames, frame)
		frameData = append(frameData, data)
		acceptedStats = append(acceptedStats, stats)
	}

	return frames, frameData
}

func (uc *ExtractKeyframesUseCase) handleRetryableFailure(
	ctx context.Context,
	video *entity.VideoAsset,
	msg entity.ExtractKeyframesMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	video.MarkExtractionFailed(errMsg)
	_ = uc.repo.SaveVideo(ctx, video)

	if !video.CanRetryExtraction(uc.cfg.MaxRetries) {
		return uc.handlePermanentFailure(ctx, video, msg, rawMsg, errMsg)
	}

	metrics.ExtractionsTotal.WithLabelValues("retried").Inc()
	uc.publishStatus(ctx, video, 0, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", video.ExtractAttempts, uc.cfg.MaxRetries, errMsg)
}

func (uc *ExtractKeyframesUseCase) handlePermanentFailure(
	ctx context.Context,
	video *entity.VideoAsset,
	msg entity.ExtractKeyframesMessage,
	rawMsg []byte,
	errMsg string,
) error {
	video.MarkExtractionFailed(errMsg)
	_ = uc.repo.SaveVideo(ctx, video)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, video, 0, uc.logger)

	metrics.ExtractionsTotal.WithLabelValues("dlq").Inc()

	if msg.NotifyEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.NotifyEmail, video.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *ExtractKeyframesUseCase) publishStatus(ctx context.Context, video *entity.VideoAsset, frameCount int, log *zap.Logger) {
	statusMsg := entity.PhaseStatusMessage{
		VideoID:      video.ID,
		Phase:        entity.StatusPhaseExtraction,
		Status:       video.Status.KeyframeExtraction,
		FrameCount:   frameCount,
		ErrorMessage: video.ErrorMessage,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
