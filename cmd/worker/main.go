package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medialabel/medialabel-labeling-service/internal/infra/config"
	"github.com/medialabel/medialabel-labeling-service/internal/infra/email"
	"github.com/medialabel/medialabel-labeling-service/internal/infra/ffmpeg"
	"github.com/medialabel/medialabel-labeling-service/internal/infra/metrics"
	miniostorage "github.com/medialabel/medialabel-labeling-service/internal/infra/minio"
	openaiclient "github.com/medialabel/medialabel-labeling-service/internal/infra/openai"
	"github.com/medialabel/medialabel-labeling-service/internal/infra/postgres"
	"github.com/medialabel/medialabel-labeling-service/internal/infra/rabbitmq"
	"github.com/medialabel/medialabel-labeling-service/internal/infra/tracing"
	"github.com/medialabel/medialabel-labeling-service/internal/usecase"
	"github.com/medialabel/medialabel-labeling-service/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting medialabel-labeling-service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// Migrations
	err = postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir)
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// Object storage
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		VideoBucket:   cfg.MinIOVideoBucket,
		FrameBucket:   cfg.MinIOFrameBucket,
		PublicBaseURL: cfg.StoragePublicURL,
		MirrorBaseURL: cfg.StorageMirrorURL,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub, cfg.RabbitMQStatusRoutingKey)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	labelPub, err := rabbitmq.NewLabelPublisher(pub, cfg.RabbitMQLabelQueue, cfg.RabbitMQLabelWaitQueue)
	fatalOnErr(err, "create label publisher")

	// Infra adapters
	repo := postgres.NewAssetRepository(pool)
	ffmpegTimeout := time.Duration(cfg.FFmpegTimeoutSec) * time.Second
	extractor := ffmpeg.NewExtractor(cfg.FrameMaxWidth, cfg.FrameMaxHeight, ffmpegTimeout, cfg.TempDir, log)
	detector := ffmpeg.NewDetector(cfg.SceneThreshold, ffmpegTimeout, log)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	vision, err := openaiclient.NewClient(openaiclient.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		VisionModel: cfg.VisionModel,
		TextModel:   cfg.TextModel,
		MaxTokens:   cfg.OpenAIMaxTokens,
		Timeout:     time.Duration(cfg.OpenAITimeoutSec) * time.Second,
	}, log)
	fatalOnErr(err, "create vision client")

	// Use cases
	aggregateUC := usecase.NewAggregateVideoUseCase(
		repo, vision, labelPub, statusPub,
		log,
		usecase.AggregateVideoConfig{
			RetryDelay: time.Duration(cfg.LabelRetryDelayMs) * time.Millisecond,
		},
	)

	labelUC := usecase.NewLabelFrameUseCase(repo, vision, aggregateUC, dlqPub, log)

	extractUC := usecase.NewExtractKeyframesUseCase(
		repo, storage, extractor, detector,
		labelPub, statusPub, dlqPub, notifier,
		log,
		usecase.ExtractKeyframesConfig{
			TempDir:             cfg.TempDir,
			MaxRetries:          cfg.MaxRetries,
			Strategy:            cfg.ExtractStrategy,
			TargetFrames:        cfg.TargetFrames,
			SkipSimilarFrames:   cfg.SkipSimilarFrames,
			SimilarityThreshold: cfg.SimilarityThreshold,
			QualityThreshold:    cfg.QualityThreshold,
		},
	)

	// Metrics server; readiness reports the ffmpeg toolchain check
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, extractor.Available, log)

	// Consumers (one worker pool per queue)
	extractConsumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQExtractQueue,
		RoutingKey:  cfg.RabbitMQExtractQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusRoutingKey,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.ExtractWorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, extractUC.Execute, log)
	fatalOnErr(err, "create extract consumer")

	labelConsumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQLabelQueue,
		RoutingKey:  cfg.RabbitMQLabelQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusRoutingKey,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.LabelWorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, labelUC.Execute, log)
	fatalOnErr(err, "create label consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("medialabel-labeling-service started, consuming messages")

	go func() {
		if err := labelConsumer.Start(ctx); err != nil {
			log.Error("label consumer error", zap.Error(err))
			cancel()
		}
	}()

	if err := extractConsumer.Start(ctx); err != nil {
		log.Error("extract consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	extractConsumer.Close()
	labelConsumer.Close()
	log.Info("medialabel-labeling-service stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
