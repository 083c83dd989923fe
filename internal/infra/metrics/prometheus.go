package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialabel_extractions_total",
		Help: "Keyframe extraction runs, by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medialabel_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medialabel_frames_extracted_total",
		Help: "Keyframes accepted across all videos",
	})

	FramesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialabel_frames_skipped_total",
		Help: "Candidate frames dropped before upload, by reason",
	}, []string{"reason"})

	LabelCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialabel_label_calls_total",
		Help: "Per-frame labeling attempts, by outcome",
	}, []string{"outcome"})

	AggregationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialabel_aggregations_total",
		Help: "Aggregation evaluations, by decision",
	}, []string{"decision"})

	LabelRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialabel_label_retries_total",
		Help: "Frame label retries scheduled, by attempt",
	}, []string{"attempt"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medialabel_active_workers",
		Help: "Workers currently processing a message",
	})
)
