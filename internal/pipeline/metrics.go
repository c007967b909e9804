package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_pipeline_analyses_total",
			Help: "Total number of pipeline analyses",
		},
		[]string{"status"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_pipeline_analysis_duration_seconds",
			Help:    "Duration of full pipeline analyses",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	QueriesExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_pipeline_queries_executed_total",
			Help: "Total number of query statements executed",
		},
		[]string{"status"},
	)

	ReasonerFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_pipeline_reasoner_fallbacks_total",
			Help: "Total number of reasoning calls that degraded to their deterministic fallback",
		},
		[]string{"stage"},
	)
)
