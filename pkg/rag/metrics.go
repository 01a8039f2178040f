package rag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineCollectors exposes pipeline activity to Prometheus. All collectors
// are registered once against the given registerer; a nil *PipelineCollectors
// is a valid no-op everywhere it is consumed.
type PipelineCollectors struct {
	stageDuration *prometheus.HistogramVec
	documents     *prometheus.CounterVec
	queryDuration prometheus.Histogram
	queries       *prometheus.CounterVec
}

// NewPipelineCollectors builds and registers the collectors. Pass
// prometheus.DefaultRegisterer in production.
func NewPipelineCollectors(reg prometheus.Registerer) *PipelineCollectors {
	pc := &PipelineCollectors{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hrrag",
			Subsystem: "ingestion",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each ingestion stage by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"stage", "outcome"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hrrag",
			Subsystem: "ingestion",
			Name:      "documents_total",
			Help:      "Documents reaching a terminal status.",
		}, []string{"status"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hrrag",
			Subsystem: "retrieval",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query processing duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hrrag",
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Queries by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(pc.stageDuration, pc.documents, pc.queryDuration, pc.queries)
	return pc
}

// ObserveStage records one ingestion stage execution.
func (pc *PipelineCollectors) ObserveStage(stage, outcome string, took time.Duration) {
	pc.stageDuration.WithLabelValues(stage, outcome).Observe(took.Seconds())
}

// ObserveDocument records a document reaching a terminal status.
func (pc *PipelineCollectors) ObserveDocument(status string) {
	pc.documents.WithLabelValues(status).Inc()
}

// ObserveQuery records one query outcome.
func (pc *PipelineCollectors) ObserveQuery(took time.Duration, cacheHit, failed, degraded bool) {
	pc.queryDuration.Observe(took.Seconds())
	switch {
	case failed:
		pc.queries.WithLabelValues("failed").Inc()
	case cacheHit:
		pc.queries.WithLabelValues("cache_hit").Inc()
	case degraded:
		pc.queries.WithLabelValues("degraded").Inc()
	default:
		pc.queries.WithLabelValues("ok").Inc()
	}
}
