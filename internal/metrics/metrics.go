package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cruciblehq/kiln/internal/pipeline"
)

// Reporter that records per-stage outcomes as Prometheus metrics.
//
// Implements [pipeline.Reporter]; safe for concurrent use.
type Reporter struct {
	registry *prometheus.Registry

	stages    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// Creates a reporter with its own registry.
func NewReporter() *Reporter {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Reporter{
		registry: registry,
		stages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiln",
			Name:      "stages_total",
			Help:      "Stage results by outcome.",
		}, []string{"outcome"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kiln",
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent per stage by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"outcome"}),
	}
}

// Records one stage result.
func (r *Reporter) Report(result pipeline.Result) {
	outcome := string(result.Outcome)
	r.stages.WithLabelValues(outcome).Inc()
	r.durations.WithLabelValues(outcome).Observe(result.Duration.Seconds())
}

// Returns an HTTP handler exposing the metrics in Prometheus text format.
func (r *Reporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
