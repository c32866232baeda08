package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the yield pipeline.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec // labels: outcome={success,error}
	RunDuration     prometheus.Histogram
	RunWarnings     *prometheus.CounterVec // labels: warning={empty_input,degenerate_range,region_too_large}
	PipelineRunning prometheus.Gauge
	ObservedPixels  prometheus.Gauge

	// Evaluation metrics.
	EvaluationDuration *prometheus.HistogramVec // labels: op
	TilesEvaluated     prometheus.Counter
	CatalogCache       *prometheus.CounterVec // labels: layer={reflectance,clear_score,land_cover}, result={hit,miss}

	// Remote engine metrics.
	RemoteRequests    *prometheus.CounterVec // labels: outcome={success,retry,error}
	RemoteAPIDuration prometheus.Histogram

	ReportsPublished prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relative_yield",
			Name:      "runs_total",
			Help:      "Completed pipeline runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relative_yield",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete run from scene selection to export.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}),
		RunWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relative_yield",
			Name:      "run_warnings_total",
			Help:      "Recoverable conditions recorded on runs.",
		}, []string{"warning"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relative_yield",
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		ObservedPixels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relative_yield",
			Name:      "observed_pixels",
			Help:      "Observed output pixels of the last completed run.",
		}),
		EvaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relative_yield",
			Name:      "evaluation_duration_seconds",
			Help:      "Graph evaluation duration by root operation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"op"}),
		TilesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relative_yield",
			Name:      "tiles_evaluated_total",
			Help:      "Tiles evaluated by the local engine.",
		}),
		CatalogCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relative_yield",
			Name:      "catalog_cache_total",
			Help:      "Catalog layer reads served from or added to the cache.",
		}, []string{"layer", "result"}),
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relative_yield",
			Name:      "remote_requests_total",
			Help:      "Remote engine requests by outcome.",
		}, []string{"outcome"}),
		RemoteAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relative_yield",
			Name:      "remote_api_duration_seconds",
			Help:      "Remote engine request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60},
		}),
		ReportsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relative_yield",
			Name:      "reports_published_total",
			Help:      "Run reports written to the report topic.",
		}),
	}

	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunWarnings,
		m.PipelineRunning,
		m.ObservedPixels,
		m.EvaluationDuration,
		m.TilesEvaluated,
		m.CatalogCache,
		m.RemoteRequests,
		m.RemoteAPIDuration,
		m.ReportsPublished,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RunsTotal:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "relative_yield", Name: "runs_total"}, []string{"outcome"}),
		RunDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "relative_yield", Name: "run_duration_seconds"}),
		RunWarnings:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "relative_yield", Name: "run_warnings_total"}, []string{"warning"}),
		PipelineRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "relative_yield", Name: "pipeline_running"}),
		ObservedPixels:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "relative_yield", Name: "observed_pixels"}),
		EvaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "relative_yield", Name: "evaluation_duration_seconds"}, []string{"op"}),
		TilesEvaluated:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "relative_yield", Name: "tiles_evaluated_total"}),
		CatalogCache:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "relative_yield", Name: "catalog_cache_total"}, []string{"layer", "result"}),
		RemoteRequests:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "relative_yield", Name: "remote_requests_total"}, []string{"outcome"}),
		RemoteAPIDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "relative_yield", Name: "remote_api_duration_seconds"}),
		ReportsPublished:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "relative_yield", Name: "reports_published_total"}),
	}
}
