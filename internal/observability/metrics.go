package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fire_perimeter"

// Metrics holds the Prometheus counters, histograms, and gauges for the perimeter pipeline
// and the preview redirect service.
type Metrics struct {
	FiresConsidered prometheus.Counter
	FireResults     *prometheus.CounterVec   // labels: outcome={succeeded,skipped,failed}
	StageDuration   *prometheus.HistogramVec // labels: stage
	RunDuration     prometheus.Histogram
	PipelineRunning prometheus.Gauge
	LastRunSuccess  prometheus.Gauge

	// Imagery metrics.
	ImageryRequests *prometheus.CounterVec // labels: kind={classification,preview}, outcome={success,error}
	RasterBytes     *prometheus.CounterVec // labels: kind={classification,preview}

	// Perimeter metrics.
	BurnedAreaHectares prometheus.Histogram
	PolygonsWritten    prometheus.Counter

	// Redirect service metrics.
	RedirectRequests *prometheus.CounterVec // labels: status
	PresignCache     *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.FiresConsidered,
		m.FireResults,
		m.StageDuration,
		m.RunDuration,
		m.PipelineRunning,
		m.LastRunSuccess,
		m.ImageryRequests,
		m.RasterBytes,
		m.BurnedAreaHectares,
		m.PolygonsWritten,
		m.RedirectRequests,
		m.PresignCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FiresConsidered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fires_considered_total",
			Help:      "Total fires returned by the active fire feed.",
		}),
		FireResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fire_results_total",
			Help:      "Per-fire pipeline results by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each per-fire pipeline stage.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline run.",
			Buckets:   []float64{1, 10, 30, 60, 120, 300, 600, 1800},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is in progress, 0 otherwise.",
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success_timestamp_seconds",
			Help:      "Unix time of the last run that reached every candidate fire.",
		}),
		ImageryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imagery_requests_total",
			Help:      "Imagery service raster requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RasterBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raster_bytes_total",
			Help:      "Raster bytes downloaded from the imagery service.",
		}, []string{"kind"}),
		BurnedAreaHectares: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "burned_area_hectares",
			Help:      "Burned area estimates of processed fires.",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000, 100000},
		}),
		PolygonsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polygons_written_total",
			Help:      "Perimeter polygons persisted to the spatial database.",
		}),
		RedirectRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirect_requests_total",
			Help:      "Preview redirect requests by HTTP status.",
		}, []string{"status"}),
		PresignCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presign_cache_total",
			Help:      "Presigned URL cache lookups by result.",
		}, []string{"result"}),
	}
}
