package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake_risk"

// Metrics holds the Prometheus counters, histograms, and gauges for the batch
// pipeline and the dashboard API.
type Metrics struct {
	// Batch pipeline metrics.
	StageDuration *prometheus.HistogramVec // labels: stage={ingest,clean,extract,train}
	StageRows     *prometheus.CounterVec   // labels: stage={ingest,clean}
	RowsRejected  *prometheus.CounterVec   // labels: reason={missing_magnitude,out_of_range,outside_window}
	ValidationMAE prometheus.Gauge

	// Serving metrics.
	Predictions      *prometheus.CounterVec // labels: risk={Low,Moderate,High}
	PredictionErrors *prometheus.CounterVec // labels: reason={unavailable,invalid_location}
	PredictionCache  *prometheus.CounterVec // labels: result={hit,miss}
	ModelLoaded      *prometheus.GaugeVec   // labels: model={regressor,forecaster}

	// Recent alerts metrics.
	AlertsFetches      *prometheus.CounterVec // labels: outcome={ok,empty,error}
	AlertsFetchSeconds prometheus.Histogram
	AlertsCache        *prometheus.CounterVec // labels: result={hit,miss}
	AlertsPublished    prometheus.Counter

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests
// can build as many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of one batch pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		StageRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_rows_total",
			Help:      "Rows written by a batch pipeline stage.",
		}, []string{"stage"}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_rows_rejected_total",
			Help:      "Raw rows dropped during cleaning, by reason.",
		}, []string{"reason"}),
		ValidationMAE: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regressor_validation_mae",
			Help:      "Mean absolute error of the last trained regressor on the validation split.",
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Magnitude predictions served, by risk level.",
		}, []string{"risk"}),
		PredictionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_errors_total",
			Help:      "Prediction requests that could not be answered, by reason.",
		}, []string{"reason"}),
		PredictionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_total",
			Help:      "Prediction cache lookups by result.",
		}, []string{"result"}),
		ModelLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "1 when the named model artifact loaded at startup, 0 otherwise.",
		}, []string{"model"}),
		AlertsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fetches_total",
			Help:      "Remote recent-alerts queries by outcome.",
		}, []string{"outcome"}),
		AlertsFetchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alerts_fetch_duration_seconds",
			Help:      "Duration of the remote recent-alerts query.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		AlertsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_cache_total",
			Help:      "Recent-alerts cache lookups by result.",
		}, []string{"result"}),
		AlertsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_published_total",
			Help:      "Alerts written to the Kafka fan-out topic.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when place search and labels are enabled, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StageDuration,
		m.StageRows,
		m.RowsRejected,
		m.ValidationMAE,
		m.Predictions,
		m.PredictionErrors,
		m.PredictionCache,
		m.ModelLoaded,
		m.AlertsFetches,
		m.AlertsFetchSeconds,
		m.AlertsCache,
		m.AlertsPublished,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}
