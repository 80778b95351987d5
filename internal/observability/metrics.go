package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fire_etl"

// Store label values.
const (
	StoreIncidents = "incidents"
	StoreAuxiliary = "auxiliary"
	StoreWeather   = "weather"
	StoreSocio     = "socio"
)

// Outcome label values for LoadsTotal.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the session.
type Metrics struct {
	LoadsTotal    *prometheus.CounterVec // labels: store, outcome={success,error}
	RecordsLoaded *prometheus.GaugeVec   // labels: store
	ParseErrors   *prometheus.CounterVec // labels: store
	SkippedRows   *prometheus.CounterVec // labels: store
	LoadDuration  prometheus.Histogram
	SessionReady  prometheus.Gauge

	// View publishing metrics.
	ViewsPublished prometheus.Counter
	PublishErrors  prometheus.Counter
}

func newMetrics(help bool) *Metrics {
	h := func(s string) string {
		if help {
			return s
		}
		return ""
	}
	return &Metrics{
		LoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      h("Store loads by store and outcome."),
		}, []string{"store", "outcome"}),
		RecordsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_loaded",
			Help:      h("Records held by each store after the last committed load."),
		}, []string{"store"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      h("Loads rejected because a row failed to normalize."),
		}, []string{"store"}),
		SkippedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_rows_total",
			Help:      h("Rows dropped by lenient loads."),
		}, []string{"store"}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      h("Duration of a complete session load across all sources."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SessionReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_ready",
			Help:      h("1 once every store holds a committed load, 0 otherwise."),
		}),
		ViewsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "views_published_total",
			Help:      h("Derived view snapshots written to the sink topic."),
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      h("Failed attempts to publish a view snapshot."),
		}),
	}
}

// NewMetrics creates and registers all session metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.LoadsTotal,
		m.RecordsLoaded,
		m.ParseErrors,
		m.SkippedRows,
		m.LoadDuration,
		m.SessionReady,
		m.ViewsPublished,
		m.PublishErrors,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}
