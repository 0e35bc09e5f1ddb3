package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

type Metrics struct {
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}

	// Initialize common metrics
	m.counters["collection_cities_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_cities_total",
			Help: "Per-city collection outcomes across all cycles",
		},
		[]string{"status"},
	)

	m.counters["collection_cycles_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_cycles_total",
			Help: "Total number of collection cycles run",
		},
		[]string{},
	)

	m.counters["alert_events_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_events_total",
			Help: "Alert transitions produced by the evaluator",
		},
		[]string{"kind"},
	)

	m.counters["notifications_total"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification delivery attempts",
		},
		[]string{"channel", "status"},
	)

	m.histograms["weather_fetch_duration_seconds"] = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weather_fetch_duration_seconds",
			Help:    "Duration of weather source fetches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	m.histograms["collection_cycle_duration_seconds"] = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collection_cycle_duration_seconds",
			Help:    "Duration of a full collection cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{},
	)

	m.gauges["tracked_cities"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracked_cities",
			Help: "Number of active cities being sampled",
		},
		[]string{},
	)

	m.gauges["alerting_cities"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alerting_cities",
			Help: "Number of cities currently in ALERTING state",
		},
		[]string{},
	)

	// Register all metrics (gracefully handle already registered metrics)
	for _, counter := range m.counters {
		if err := prometheus.Register(counter); err != nil {
			// Metric already registered, this is OK in tests
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	for _, histogram := range m.histograms {
		if err := prometheus.Register(histogram); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	for _, gauge := range m.gauges {
		if err := prometheus.Register(gauge); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return m
}

func (m *Metrics) IncrementCounter(name string, labelValues ...string) {
	if counter, exists := m.counters[name]; exists {
		counter.WithLabelValues(labelValues...).Inc()
	}
}

func (m *Metrics) AddCounter(name string, value float64, labelValues ...string) {
	if counter, exists := m.counters[name]; exists {
		counter.WithLabelValues(labelValues...).Add(value)
	}
}

func (m *Metrics) ObserveHistogram(name string, value float64, labelValues ...string) {
	if histogram, exists := m.histograms[name]; exists {
		histogram.WithLabelValues(labelValues...).Observe(value)
	}
}

func (m *Metrics) SetGauge(name string, value float64, labelValues ...string) {
	if gauge, exists := m.gauges[name]; exists {
		gauge.WithLabelValues(labelValues...).Set(value)
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// CounterValue reads back the current value of a counter for a given label
// combination. Used by the status endpoint to report cycle success rates
// without a second bookkeeping path.
func (m *Metrics) CounterValue(name string, labelValues ...string) float64 {
	counter, exists := m.counters[name]
	if !exists {
		return 0
	}

	metric, err := counter.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return 0
	}

	dtoMetric := &dto.Metric{}
	if err := metric.Write(dtoMetric); err != nil {
		return 0
	}

	if dtoMetric.Counter != nil {
		return dtoMetric.Counter.GetValue()
	}
	return 0
}

// CycleSuccessRate returns the percentage (0-100) of per-city collections
// that succeeded, across all cycles since start. Returns 100 when nothing
// has run yet.
func (m *Metrics) CycleSuccessRate() float64 {
	succeeded := m.CounterValue("collection_cities_total", "success")
	failed := m.CounterValue("collection_cities_total", "failure")

	total := succeeded + failed
	if total == 0 {
		return 100.0
	}
	return succeeded / total * 100.0
}
