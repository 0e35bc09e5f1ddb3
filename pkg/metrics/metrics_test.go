package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterValue(t *testing.T) {
	m := New()

	before := m.CounterValue("alert_events_total", "RAISED")
	m.IncrementCounter("alert_events_total", "RAISED")
	m.IncrementCounter("alert_events_total", "RAISED")

	assert.Equal(t, before+2, m.CounterValue("alert_events_total", "RAISED"))
}

func TestUnknownMetricIsIgnored(t *testing.T) {
	m := New()

	// Must not panic on unregistered names.
	m.IncrementCounter("no_such_counter")
	m.ObserveHistogram("no_such_histogram", 1.0)
	m.SetGauge("no_such_gauge", 1.0)

	assert.Equal(t, 0.0, m.CounterValue("no_such_counter"))
}

func TestCycleSuccessRate(t *testing.T) {
	m := New()

	succeeded := m.CounterValue("collection_cities_total", "success")
	failed := m.CounterValue("collection_cities_total", "failure")

	m.AddCounter("collection_cities_total", 3, "success")
	m.AddCounter("collection_cities_total", 1, "failure")

	want := (succeeded + 3) / (succeeded + failed + 4) * 100.0
	assert.InDelta(t, want, m.CycleSuccessRate(), 0.001)
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.IncrementCounter("collection_cycles_total")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "collection_cycles_total")
}
