package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.LocationSamples.Inc()
	m.CompassSamples.WithLabelValues("course").Inc()
	m.LocationErrors.WithLabelValues("gps_off").Add(2)
	m.Listeners.Set(3)
	m.GeocodeSeconds.WithLabelValues("nominatim").Observe(0.2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LocationSamples))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompassSamples.WithLabelValues("course")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LocationErrors.WithLabelValues("gps_off")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Listeners))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "pointdash_geocode_request_duration_seconds")
	assert.Contains(t, names, "pointdash_location_errors_total")
}

func TestNewMetricsTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
