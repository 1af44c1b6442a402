package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryCoreMetrics(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Core)
	require.NotNil(t, r.PrometheusRegistry())

	// Core metrics must be gatherable without touching any labels first.
	r.Core.RecordPipelineStatus(true)
	r.Core.RecordCircuitState(0)

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test",
	})
	require.NoError(t, r.RegisterCounter("worker", "test_counter_total", counter))

	// Duplicate key is rejected
	err := r.RegisterCounter("worker", "test_counter_total", counter)
	require.Error(t, err)

	assert.True(t, r.Unregister("worker", "test_counter_total"))
	assert.False(t, r.Unregister("worker", "test_counter_total"))

	// After unregister the same name can be registered again
	require.NoError(t, r.RegisterCounter("worker", "test_counter_total", counter))
}

func TestRegisterGaugeConflict(t *testing.T) {
	r := NewRegistry()

	g1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "test"})
	g2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "test"})

	require.NoError(t, r.RegisterGauge("stream", "test_gauge", g1))

	// Same prometheus name under a different component key still conflicts
	// inside the prometheus registry.
	err := r.RegisterGauge("worker", "test_gauge", g2)
	require.Error(t, err)
}

func TestRecordModeActive(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	m.mustRegister(reg)

	m.RecordModeActive("simulation", []string{"simulation", "infrastructure", "hybrid"})

	families, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if f.GetName() == "telempipe_mode_active" {
			found = true
			assert.Len(t, f.GetMetric(), 3)
		}
	}
	assert.True(t, found)
}
