package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the pipeline-level metrics shared by all components.
// Component-specific metrics (pool queue depth, buffer sizes) are registered
// by the components themselves through the Registrar interface.
type Metrics struct {
	PipelineStatus  prometheus.Gauge
	ModeActive      *prometheus.GaugeVec
	RecordsBuffered *prometheus.CounterVec
	RecordsShipped  *prometheus.CounterVec
	DeliveryErrors  *prometheus.CounterVec
	FlushDuration   *prometheus.HistogramVec
	CircuitState    prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PipelineStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telempipe",
			Subsystem: "pipeline",
			Name:      "up",
			Help:      "Pipeline status (0=stopped, 1=running)",
		}),

		ModeActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "telempipe",
			Subsystem: "mode",
			Name:      "active",
			Help:      "Active operating mode (1 for the current mode, 0 otherwise)",
		}, []string{"mode"}),

		RecordsBuffered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telempipe",
			Subsystem: "stream",
			Name:      "records_buffered_total",
			Help:      "Total records accepted into the streaming buffers",
		}, []string{"kind", "source"}),

		RecordsShipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telempipe",
			Subsystem: "stream",
			Name:      "records_shipped_total",
			Help:      "Total records delivered to the sink",
		}, []string{"kind"}),

		DeliveryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telempipe",
			Subsystem: "stream",
			Name:      "delivery_errors_total",
			Help:      "Total failed delivery attempts",
		}, []string{"kind"}),

		FlushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telempipe",
			Subsystem: "stream",
			Name:      "flush_duration_seconds",
			Help:      "Sink delivery duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telempipe",
			Subsystem: "stream",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telempipe",
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total errors by component and class",
		}, []string{"component", "class"}),
	}
}

func (m *Metrics) mustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		m.PipelineStatus,
		m.ModeActive,
		m.RecordsBuffered,
		m.RecordsShipped,
		m.DeliveryErrors,
		m.FlushDuration,
		m.CircuitState,
		m.ErrorsTotal,
	)
}

// RecordPipelineStatus updates the pipeline running gauge
func (m *Metrics) RecordPipelineStatus(running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	m.PipelineStatus.Set(v)
}

// RecordModeActive marks the given mode as current and all others inactive
func (m *Metrics) RecordModeActive(current string, all []string) {
	for _, mode := range all {
		v := 0.0
		if mode == current {
			v = 1.0
		}
		m.ModeActive.WithLabelValues(mode).Set(v)
	}
}

// RecordBuffered increments the buffered-records counter
func (m *Metrics) RecordBuffered(kind, source string, n int) {
	m.RecordsBuffered.WithLabelValues(kind, source).Add(float64(n))
}

// RecordShipped increments the shipped-records counter
func (m *Metrics) RecordShipped(kind string, n int) {
	m.RecordsShipped.WithLabelValues(kind).Add(float64(n))
}

// RecordDeliveryError increments the delivery-error counter
func (m *Metrics) RecordDeliveryError(kind string) {
	m.DeliveryErrors.WithLabelValues(kind).Inc()
}

// RecordFlushDuration records one sink delivery duration
func (m *Metrics) RecordFlushDuration(kind string, d time.Duration) {
	m.FlushDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordCircuitState updates the circuit breaker gauge
func (m *Metrics) RecordCircuitState(state int) {
	m.CircuitState.Set(float64(state))
}

// RecordError increments the error counter for a component
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}
