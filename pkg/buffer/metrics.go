package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telempipe/metric"
)

// queueMetrics mirrors the always-on statistics into Prometheus when enabled.
type queueMetrics struct {
	size    prometheus.Gauge
	writes  prometheus.Counter
	reads   prometheus.Counter
	unreads prometheus.Counter
	rejects prometheus.Counter
}

func newQueueMetrics(reg metric.Registrar, prefix string) (*queueMetrics, error) {
	m := &queueMetrics{
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_size",
			Help: "Current number of buffered items",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_writes_total",
			Help: "Total items written to the buffer",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_reads_total",
			Help: "Total items read from the buffer",
		}),
		unreads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_unreads_total",
			Help: "Total items pushed back for redelivery",
		}),
		rejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_rejects_total",
			Help: "Total writes rejected at capacity",
		}),
	}

	const component = "buffer"
	if err := reg.RegisterGauge(component, prefix+"_size", m.size); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter(component, prefix+"_writes_total", m.writes); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter(component, prefix+"_reads_total", m.reads); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter(component, prefix+"_unreads_total", m.unreads); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter(component, prefix+"_rejects_total", m.rejects); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *queueMetrics) recordWrite(n int)  { m.writes.Add(float64(n)) }
func (m *queueMetrics) recordRead(n int)   { m.reads.Add(float64(n)) }
func (m *queueMetrics) recordUnread(n int) { m.unreads.Add(float64(n)) }
func (m *queueMetrics) recordReject()      { m.rejects.Inc() }
func (m *queueMetrics) recordSize(n int)   { m.size.Set(float64(n)) }
