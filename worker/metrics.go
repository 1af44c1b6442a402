package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telempipe/metric"
)

// poolMetrics holds optional Prometheus metrics. Atomic statistics are
// always tracked; these mirror them for external monitoring.
type poolMetrics struct {
	queueDepth prometheus.Gauge
	processed  prometheus.Counter
	failed     prometheus.Counter
	retried    prometheus.Counter
	latency    prometheus.Histogram
}

const metricsComponent = "worker_pool"

// WithMetrics registers pool metrics with the registry under the given
// prefix. A pool built for a prefix that is already registered adopts the
// existing collectors, so pools rebuilt across mode activations keep one
// continuous metric family.
func WithMetrics[R any](reg metric.Registrar, prefix string) Option[R] {
	return func(p *Pool[R]) {
		m := &poolMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_queue_depth",
				Help: "Current task queue depth (both lanes)",
			}),
			processed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_processed_total",
				Help: "Total tasks resolved successfully",
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_failed_total",
				Help: "Total tasks terminally rejected",
			}),
			retried: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_retried_total",
				Help: "Total task retry attempts",
			}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    prefix + "_task_duration_seconds",
				Help:    "Successful task duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
			}),
		}

		if reg.RegisterGauge(metricsComponent, prefix+"_queue_depth", m.queueDepth) != nil {
			p.metrics = adoptPoolMetrics(reg, prefix)
			return
		}
		if reg.RegisterCounter(metricsComponent, prefix+"_processed_total", m.processed) != nil {
			return
		}
		if reg.RegisterCounter(metricsComponent, prefix+"_failed_total", m.failed) != nil {
			return
		}
		if reg.RegisterCounter(metricsComponent, prefix+"_retried_total", m.retried) != nil {
			return
		}
		if reg.RegisterHistogram(metricsComponent, prefix+"_task_duration_seconds", m.latency) != nil {
			return
		}

		p.metrics = m
	}
}

// adoptPoolMetrics fetches the collectors a previous pool registered under
// the prefix. Returns nil when the family is absent or incomplete.
func adoptPoolMetrics(reg metric.Registrar, prefix string) *poolMetrics {
	lookup := func(name string) (prometheus.Collector, bool) {
		return reg.Lookup(metricsComponent, prefix+name)
	}

	m := &poolMetrics{}
	var ok bool

	c, found := lookup("_queue_depth")
	if m.queueDepth, ok = c.(prometheus.Gauge); !found || !ok {
		return nil
	}
	c, found = lookup("_processed_total")
	if m.processed, ok = c.(prometheus.Counter); !found || !ok {
		return nil
	}
	c, found = lookup("_failed_total")
	if m.failed, ok = c.(prometheus.Counter); !found || !ok {
		return nil
	}
	c, found = lookup("_retried_total")
	if m.retried, ok = c.(prometheus.Counter); !found || !ok {
		return nil
	}
	c, found = lookup("_task_duration_seconds")
	if m.latency, ok = c.(prometheus.Histogram); !found || !ok {
		return nil
	}
	return m
}
