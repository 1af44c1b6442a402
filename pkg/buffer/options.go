package buffer

import "github.com/c360/telempipe/metric"

// Option configures a buffer.
type Option[T any] func(*options[T])

type options[T any] struct {
	metricsReg    metric.Registrar
	metricsPrefix string
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMetrics enables Prometheus metrics for the buffer, registered with the
// given registrar under the given prefix.
func WithMetrics[T any](reg metric.Registrar, prefix string) Option[T] {
	return func(o *options[T]) {
		o.metricsReg = reg
		o.metricsPrefix = prefix
	}
}
