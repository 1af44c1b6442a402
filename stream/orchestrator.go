package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/telempipe/component"
	"github.com/c360/telempipe/errors"
	"github.com/c360/telempipe/event"
	"github.com/c360/telempipe/metric"
	"github.com/c360/telempipe/pkg/buffer"
)

var (
	_ component.Lifecycle      = (*Orchestrator)(nil)
	_ component.HealthReporter = (*Orchestrator)(nil)
)

// Config holds the streaming orchestrator configuration.
type Config struct {
	// BatchSize is the maximum number of records per delivery.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// FlushInterval is the period of the background flush timer.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	// BufferCapacity bounds each of the two record buffers.
	BufferCapacity int `json:"buffer_capacity" yaml:"buffer_capacity"`
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker.
	BreakerThreshold int `json:"breaker_threshold" yaml:"breaker_threshold"`
	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// DefaultConfig returns the default streaming configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:        100,
		FlushInterval:    5 * time.Second,
		BufferCapacity:   10000,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
}

// StreamOptions qualify one Stream call.
type StreamOptions struct {
	// Source tags the records for per-source bookkeeping.
	Source string
	// Kind, when set, overrides shape-based classification.
	Kind Kind
}

// SourceStats is per-source delivery bookkeeping. It is descriptive only and
// has no bearing on delivery correctness.
type SourceStats struct {
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Buffered  uint64    `json:"buffered"`
	Delivered uint64    `json:"delivered"`
	Errors    uint64    `json:"errors"`
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	Running          bool                   `json:"running"`
	EventsBuffered   int                    `json:"events_buffered"`
	MetricsBuffered  int                    `json:"metrics_buffered"`
	EventsDelivered  uint64                 `json:"events_delivered"`
	MetricsDelivered uint64                 `json:"metrics_delivered"`
	DeliveryErrors   uint64                 `json:"delivery_errors"`
	FlushesSkipped   uint64                 `json:"flushes_skipped"`
	Breaker          BreakerStatus          `json:"breaker"`
	Sources          map[string]SourceStats `json:"sources"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus attaches an event bus for lifecycle and flush notifications.
func WithBus(bus *event.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics enables Prometheus metrics, including per-buffer metrics
// registered under the stream_events and stream_metrics prefixes.
func WithMetrics(reg *metric.Registry) Option {
	return func(o *Orchestrator) { o.reg = reg }
}

// Orchestrator batches records into two FIFO buffers (events and metrics)
// and ships them to an injected sink, guarded by a shared circuit breaker.
//
// Both the periodic flush timer and the size-triggered flush path funnel
// through one flush mutex, so the two can never double-drain a buffer. A
// failed delivery pushes the batch back onto the head of its buffer in
// original order: records are deferred, never dropped or reordered.
type Orchestrator struct {
	cfg     Config
	sink    Sink
	breaker *Breaker

	events  buffer.Buffer[Record]
	metrics buffer.Buffer[Record]

	lifecycleMu sync.Mutex
	running     atomic.Bool
	startedAt   atomic.Int64 // unix nanos of the last Start
	quit        chan struct{}
	wg          sync.WaitGroup

	// flushMu serializes the timer-driven and size-triggered flush paths.
	flushMu sync.Mutex

	srcMu   sync.Mutex
	sources map[string]*SourceStats

	eventsDelivered  atomic.Uint64
	metricsDelivered atomic.Uint64
	deliveryErrors   atomic.Uint64
	flushesSkipped   atomic.Uint64
	lastErr          atomic.Value // string

	bus    *event.Bus
	logger *slog.Logger
	reg    *metric.Registry
}

// New creates a streaming orchestrator around the given sink.
func New(cfg Config, sink Sink, opts ...Option) (*Orchestrator, error) {
	if sink == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"StreamingOrchestrator", "New", "sink required")
	}
	cfg.normalize()

	o := &Orchestrator{
		cfg:     cfg,
		sink:    sink,
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		sources: make(map[string]*SourceStats),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	var eventOpts, metricOpts []buffer.Option[Record]
	if o.reg != nil {
		eventOpts = append(eventOpts, buffer.WithMetrics[Record](o.reg, "stream_events"))
		metricOpts = append(metricOpts, buffer.WithMetrics[Record](o.reg, "stream_metrics"))
	}

	var err error
	if o.events, err = buffer.NewQueue(cfg.BufferCapacity, eventOpts...); err != nil {
		return nil, errors.Wrap(err, "StreamingOrchestrator", "New", "create event buffer")
	}
	if o.metrics, err = buffer.NewQueue(cfg.BufferCapacity, metricOpts...); err != nil {
		return nil, errors.Wrap(err, "StreamingOrchestrator", "New", "create metric buffer")
	}

	return o, nil
}

// Initialize validates the configuration.
func (o *Orchestrator) Initialize() error {
	return nil
}

// Start begins the periodic flush timer.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"StreamingOrchestrator", "Start", "start streaming")
	}

	o.quit = make(chan struct{})
	o.startedAt.Store(time.Now().UnixNano())
	o.running.Store(true)
	o.wg.Add(1)
	go o.flushLoop(ctx)

	o.bus.Publish("stream", "started", map[string]any{
		"batch_size":     o.cfg.BatchSize,
		"flush_interval": o.cfg.FlushInterval.String(),
	})
	return nil
}

// Stop halts the flush timer, then performs one final flush of both buffers
// bounded by the grace duration. Records that still cannot be delivered stay
// buffered in memory and are lost with the process.
func (o *Orchestrator) Stop(grace time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted,
			"StreamingOrchestrator", "Stop", "stop streaming")
	}

	close(o.quit)
	o.wg.Wait()
	o.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := o.FlushAll(ctx); err != nil {
		o.logger.Warn("final flush incomplete",
			"component", "stream", "error", err)
	}

	o.bus.Publish("stream", "stopped", map[string]any{
		"events_remaining":  o.events.Size(),
		"metrics_remaining": o.metrics.Size(),
	})
	return nil
}

// Stream classifies data as events or metrics and appends it to the
// corresponding buffer. data may be a single payload or a slice of payloads.
// A buffer reaching the batch size triggers an immediate flush; delivery
// failures from that flush are reported through the observability surface,
// not returned, because the records were buffered successfully.
func (o *Orchestrator) Stream(data any, opts StreamOptions) error {
	payloads, err := normalizePayloads(data)
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		return nil
	}

	now := time.Now().UTC()
	counts := map[Kind]int{}
	for _, payload := range payloads {
		kind := Classify(payload, opts.Kind)
		rec := Record{Payload: payload, Source: opts.Source, BufferedAt: now}
		if err := o.bufferFor(kind).Write(rec); err != nil {
			return errors.WrapTransient(
				fmt.Errorf("%w: %s buffer", errors.ErrBufferFull, kind),
				"StreamingOrchestrator", "Stream", "buffer record")
		}
		counts[kind]++
	}

	o.noteBuffered(opts.Source, now, len(payloads))
	if o.reg != nil {
		for kind, n := range counts {
			o.reg.Core.RecordBuffered(string(kind), opts.Source, n)
		}
	}

	for kind := range counts {
		if o.bufferFor(kind).Size() >= o.cfg.BatchSize {
			if err := o.Flush(context.Background(), kind); err != nil {
				o.logger.Warn("size-triggered flush failed",
					"component", "stream", "kind", string(kind), "error", err)
			}
		}
	}
	return nil
}

// Flush drains the buffer for one kind, delivering batches of up to the
// configured batch size until the buffer is empty, the breaker refuses, or a
// delivery fails. A failed batch is pushed back onto the head of the buffer
// in its original order.
func (o *Orchestrator) Flush(ctx context.Context, kind Kind) error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()
	return o.flushLocked(ctx, kind)
}

// FlushAll flushes both buffers, events first.
func (o *Orchestrator) FlushAll(ctx context.Context) error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	eventErr := o.flushLocked(ctx, KindEvent)
	metricErr := o.flushLocked(ctx, KindMetric)
	if eventErr != nil {
		return eventErr
	}
	return metricErr
}

func (o *Orchestrator) flushLocked(ctx context.Context, kind Kind) error {
	buf := o.bufferFor(kind)

	for !buf.IsEmpty() {
		if !o.breaker.Allow() {
			o.flushesSkipped.Add(1)
			o.observeBreaker()
			return errors.WrapTransient(errors.ErrCircuitOpen,
				"StreamingOrchestrator", "Flush", string(kind)+" delivery gated")
		}

		batch := buf.ReadBatch(o.cfg.BatchSize)
		start := time.Now()
		err := o.sink(ctx, batch, kind)
		if o.reg != nil {
			o.reg.Core.RecordFlushDuration(string(kind), time.Since(start))
		}

		if err != nil {
			buf.Unread(batch)
			o.breaker.RecordFailure()
			o.deliveryErrors.Add(1)
			o.lastErr.Store(err.Error())
			o.noteDelivered(batch, false)
			o.observeBreaker()
			if o.reg != nil {
				o.reg.Core.RecordDeliveryError(string(kind))
			}
			o.bus.Publish("stream", "flush_failed", map[string]any{
				"kind":  string(kind),
				"count": len(batch),
				"error": err.Error(),
			})
			return errors.WrapTransient(
				fmt.Errorf("%w: %v", errors.ErrDelivery, err),
				"StreamingOrchestrator", "Flush", "deliver "+string(kind)+" batch")
		}

		o.breaker.RecordSuccess()
		o.observeBreaker()
		switch kind {
		case KindMetric:
			o.metricsDelivered.Add(uint64(len(batch)))
		default:
			o.eventsDelivered.Add(uint64(len(batch)))
		}
		o.noteDelivered(batch, true)
		if o.reg != nil {
			o.reg.Core.RecordShipped(string(kind), len(batch))
		}
		o.bus.Publish("stream", "batch_delivered", map[string]any{
			"kind":  string(kind),
			"count": len(batch),
		})
	}
	return nil
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.srcMu.Lock()
	sources := make(map[string]SourceStats, len(o.sources))
	for name, s := range o.sources {
		sources[name] = *s
	}
	o.srcMu.Unlock()

	return Status{
		Running:          o.running.Load(),
		EventsBuffered:   o.events.Size(),
		MetricsBuffered:  o.metrics.Size(),
		EventsDelivered:  o.eventsDelivered.Load(),
		MetricsDelivered: o.metricsDelivered.Load(),
		DeliveryErrors:   o.deliveryErrors.Load(),
		FlushesSkipped:   o.flushesSkipped.Load(),
		Breaker:          o.breaker.Status(),
		Sources:          sources,
	}
}

// Health reports the component health snapshot. It takes no locks beyond the
// atomics it reads, so it is safe to call from event subscribers invoked on
// the orchestrator's own goroutines.
func (o *Orchestrator) Health() component.HealthStatus {
	running := o.running.Load()

	var uptime time.Duration
	if running {
		uptime = time.Since(time.Unix(0, o.startedAt.Load()))
	}
	lastErr, _ := o.lastErr.Load().(string)

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(o.deliveryErrors.Load()),
		LastError:  lastErr,
		Uptime:     uptime,
	}
}

// Breaker exposes the shared circuit breaker for status aggregation.
func (o *Orchestrator) Breaker() *Breaker {
	return o.breaker
}

func (o *Orchestrator) flushLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := o.FlushAll(ctx); err != nil {
				o.logger.Debug("periodic flush deferred",
					"component", "stream", "error", err)
			}
		case <-o.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) bufferFor(kind Kind) buffer.Buffer[Record] {
	if kind == KindMetric {
		return o.metrics
	}
	return o.events
}

func (o *Orchestrator) noteBuffered(source string, now time.Time, n int) {
	o.srcMu.Lock()
	defer o.srcMu.Unlock()

	s, ok := o.sources[source]
	if !ok {
		s = &SourceStats{FirstSeen: now}
		o.sources[source] = s
	}
	s.LastSeen = now
	s.Buffered += uint64(n)
}

func (o *Orchestrator) noteDelivered(batch []Record, success bool) {
	o.srcMu.Lock()
	defer o.srcMu.Unlock()

	for _, rec := range batch {
		s, ok := o.sources[rec.Source]
		if !ok {
			continue
		}
		if success {
			s.Delivered++
		} else {
			s.Errors++
		}
	}
}

func (o *Orchestrator) observeBreaker() {
	if o.reg != nil {
		o.reg.Core.RecordCircuitState(int(o.breaker.State()))
	}
}

func normalizePayloads(data any) ([]map[string]any, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{v}, nil
	case []map[string]any:
		return v, nil
	case []any:
		payloads := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, errors.WrapInvalid(
					fmt.Errorf("unsupported record type %T", item),
					"StreamingOrchestrator", "Stream", "normalize payloads")
			}
			payloads = append(payloads, m)
		}
		return payloads, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unsupported data type %T", data),
			"StreamingOrchestrator", "Stream", "normalize payloads")
	}
}
