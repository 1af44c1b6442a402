package platform

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/telempipe/config"
	"github.com/c360/telempipe/errors"
	"github.com/c360/telempipe/event"
	"github.com/c360/telempipe/health"
	"github.com/c360/telempipe/metric"
	"github.com/c360/telempipe/mode"
	"github.com/c360/telempipe/stream"
	"github.com/c360/telempipe/worker"
)

// PipelineStatus aggregates the status snapshots of every owned component.
type PipelineStatus struct {
	Running   bool          `json:"running"`
	Mode      mode.Mode     `json:"mode"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	Processed uint64        `json:"processed"`
	Errors    uint64        `json:"errors"`
	Stream    stream.Status `json:"stream"`
	Modes     mode.Status   `json:"modes"`
	Health    health.Status `json:"health"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus attaches an event bus shared by all owned components.
func WithBus(bus *event.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics enables Prometheus metrics across all owned components.
func WithMetrics(reg *metric.Registry) Option {
	return func(o *Orchestrator) { o.reg = reg }
}

// WithSink overrides the HTTP sink built from configuration. Used to inject
// a custom transport.
func WithSink(sink stream.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// Orchestrator is the composition root: it wires the mode controller, the
// streaming layer, and the producer collaborators into one data flow and
// carries no business logic of its own.
//
// The data edges are owned by the mode handlers: the infrastructure handler
// runs discovery results through the transform collaborator and a collection
// pool, the simulation handler runs scenario generators through a simulation
// pool and the enrichment collaborator. Switching modes stops the old
// handler, which tears down its producer edges, before the new handler wires
// its own.
type Orchestrator struct {
	cfg    config.Config
	collab Collaborators
	sink   stream.Sink

	controller *mode.Controller
	streamer   *stream.Orchestrator
	monitor    *health.Monitor

	lifecycleMu sync.Mutex
	initialized bool
	running     bool
	shutdown    bool
	startTime   time.Time

	processed atomic.Uint64
	errCount  atomic.Uint64

	bus    *event.Bus
	logger *slog.Logger
	reg    *metric.Registry
}

// New creates an orchestrator. Initialize must be called before the
// pipeline can start.
func New(cfg config.Config, collab Collaborators, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		collab:  collab,
		monitor: health.NewMonitor(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Initialize validates the configuration and constructs the mode controller,
// the streaming orchestrator, and the three mode handlers.
func (o *Orchestrator) Initialize() error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.initialized {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"PlatformOrchestrator", "Initialize", "initialize twice")
	}
	if err := o.cfg.Validate(); err != nil {
		return errors.Wrap(err, "PlatformOrchestrator", "Initialize", "validate configuration")
	}

	if o.sink == nil {
		sink, err := stream.NewHTTPSink(o.cfg.SinkConfig())
		if err != nil {
			return errors.Wrap(err, "PlatformOrchestrator", "Initialize", "build http sink")
		}
		o.sink = sink
	}

	streamOpts := []stream.Option{stream.WithBus(o.bus), stream.WithLogger(o.logger)}
	if o.reg != nil {
		streamOpts = append(streamOpts, stream.WithMetrics(o.reg))
	}
	streamer, err := stream.New(o.cfg.StreamConfig(), o.sink, streamOpts...)
	if err != nil {
		return errors.Wrap(err, "PlatformOrchestrator", "Initialize", "build streaming orchestrator")
	}
	o.streamer = streamer

	ctrlOpts := []mode.Option{
		mode.WithBus(o.bus),
		mode.WithLogger(o.logger),
		mode.WithStopGrace(o.cfg.Platform.ShutdownGrace.Std()),
	}
	if o.reg != nil {
		ctrlOpts = append(ctrlOpts, mode.WithMetrics(o.reg))
	}
	o.controller = mode.NewController(ctrlOpts...)

	poolCfg := o.cfg.PoolConfig()
	infraOpts := []worker.Option[map[string]any]{
		worker.WithBus[map[string]any](o.bus),
		worker.WithName[map[string]any]("collection-pool"),
	}
	simOpts := []worker.Option[map[string]any]{
		worker.WithBus[map[string]any](o.bus),
		worker.WithName[map[string]any]("simulation-pool"),
	}
	if o.reg != nil {
		infraOpts = append(infraOpts, worker.WithMetrics[map[string]any](o.reg, "collection_pool"))
		simOpts = append(simOpts, worker.WithMetrics[map[string]any](o.reg, "simulation_pool"))
	}
	infra := newInfraHandler(poolCfg, o.cfg.Infrastructure,
		o.collab.Discovery, o.collab.Transform, o.emitInfrastructure, o.logger, infraOpts...)
	sim := newSimHandler(poolCfg, o.cfg.Simulation,
		o.collab.Generate, o.emitSimulation, o.logger, simOpts...)

	if err := o.controller.RegisterHandler(mode.ModeInfrastructure, infra); err != nil {
		return err
	}
	if err := o.controller.RegisterHandler(mode.ModeSimulation, sim); err != nil {
		return err
	}
	if err := o.controller.RegisterHandler(mode.ModeHybrid, mode.NewHybridHandler(infra, sim)); err != nil {
		return err
	}

	if o.bus != nil {
		o.bus.Subscribe(o.onStreamEvent)
	}

	o.initialized = true
	o.refreshHealth(false)
	return nil
}

// StartPipeline starts the streaming layer and activates the configured
// mode. Restarting after a stop resets the pipeline counters.
func (o *Orchestrator) StartPipeline(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.initialized {
		return errors.WrapInvalid(errors.ErrNotStarted,
			"PlatformOrchestrator", "StartPipeline", "initialize first")
	}
	if o.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"PlatformOrchestrator", "StartPipeline", "start pipeline")
	}
	if o.shutdown {
		return errors.WrapInvalid(errors.ErrAlreadyStopped,
			"PlatformOrchestrator", "StartPipeline", "start after shutdown")
	}

	if err := o.streamer.Start(ctx); err != nil {
		return errors.Wrap(err, "PlatformOrchestrator", "StartPipeline", "start streaming")
	}

	initial, err := mode.ParseMode(o.cfg.Platform.Mode)
	if err != nil {
		_ = o.streamer.Stop(o.cfg.Platform.ShutdownGrace.Std())
		return err
	}
	if _, err := o.controller.SwitchMode(ctx, initial, o.cfg.ModeOptions(initial)); err != nil {
		_ = o.streamer.Stop(o.cfg.Platform.ShutdownGrace.Std())
		return errors.Wrap(err, "PlatformOrchestrator", "StartPipeline", "activate initial mode")
	}

	o.processed.Store(0)
	o.errCount.Store(0)
	o.startTime = time.Now()
	o.running = true
	o.refreshHealth(true)

	if o.reg != nil {
		o.reg.Core.RecordPipelineStatus(true)
	}
	o.bus.Publish("platform", "pipeline.started", map[string]any{
		"mode": string(initial),
	})
	return nil
}

// StopPipeline deactivates the current mode and stops the streaming layer,
// flushing what it can within the shutdown grace.
func (o *Orchestrator) StopPipeline() error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()
	return o.stopPipelineLocked()
}

func (o *Orchestrator) stopPipelineLocked() error {
	if !o.running {
		return errors.WrapInvalid(errors.ErrNotStarted,
			"PlatformOrchestrator", "StopPipeline", "stop pipeline")
	}

	grace := o.cfg.Platform.ShutdownGrace.Std()
	var firstErr error
	if err := o.controller.Shutdown(grace); err != nil {
		firstErr = err
	}
	if err := o.streamer.Stop(grace); err != nil && firstErr == nil {
		firstErr = err
	}

	o.running = false
	o.refreshHealth(false)
	if o.reg != nil {
		o.reg.Core.RecordPipelineStatus(false)
	}
	o.bus.Publish("platform", "pipeline.stopped", map[string]any{
		"processed": o.processed.Load(),
		"errors":    o.errCount.Load(),
	})
	return firstErr
}

// SwitchMode delegates to the mode controller. The handlers own their data
// edges, so stopping the old handler and starting the new one is the
// rewiring.
func (o *Orchestrator) SwitchMode(ctx context.Context, m mode.Mode, opts mode.Options) (mode.SwitchResult, error) {
	o.lifecycleMu.Lock()
	if !o.running {
		o.lifecycleMu.Unlock()
		return mode.SwitchResult{}, errors.WrapInvalid(errors.ErrNotStarted,
			"PlatformOrchestrator", "SwitchMode", "pipeline not running")
	}
	o.lifecycleMu.Unlock()

	res, err := o.controller.SwitchMode(ctx, m, opts)
	o.refreshModeHealth(true)
	return res, err
}

// Status aggregates the snapshots of every owned component. It is read-only;
// the health entries it aggregates are refreshed at lifecycle transitions and
// on stream delivery events.
func (o *Orchestrator) Status() PipelineStatus {
	o.lifecycleMu.Lock()
	running := o.running
	startTime := o.startTime
	o.lifecycleMu.Unlock()

	streamStatus := o.streamerStatus()
	modeStatus := o.controllerStatus()

	var uptime time.Duration
	if running {
		uptime = time.Since(startTime)
	}

	return PipelineStatus{
		Running:   running,
		Mode:      modeStatus.Current,
		StartTime: startTime,
		Uptime:    uptime,
		Processed: o.processed.Load(),
		Errors:    o.errCount.Load(),
		Stream:    streamStatus,
		Modes:     modeStatus,
		Health:    o.monitor.Aggregate("pipeline"),
	}
}

// Shutdown stops the pipeline and releases owned resources. Idempotent.
func (o *Orchestrator) Shutdown() error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.shutdown {
		return nil
	}

	var err error
	if o.running {
		err = o.stopPipelineLocked()
	}
	o.shutdown = true
	o.bus.Publish("platform", "shutdown", nil)
	return err
}

func (o *Orchestrator) emitInfrastructure(records []map[string]any, provider string) {
	o.dispatch(records, provider)
}

func (o *Orchestrator) emitSimulation(records []map[string]any, scenario string) {
	if o.collab.Enrich != nil {
		enriched := make([]map[string]any, len(records))
		for i, rec := range records {
			enriched[i] = o.collab.Enrich(rec)
		}
		records = enriched
	}
	o.dispatch(records, scenario)
}

func (o *Orchestrator) dispatch(records []map[string]any, source string) {
	if len(records) == 0 {
		return
	}
	if err := o.streamer.Stream(records, stream.StreamOptions{Source: source}); err != nil {
		o.errCount.Add(1)
		if o.reg != nil {
			o.reg.Core.RecordError("platform", errors.Classify(err).String())
		}
		o.logger.Warn("record dispatch failed",
			"component", "platform", "source", source, "error", err)
		return
	}
	o.processed.Add(uint64(len(records)))
}

func (o *Orchestrator) streamerStatus() stream.Status {
	if o.streamer == nil {
		return stream.Status{}
	}
	return o.streamer.Status()
}

func (o *Orchestrator) controllerStatus() mode.Status {
	if o.controller == nil {
		return mode.Status{}
	}
	return o.controller.Status()
}

// onStreamEvent keeps the stream health entry current between lifecycle
// transitions as deliveries succeed and fail.
func (o *Orchestrator) onStreamEvent(ev event.Event) {
	if ev.Component != "stream" {
		return
	}
	switch ev.Name {
	case "flush_failed", "batch_delivered", "started", "stopped":
		o.refreshStreamHealth()
	}
}

// refreshHealth rewrites every monitor entry. Called at lifecycle
// transitions, never from Status.
func (o *Orchestrator) refreshHealth(running bool) {
	if running {
		o.monitor.Update("platform", health.Healthy("", "pipeline running"))
	} else {
		o.monitor.Update("platform", health.Unhealthy("", "pipeline stopped"))
	}
	o.refreshStreamHealth()
	o.refreshModeHealth(running)
}

func (o *Orchestrator) refreshStreamHealth() {
	if o.streamer == nil {
		return
	}

	hs := health.FromComponent("stream", o.streamer.Health())
	if hs.Healthy && o.streamer.Breaker().State() == stream.BreakerOpen {
		degraded := health.Degraded("stream", "circuit breaker open, deliveries deferred")
		degraded.Metrics = hs.Metrics
		hs = degraded
	}
	o.monitor.Update("stream", hs)
}

func (o *Orchestrator) refreshModeHealth(running bool) {
	ms := o.controllerStatus()
	if running && ms.Current == "" {
		o.monitor.Update("mode", health.Unhealthy("", "no active mode"))
	} else if h, ok := ms.Handlers[ms.Current]; ok && running && !h.Active {
		o.monitor.Update("mode", health.Degraded("", "current mode handler inactive"))
	} else {
		o.monitor.Update("mode", health.Healthy("", string(ms.Current)))
	}
}
