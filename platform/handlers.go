package platform

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/telempipe/config"
	"github.com/c360/telempipe/errors"
	"github.com/c360/telempipe/mode"
	"github.com/c360/telempipe/pkg/retry"
	"github.com/c360/telempipe/worker"
)

// emitFunc hands a batch of produced records to the orchestrator, which
// enriches and buffers them.
type emitFunc func(records []map[string]any, source string)

// infraHandler polls discovery providers and pushes transformed records
// through a collection pool into the streaming layer.
type infraHandler struct {
	poolCfg   worker.Config
	poolOpts  []worker.Option[map[string]any]
	cfg       config.Infrastructure
	discovery DiscoverySource
	transform TransformFunc
	emit      emitFunc
	logger    *slog.Logger
	retryCfg  retry.Config

	mu     sync.Mutex
	active bool
	// pool lives for one activation; pools cannot be restarted, so every
	// Start builds a fresh one.
	pool   *worker.DataCollectionPool[map[string]any, map[string]any]
	quit   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	polls atomic.Uint64
}

func newInfraHandler(
	poolCfg worker.Config,
	cfg config.Infrastructure,
	discovery DiscoverySource,
	transform TransformFunc,
	emit emitFunc,
	logger *slog.Logger,
	poolOpts ...worker.Option[map[string]any],
) *infraHandler {
	return &infraHandler{
		poolCfg:   poolCfg,
		poolOpts:  poolOpts,
		cfg:       cfg,
		discovery: discovery,
		transform: transform,
		emit:      emit,
		logger:    logger,
		retryCfg: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
	}
}

func (h *infraHandler) Start(ctx context.Context, opts mode.Options) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"infraHandler", "Start", "start infrastructure collection")
	}
	if h.discovery == nil || h.transform == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"infraHandler", "Start", "discovery and transform collaborators required")
	}

	h.pool = worker.NewDataCollectionPool[map[string]any, map[string]any](h.poolCfg, 0, h.poolOpts...)
	if err := h.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "infraHandler", "Start", "start collection pool")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	h.quit = make(chan struct{})
	h.cancel = cancel
	h.active = true
	h.wg.Add(1)
	go h.pollLoop(pollCtx, opts)
	return nil
}

func (h *infraHandler) pollLoop(ctx context.Context, opts mode.Options) {
	defer h.wg.Done()

	h.pollOnce(ctx, opts)

	interval := h.cfg.PollInterval.Std()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.pollOnce(ctx, opts)
		case <-h.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *infraHandler) pollOnce(ctx context.Context, opts mode.Options) {
	h.polls.Add(1)

	for _, provider := range opts.Providers {
		// Provider APIs flap; retry transient discovery failures within the
		// poll instead of waiting a whole interval. Invalid errors
		// (bad credentials, unknown provider) are not retried.
		result, err := retry.DoWithResult(ctx, h.retryCfg, func() (DiscoveryResult, error) {
			res, derr := h.discovery.Discover(ctx, provider)
			if derr != nil && errors.Classify(derr) == errors.ErrorInvalid {
				return res, retry.NonRetryable(derr)
			}
			return res, derr
		})
		if err != nil {
			h.logger.Warn("discovery failed",
				"component", "infrastructure", "provider", provider, "error", err)
			continue
		}

		records := h.pool.CollectBatch(ctx, result.Resources,
			func(_ context.Context, resource map[string]any) (map[string]any, error) {
				return h.transform(resource)
			})
		if len(records) > 0 {
			h.emit(records, provider)
		}
	}
}

func (h *infraHandler) Stop(timeout time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.active {
		return nil
	}

	// Cancel first so a poll blocked in retry backoff unwinds promptly.
	h.cancel()
	close(h.quit)
	h.wg.Wait()
	h.active = false

	if err := h.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "infraHandler", "Stop", "stop collection pool")
	}
	return nil
}

func (h *infraHandler) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *infraHandler) Status() mode.HandlerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	detail := map[string]any{"polls": h.polls.Load()}
	if h.pool != nil {
		detail["pool"] = h.pool.Status()
	}
	return mode.HandlerStatus{Active: h.active, Detail: detail}
}

// simEntity addresses one synthetic entity within a scenario.
type simEntity struct {
	Scenario string
	Index    int
}

// simHandler generates synthetic records for the configured scenarios on a
// fixed tick.
type simHandler struct {
	poolCfg  worker.Config
	poolOpts []worker.Option[map[string]any]
	cfg      config.Simulation
	generate GenerateFunc
	emit     emitFunc
	logger   *slog.Logger

	mu     sync.Mutex
	active bool
	// pool lives for one activation, same as the infrastructure handler.
	pool *worker.SimulationPool[simEntity, map[string]any]
	quit chan struct{}
	wg   sync.WaitGroup

	ticks atomic.Uint64
}

func newSimHandler(
	poolCfg worker.Config,
	cfg config.Simulation,
	generate GenerateFunc,
	emit emitFunc,
	logger *slog.Logger,
	poolOpts ...worker.Option[map[string]any],
) *simHandler {
	return &simHandler{
		poolCfg:  poolCfg,
		poolOpts: poolOpts,
		cfg:      cfg,
		generate: generate,
		emit:     emit,
		logger:   logger,
	}
}

func (h *simHandler) Start(ctx context.Context, opts mode.Options) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"simHandler", "Start", "start simulation")
	}
	if h.generate == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"simHandler", "Start", "generate collaborator required")
	}

	h.pool = worker.NewSimulationPool[simEntity, map[string]any](h.poolCfg, h.poolOpts...)
	for _, scenario := range opts.Scenarios {
		err := h.pool.RegisterGenerator(scenario,
			func(ctx context.Context, e simEntity) (map[string]any, error) {
				return h.generate(ctx, e.Scenario, e.Index)
			})
		if err != nil {
			return errors.Wrap(err, "simHandler", "Start", "register scenario generator")
		}
	}

	if err := h.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "simHandler", "Start", "start simulation pool")
	}

	h.quit = make(chan struct{})
	h.active = true
	h.wg.Add(1)
	go h.tickLoop(ctx, opts)
	return nil
}

func (h *simHandler) tickLoop(ctx context.Context, opts mode.Options) {
	defer h.wg.Done()

	h.tick(ctx, opts)

	interval := h.cfg.TickInterval.Std()
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.tick(ctx, opts)
		case <-h.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *simHandler) tick(ctx context.Context, opts mode.Options) {
	h.ticks.Add(1)

	count := h.entityCount(opts)
	for _, scenario := range opts.Scenarios {
		entities := make([]simEntity, count)
		for i := range entities {
			entities[i] = simEntity{Scenario: scenario, Index: i}
		}

		records, err := h.pool.GenerateBatch(ctx, entities, scenario)
		if err != nil {
			h.logger.Warn("generation failed",
				"component", "simulation", "scenario", scenario, "error", err)
			continue
		}
		if len(records) > 0 {
			h.emit(records, scenario)
		}
	}
}

// entityCount scales the configured entity count by the simulation weight
// hint in hybrid mode. The weight is advisory load shaping, nothing more.
func (h *simHandler) entityCount(opts mode.Options) int {
	count := h.cfg.EntityCount
	if count <= 0 {
		count = 1
	}
	if w := opts.Weights.Simulation; w > 0 && w < 100 {
		scaled := count * w / 100
		if scaled < 1 {
			scaled = 1
		}
		count = scaled
	}
	return count
}

func (h *simHandler) Stop(timeout time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.active {
		return nil
	}

	close(h.quit)
	h.wg.Wait()
	h.active = false

	if err := h.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "simHandler", "Stop", "stop simulation pool")
	}
	return nil
}

func (h *simHandler) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *simHandler) Status() mode.HandlerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	detail := map[string]any{"ticks": h.ticks.Load()}
	if h.pool != nil {
		detail["pool"] = h.pool.Status()
	}
	return mode.HandlerStatus{Active: h.active, Detail: detail}
}
