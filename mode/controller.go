package mode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/telempipe/errors"
	"github.com/c360/telempipe/event"
	"github.com/c360/telempipe/metric"
)

// TransitionFunc runs before a mode switch takes effect. A returned error
// aborts the switch with the old mode still active.
type TransitionFunc func(ctx context.Context, from, to Mode) error

// SwitchResult reports what a SwitchMode call did.
type SwitchResult struct {
	Changed bool `json:"changed"`
	From    Mode `json:"from"`
	To      Mode `json:"to"`
}

// Status is a snapshot of the controller and its registered handlers.
type Status struct {
	Current  Mode                   `json:"current"`
	Handlers map[Mode]HandlerStatus `json:"handlers"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithBus attaches an event bus for transition notifications.
func WithBus(bus *event.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics enables the active-mode gauge.
func WithMetrics(reg *metric.Registry) Option {
	return func(c *Controller) { c.reg = reg }
}

// WithStopGrace sets the grace period granted to a handler being stopped
// during a transition. Defaults to 10 seconds.
func WithStopGrace(grace time.Duration) Option {
	return func(c *Controller) {
		if grace > 0 {
			c.stopGrace = grace
		}
	}
}

type transitionKey struct {
	from Mode
	to   Mode
}

// Controller owns the operating-mode state machine. Exactly one mode is
// current at a time; a switch stops the old handler, updates the state, and
// starts the new handler as one step that no other switch may interleave
// with. The switch mutex is held for the full transition, so concurrent
// SwitchMode calls serialize rather than race.
type Controller struct {
	mu        sync.Mutex
	current   Mode
	handlers  map[Mode]Handler
	callbacks map[transitionKey][]TransitionFunc
	stopGrace time.Duration

	bus    *event.Bus
	logger *slog.Logger
	reg    *metric.Registry
}

// NewController creates a controller with no active mode. Handlers must be
// registered before the first switch.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		handlers:  make(map[Mode]Handler),
		callbacks: make(map[transitionKey][]TransitionFunc),
		stopGrace: 10 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterHandler binds a handler to a mode. Unknown mode names are
// rejected; registering a mode twice replaces the handler.
func (c *Controller) RegisterHandler(m Mode, h Handler) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}
	if h == nil {
		return errors.WrapInvalid(
			fmt.Errorf("nil handler for mode %q", m),
			"ModeController", "RegisterHandler", "validate handler")
	}

	c.mu.Lock()
	c.handlers[m] = h
	c.mu.Unlock()
	return nil
}

// OnTransition registers a callback for the (from, to) transition.
// Callbacks run in registration order before the old handler stops.
func (c *Controller) OnTransition(from, to Mode, fn TransitionFunc) {
	if fn == nil {
		return
	}
	key := transitionKey{from: from, to: to}

	c.mu.Lock()
	c.callbacks[key] = append(c.callbacks[key], fn)
	c.mu.Unlock()
}

// SwitchMode transitions to newMode. Switching to the current mode without
// Force is a no-op with Changed=false. The sequence is: validate options,
// run transition callbacks, stop the old handler, update the current mode,
// start the new handler, notify observers. Validation and callback errors
// leave the old mode running untouched.
func (c *Controller) SwitchMode(ctx context.Context, newMode Mode, opts Options) (SwitchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handler, ok := c.handlers[newMode]
	if !ok {
		return SwitchResult{}, errors.WrapInvalid(
			fmt.Errorf("%w: no handler registered for %q", errors.ErrInvalidMode, newMode),
			"ModeController", "SwitchMode", "resolve handler")
	}

	old := c.current
	if newMode == old && !opts.Force {
		return SwitchResult{Changed: false, From: old, To: old}, nil
	}

	if err := ValidateModeConfig(newMode, opts); err != nil {
		return SwitchResult{}, err
	}

	key := transitionKey{from: old, to: newMode}
	for _, fn := range c.callbacks[key] {
		if err := fn(ctx, old, newMode); err != nil {
			return SwitchResult{}, errors.Wrap(err,
				"ModeController", "SwitchMode", fmt.Sprintf("transition callback %s to %s", old, newMode))
		}
	}

	if oldHandler, ok := c.handlers[old]; ok && oldHandler.Active() {
		if err := oldHandler.Stop(c.stopGrace); err != nil {
			c.logger.Warn("old mode handler stop failed",
				"component", "mode", "mode", string(old), "error", err)
		}
	}

	c.current = newMode

	if err := handler.Start(ctx, opts); err != nil {
		c.notify(old, newMode, false)
		return SwitchResult{Changed: true, From: old, To: newMode}, errors.Wrap(err,
			"ModeController", "SwitchMode", fmt.Sprintf("start %s handler", newMode))
	}

	c.notify(old, newMode, true)
	return SwitchResult{Changed: true, From: old, To: newMode}, nil
}

// CurrentMode returns the current mode, or empty before the first switch.
func (c *Controller) CurrentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Status returns the controller snapshot including every registered handler.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	handlers := make(map[Mode]HandlerStatus, len(c.handlers))
	for m, h := range c.handlers {
		handlers[m] = h.Status()
	}
	return Status{Current: c.current, Handlers: handlers}
}

// Shutdown stops the current mode's handler and clears the current mode.
// Idempotent: shutting down with no active mode is a no-op.
func (c *Controller) Shutdown(grace time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == "" {
		return nil
	}

	var err error
	if h, ok := c.handlers[c.current]; ok && h.Active() {
		if stopErr := h.Stop(grace); stopErr != nil {
			err = errors.Wrap(stopErr, "ModeController", "Shutdown",
				fmt.Sprintf("stop %s handler", c.current))
		}
	}
	c.current = ""
	return err
}

func (c *Controller) notify(from, to Mode, started bool) {
	if c.reg != nil {
		all := make([]string, 0, len(Modes()))
		for _, m := range Modes() {
			all = append(all, string(m))
		}
		c.reg.Core.RecordModeActive(string(to), all)
	}
	c.bus.Publish("mode", "switched", map[string]any{
		"from":    string(from),
		"to":      string(to),
		"started": started,
	})
}
