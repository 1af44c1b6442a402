package mode

import (
	"context"
	"time"

	"github.com/c360/telempipe/errors"
)

// HandlerStatus is a plain snapshot of one handler.
type HandlerStatus struct {
	Active bool           `json:"active"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Handler runs one data-acquisition strategy. One instance is registered per
// mode at wiring time; the controller starts and stops it on every
// transition but never destroys it until teardown.
type Handler interface {
	Start(ctx context.Context, opts Options) error
	Stop(timeout time.Duration) error
	Active() bool
	Status() HandlerStatus
}

// HybridHandler runs the infrastructure and simulation handlers together.
// Both receive the full options, including the weight hints; the split
// itself is advisory and left to the handlers.
type HybridHandler struct {
	infrastructure Handler
	simulation     Handler
}

// NewHybridHandler composes the two underlying handlers.
func NewHybridHandler(infrastructure, simulation Handler) *HybridHandler {
	return &HybridHandler{
		infrastructure: infrastructure,
		simulation:     simulation,
	}
}

// Start starts both handlers. If the second fails to start, the first is
// stopped again so hybrid activation is all-or-nothing.
func (h *HybridHandler) Start(ctx context.Context, opts Options) error {
	if err := h.infrastructure.Start(ctx, opts); err != nil {
		return errors.Wrap(err, "HybridHandler", "Start", "start infrastructure handler")
	}
	if err := h.simulation.Start(ctx, opts); err != nil {
		if stopErr := h.infrastructure.Stop(5 * time.Second); stopErr != nil {
			return errors.Wrap(stopErr, "HybridHandler", "Start", "roll back infrastructure handler")
		}
		return errors.Wrap(err, "HybridHandler", "Start", "start simulation handler")
	}
	return nil
}

// Stop tears down both handlers, attempting both even if the first fails.
func (h *HybridHandler) Stop(timeout time.Duration) error {
	infraErr := h.infrastructure.Stop(timeout)
	simErr := h.simulation.Stop(timeout)
	if infraErr != nil {
		return errors.Wrap(infraErr, "HybridHandler", "Stop", "stop infrastructure handler")
	}
	if simErr != nil {
		return errors.Wrap(simErr, "HybridHandler", "Stop", "stop simulation handler")
	}
	return nil
}

// Active reports whether both underlying handlers are running.
func (h *HybridHandler) Active() bool {
	return h.infrastructure.Active() && h.simulation.Active()
}

// Status reports both underlying handler snapshots.
func (h *HybridHandler) Status() HandlerStatus {
	return HandlerStatus{
		Active: h.Active(),
		Detail: map[string]any{
			"infrastructure": h.infrastructure.Status(),
			"simulation":     h.simulation.Status(),
		},
	}
}
