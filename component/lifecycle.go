// Package component defines the lifecycle and health contracts shared by all
// pipeline components.
package component

import (
	"context"
	"time"
)

// Lifecycle defines components that support full lifecycle management:
//
//   - Initialize() error                  // setup/create only, no context
//   - Start(ctx context.Context) error    // start with context passed through
//   - Stop(timeout time.Duration) error   // graceful shutdown with deadline
//
// Components never store the context; they receive it as a parameter and the
// owner coordinates cancellation.
type Lifecycle interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// HealthStatus is the plain, side-effect-free snapshot every component
// exposes for observability.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// HealthReporter is implemented by components that expose a health snapshot.
type HealthReporter interface {
	Health() HealthStatus
}
