// Package health aggregates component health snapshots into one
// pipeline-level status suitable for a health-check endpoint.
package health

import (
	"time"

	"github.com/c360/telempipe/component"
)

// Status is the health state of one component or of the whole pipeline.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries health-related counters alongside a status.
type Metrics struct {
	Uptime           time.Duration `json:"uptime"`
	ErrorCount       int           `json:"error_count"`
	RecordsProcessed int64         `json:"records_processed,omitempty"`
	LastActivity     time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.Status == "healthy" }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.Status == "degraded" }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.Status == "unhealthy" }

// Healthy creates a healthy status.
func Healthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Degraded creates a degraded status.
func Degraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Unhealthy creates an unhealthy status.
func Unhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// FromComponent converts a component health snapshot into a Status.
func FromComponent(name string, ch component.HealthStatus) Status {
	s := Healthy(name, "component healthy")
	if !ch.Healthy {
		s = Unhealthy(name, ch.LastError)
	}
	s.Metrics = &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}
	return s
}

// Aggregate rolls sub-statuses up into one status. Any unhealthy
// sub-status makes the aggregate unhealthy; otherwise any degraded
// sub-status makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return Healthy(component, "no sub-components")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var s Status
	switch {
	case hasUnhealthy:
		s = Unhealthy(component, "one or more sub-components are unhealthy")
	case hasDegraded:
		s = Degraded(component, "one or more sub-components are degraded")
	default:
		s = Healthy(component, "all sub-components are healthy")
	}

	s.SubStatuses = make([]Status, len(subStatuses))
	copy(s.SubStatuses, subStatuses)
	return s
}
