// Package mode implements the operating-mode state machine for the pipeline.
//
// Three modes exist: simulation (synthetic telemetry), infrastructure (real
// provider polling), and hybrid (both at once, split by weight hints). One
// Handler is registered per mode; the Controller guarantees exactly one mode
// is current and that a switch runs as a single uninterleaved step.
package mode
