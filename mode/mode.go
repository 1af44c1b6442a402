package mode

import (
	"fmt"

	"github.com/c360/telempipe/errors"
)

// Mode is one of the data-acquisition strategies.
type Mode string

const (
	// ModeSimulation produces synthetic telemetry from registered scenarios.
	ModeSimulation Mode = "simulation"
	// ModeInfrastructure polls real telemetry from discovery providers.
	ModeInfrastructure Mode = "infrastructure"
	// ModeHybrid runs both strategies concurrently with weight hints.
	ModeHybrid Mode = "hybrid"
)

// Modes returns all known modes.
func Modes() []Mode {
	return []Mode{ModeSimulation, ModeInfrastructure, ModeHybrid}
}

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSimulation, ModeInfrastructure, ModeHybrid:
		return Mode(s), nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrInvalidMode, s),
			"mode", "ParseMode", "parse mode name")
	}
}

// Weights split hybrid load between the two strategies. The values are
// advisory hints passed to the handlers, not enforced by the controller;
// they must sum to 100.
type Weights struct {
	Infrastructure int `json:"infrastructure" yaml:"infrastructure"`
	Simulation     int `json:"simulation" yaml:"simulation"`
}

// Options configure a mode activation.
type Options struct {
	// Force re-activates the current mode instead of short-circuiting.
	Force bool
	// Weights apply in hybrid mode.
	Weights Weights
	// Providers names the discovery providers for infrastructure mode.
	Providers []string
	// Scenarios names the synthetic scenarios for simulation mode.
	Scenarios []string
}

// ValidateModeConfig performs the structural checks for activating a mode
// with the given options. A validation failure prevents the switch; the
// controller stays in its prior mode.
func ValidateModeConfig(m Mode, opts Options) error {
	switch m {
	case ModeInfrastructure:
		if len(opts.Providers) == 0 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: infrastructure mode requires at least one provider", errors.ErrInvalidModeConfig),
				"mode", "ValidateModeConfig", "validate infrastructure options")
		}
	case ModeSimulation:
		if len(opts.Scenarios) == 0 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: simulation mode requires at least one scenario", errors.ErrInvalidModeConfig),
				"mode", "ValidateModeConfig", "validate simulation options")
		}
	case ModeHybrid:
		if sum := opts.Weights.Infrastructure + opts.Weights.Simulation; sum != 100 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: hybrid weights must sum to 100, got %d", errors.ErrInvalidModeConfig, sum),
				"mode", "ValidateModeConfig", "validate hybrid weights")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrInvalidMode, m),
			"mode", "ValidateModeConfig", "resolve mode")
	}
	return nil
}
