// Package retry provides backoff computation and retry execution for
// transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	// Exponential multiplies the delay by Multiplier after each attempt.
	Exponential Strategy = iota
	// Linear grows the delay as InitialDelay * attempt. The worker pool uses
	// this for its requeue delay.
	Linear
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = run once)
	InitialDelay time.Duration // Base delay between attempts
	MaxDelay     time.Duration // Ceiling on the delay between attempts
	Multiplier   float64       // Backoff multiplier for Exponential (typically 2.0)
	Strategy     Strategy      // Delay growth strategy
	AddJitter    bool          // Add randomness to prevent thundering herd
}

// DefaultConfig returns sensible defaults for retry operations
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Strategy:     Exponential,
		AddJitter:    true,
	}
}

// LinearConfig returns a linear backoff configuration with the given base
// delay and no jitter. Delay(n) is base*n, capped at maxDelay.
func LinearConfig(base, maxDelay time.Duration) Config {
	return Config{
		InitialDelay: base,
		MaxDelay:     maxDelay,
		Strategy:     Linear,
	}
}

// Delay returns the backoff delay preceding the given retry attempt.
// Attempt numbering starts at 1: Delay(1) is the pause before the first
// retry. Attempts below 1 return the initial delay.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return c.InitialDelay
	}

	var delay time.Duration
	switch c.Strategy {
	case Linear:
		delay = c.InitialDelay * time.Duration(attempt)
	default:
		delay = c.InitialDelay
		for i := 1; i < attempt; i++ {
			next := float64(delay) * c.Multiplier
			if c.MaxDelay > 0 && next > float64(c.MaxDelay) {
				return c.MaxDelay
			}
			delay = time.Duration(next)
		}
	}

	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Do executes fn with backoff retry per the configuration.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := cfg.Delay(attempt)
		if cfg.AddJitter && sleep > 0 {
			// Up to 25% jitter
			randMu.Lock()
			sleep += time.Duration(randSource.Int63n(int64(sleep/4) + 1))
			randMu.Unlock()
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
