package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/telempipe/errors"
)

// GeneratorFunc produces one synthetic record for one entity.
type GeneratorFunc[E, R any] func(ctx context.Context, entity E) (R, error)

// SimulationPool is a thin specialization of Pool that routes entities to
// named generators. Unknown generator types fail the whole call: a
// configuration error must be visible immediately, unlike per-item data
// failures which are isolated.
type SimulationPool[E, R any] struct {
	pool *Pool[R]

	mu         sync.RWMutex
	generators map[string]GeneratorFunc[E, R]
}

// NewSimulationPool creates a simulation pool.
func NewSimulationPool[E, R any](cfg Config, opts ...Option[R]) *SimulationPool[E, R] {
	return &SimulationPool[E, R]{
		pool:       NewPool(cfg, opts...),
		generators: make(map[string]GeneratorFunc[E, R]),
	}
}

// Start starts the underlying pool.
func (s *SimulationPool[E, R]) Start(ctx context.Context) error {
	return s.pool.Start(ctx)
}

// Stop stops the underlying pool.
func (s *SimulationPool[E, R]) Stop(grace time.Duration) error {
	return s.pool.Stop(grace)
}

// Status returns the underlying pool status.
func (s *SimulationPool[E, R]) Status() Status {
	return s.pool.Status()
}

// RegisterGenerator registers the generator for a type key. Registering the
// same key twice replaces the previous generator.
func (s *SimulationPool[E, R]) RegisterGenerator(typeKey string, fn GeneratorFunc[E, R]) error {
	if typeKey == "" {
		return errors.WrapInvalid(
			fmt.Errorf("empty type key"), "SimulationPool", "RegisterGenerator", "validate key")
	}
	if fn == nil {
		return errors.WrapInvalid(ErrNilWork, "SimulationPool", "RegisterGenerator", "validate generator")
	}

	s.mu.Lock()
	s.generators[typeKey] = fn
	s.mu.Unlock()
	return nil
}

// GeneratorTypes returns the registered type keys.
func (s *SimulationPool[E, R]) GeneratorTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.generators))
	for k := range s.generators {
		keys = append(keys, k)
	}
	return keys
}

// GenerateBatch routes each entity through the generator registered for
// typeKey and returns the successfully generated records in entity order.
// An unknown typeKey fails the whole call.
func (s *SimulationPool[E, R]) GenerateBatch(ctx context.Context, entities []E, typeKey string) ([]R, error) {
	s.mu.RLock()
	fn, ok := s.generators[typeKey]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", ErrUnknownGenerator, typeKey),
			"SimulationPool", "GenerateBatch", "resolve generator")
	}

	works := make([]Work[R], len(entities))
	for i, entity := range entities {
		entity := entity // per-iteration copy; module targets Go >= 1.22 semantics
		works[i] = func(ctx context.Context) (R, error) {
			return fn(ctx, entity)
		}
	}

	outcomes := s.pool.SubmitBatch(ctx, works)
	records := make([]R, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			records = append(records, o.Value)
		}
	}
	return records, nil
}
