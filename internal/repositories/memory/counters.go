package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/h7-ecom/api/internal/repositories"
)

type counterRepository struct {
	store *Store
}

func (r *counterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.counters[id]
	increment := step
	if increment == 0 {
		increment = max(state.cfg.Step, 1)
	}
	next := state.value + increment
	if state.cfg.MaxValue != nil && next > *state.cfg.MaxValue {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted,
			fmt.Sprintf("counter %s exceeded max value %d", id, *state.cfg.MaxValue), nil)
	}
	state.value = next
	s.counters[id] = state
	return next, nil
}

func (r *counterRepository) Configure(_ context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.counters[id]
	if cfg.Step > 0 {
		state.cfg.Step = cfg.Step
	}
	if cfg.MaxValue != nil {
		state.cfg.MaxValue = cfg.MaxValue
	}
	if cfg.InitialValue != nil && state.value == 0 {
		state.value = *cfg.InitialValue
	}
	s.counters[id] = state
	return nil
}
