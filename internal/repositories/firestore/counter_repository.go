package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pfirestore "github.com/h7-ecom/api/internal/platform/firestore"
	"github.com/h7-ecom/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
// Each allocation commits on its own, detached from any caller transaction.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
	clock    func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection),
		clock:    time.Now,
	}, nil
}

// Next atomically increments the counter identified by counterID and returns the next value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	var next int64
	err := r.provider.RunTransaction(pfirestore.WithoutTransaction(ctx), func(ctx context.Context) error {
		doc, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		increment := step
		if increment == 0 {
			increment = max(doc.Step, 1)
		}
		value := doc.CurrentValue + increment
		if doc.MaxValue != nil && value > *doc.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted,
				fmt.Sprintf("counter %s exceeded max value %d", id, *doc.MaxValue), nil)
		}
		doc.CurrentValue = value
		doc.UpdatedAt = r.clock().UTC()
		next = value
		return r.counters.Set(ctx, id, doc)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Configure updates step size and max value. InitialValue only applies to a counter that has
// not issued a value yet.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	return r.provider.RunTransaction(pfirestore.WithoutTransaction(ctx), func(ctx context.Context) error {
		doc, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		if cfg.Step > 0 {
			doc.Step = cfg.Step
		}
		if cfg.MaxValue != nil {
			doc.MaxValue = cfg.MaxValue
		}
		if cfg.InitialValue != nil && doc.CurrentValue == 0 {
			doc.CurrentValue = *cfg.InitialValue
		}
		doc.UpdatedAt = r.clock().UTC()
		return r.counters.Set(ctx, id, doc)
	})
}

func (r *CounterRepository) load(ctx context.Context, id string) (counterDocument, error) {
	doc, err := r.counters.Get(ctx, id)
	switch {
	case err == nil:
		return doc.Data, nil
	case isNotFound(err):
		return counterDocument{}, nil
	default:
		return counterDocument{}, err
	}
}
