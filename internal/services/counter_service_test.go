package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/h7-ecom/api/internal/repositories"
)

type stubCounterRepository struct {
	mu             sync.Mutex
	nextFn         func(context.Context, string, int64) (int64, error)
	configureFn    func(context.Context, string, repositories.CounterConfig) error
	nextIDs        []string
	configureCalls int
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	s.nextIDs = append(s.nextIDs, counterID)
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	s.mu.Lock()
	s.configureCalls++
	s.mu.Unlock()
	if s.configureFn != nil {
		return s.configureFn(ctx, counterID, cfg)
	}
	return nil
}

func TestCounterServiceNextInvoiceNumber(t *testing.T) {
	repo := &stubCounterRepository{nextFn: func(context.Context, string, int64) (int64, error) { return 42, nil }}
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: func() time.Time {
		return time.Date(2025, time.April, 3, 10, 0, 0, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	number, err := svc.NextInvoiceNumber(context.Background())
	if err != nil {
		t.Fatalf("next invoice number: %v", err)
	}
	if number != "INV-202504-000042" {
		t.Fatalf("unexpected invoice number %s", number)
	}
	if len(repo.nextIDs) != 1 || repo.nextIDs[0] != "invoices:202504" {
		t.Fatalf("unexpected counter ids %v", repo.nextIDs)
	}
}

func TestCounterServiceConfiguresOnce(t *testing.T) {
	repo := &stubCounterRepository{}
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Next(ctx, "invoices", "202504", CounterGenerationOptions{Step: 1}); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if repo.configureCalls != 1 {
		t.Fatalf("expected one configure call, got %d", repo.configureCalls)
	}
}

func TestCounterServiceMapsRepositoryErrors(t *testing.T) {
	repo := &stubCounterRepository{nextFn: func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "max reached", nil)
	}}
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	if _, err := svc.Next(context.Background(), "invoices", "x", CounterGenerationOptions{}); !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected ErrCounterExhausted, got %v", err)
	}
	if _, err := svc.Next(context.Background(), "", "x", CounterGenerationOptions{}); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected ErrCounterInvalidInput, got %v", err)
	}
}
