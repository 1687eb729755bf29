package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/h7-ecom/api/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the counter reached its configured maximum.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

const (
	invoiceCounterScope = "invoices"
	invoiceNumberPad    = 6
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time

	mu         sync.Mutex
	configured map[string]repositories.CounterConfig
}

// NewCounterService constructs a service issuing sequence numbers on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &counterService{
		repo:       deps.Repository,
		clock:      func() time.Time { return clock().UTC() },
		configured: make(map[string]repositories.CounterConfig),
	}, nil
}

func (s *counterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	scope = strings.TrimSpace(scope)
	name = strings.TrimSpace(name)
	if scope == "" || name == "" {
		return CounterValue{}, fmt.Errorf("%w: scope and name are required", ErrCounterInvalidInput)
	}
	counterID := scope + ":" + name

	if err := s.configure(ctx, counterID, opts); err != nil {
		return CounterValue{}, s.mapError(err)
	}

	value, err := s.repo.Next(ctx, counterID, opts.Step)
	if err != nil {
		return CounterValue{}, s.mapError(err)
	}
	return CounterValue{Value: value, Formatted: formatCounter(s.clock(), value, opts)}, nil
}

// NextInvoiceNumber returns numbers such as INV-202504-000042. The sequence restarts every month.
func (s *counterService) NextInvoiceNumber(ctx context.Context) (string, error) {
	now := s.clock()
	period := fmt.Sprintf("%04d%02d", now.Year(), int(now.Month()))
	value, err := s.Next(ctx, invoiceCounterScope, period, CounterGenerationOptions{
		Step:      1,
		Prefix:    "INV-" + period + "-",
		PadLength: invoiceNumberPad,
	})
	if err != nil {
		return "", err
	}
	return value.Formatted, nil
}

// configure pushes step/max/initial settings once per counter and process.
func (s *counterService) configure(ctx context.Context, counterID string, opts CounterGenerationOptions) error {
	if opts.Step <= 0 && opts.MaxValue == nil && opts.InitialValue == nil {
		return nil
	}
	cfg := repositories.CounterConfig{Step: opts.Step, MaxValue: opts.MaxValue, InitialValue: opts.InitialValue}

	s.mu.Lock()
	defer s.mu.Unlock()
	if previous, ok := s.configured[counterID]; ok && sameCounterConfig(previous, cfg) {
		return nil
	}
	if err := s.repo.Configure(ctx, counterID, cfg); err != nil {
		return err
	}
	s.configured[counterID] = cfg
	return nil
}

func (s *counterService) mapError(err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		case repositories.CounterErrorExhausted:
			return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
		}
	}
	return err
}

func sameCounterConfig(a, b repositories.CounterConfig) bool {
	return a.Step == b.Step && equalInt64Ptr(a.MaxValue, b.MaxValue) && equalInt64Ptr(a.InitialValue, b.InitialValue)
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func formatCounter(now time.Time, value int64, opts CounterGenerationOptions) string {
	if opts.Formatter != nil {
		return opts.Formatter(now, value)
	}
	formatted := strconv.FormatInt(value, 10)
	if opts.PadLength > 0 {
		formatted = fmt.Sprintf("%0*d", opts.PadLength, value)
	}
	return opts.Prefix + formatted + opts.Suffix
}
