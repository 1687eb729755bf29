package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/repositories"
)

const (
	invoiceIDPrefix   = "inv_"
	defaultInvoiceDue = 30 * 24 * time.Hour
)

var (
	// ErrInvoiceInvalidInput signals the order cannot be invoiced as given.
	ErrInvoiceInvalidInput = errors.New("invoice: invalid input")
	// ErrInvoiceNotFound indicates no invoice exists for the order.
	ErrInvoiceNotFound = errors.New("invoice: not found")
	// ErrInvoiceConflict indicates a uniqueness violation other than the per-order one.
	ErrInvoiceConflict = errors.New("invoice: conflict")
)

// InvoiceServiceDeps bundles collaborators required to construct the invoice service.
type InvoiceServiceDeps struct {
	Invoices    repositories.InvoiceRepository
	Counters    CounterService
	DueIn       time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type invoiceService struct {
	invoices repositories.InvoiceRepository
	counters CounterService
	dueIn    time.Duration
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewInvoiceService constructs the invoice issuer.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Invoices == nil {
		return nil, errors.New("invoice service: invoice repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("invoice service: counter service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	dueIn := deps.DueIn
	if dueIn <= 0 {
		dueIn = defaultInvoiceDue
	}
	return &invoiceService{
		invoices: deps.Invoices,
		counters: deps.Counters,
		dueIn:    dueIn,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// EnsureInvoice returns the order's invoice, issuing it on first call. The final write is a
// single insert-or-fetch keyed by order id, so racing callers converge on one invoice.
func (s *invoiceService) EnsureInvoice(ctx context.Context, order Order) (Invoice, error) {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return Invoice{}, fmt.Errorf("%w: order id is required", ErrInvoiceInvalidInput)
	}

	existing, err := s.invoices.FindByOrderID(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !isRepositoryNotFound(err) {
		return Invoice{}, s.mapRepositoryError(err)
	}

	number, err := s.counters.NextInvoiceNumber(ctx)
	if err != nil {
		return Invoice{}, err
	}

	now := s.clock()
	due := now.Add(s.dueIn)
	candidate := Invoice{
		ID:        invoiceIDPrefix + s.newID(),
		Number:    number,
		OrderID:   orderID,
		Total:     order.Total,
		Currency:  order.Currency,
		Status:    domain.InvoiceStatusUnpaid,
		DueDate:   &due,
		CreatedAt: now,
	}

	stored, created, err := s.invoices.InsertOrGet(ctx, candidate)
	if err != nil {
		return Invoice{}, s.mapRepositoryError(err)
	}
	if created {
		s.logger(ctx, "invoice.issued", map[string]any{
			"orderId": orderID,
			"invoice": stored.Number,
			"total":   stored.Total.StringFixed(2),
		})
	} else {
		s.logger(ctx, "invoice.reused", map[string]any{
			"orderId":         orderID,
			"invoice":         stored.Number,
			"discardedNumber": number,
		})
	}
	return stored, nil
}

func (s *invoiceService) FindByOrderID(ctx context.Context, orderID string) (Invoice, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Invoice{}, fmt.Errorf("%w: order id is required", ErrInvoiceInvalidInput)
	}
	invoice, err := s.invoices.FindByOrderID(ctx, orderID)
	if err != nil {
		return Invoice{}, s.mapRepositoryError(err)
	}
	return invoice, nil
}

func (s *invoiceService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInvoiceNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrInvoiceConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("invoice: repository unavailable: %w", err)
		}
	}
	return err
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
