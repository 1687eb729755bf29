// Package memory implements the repository contracts in process memory. Writes made inside
// RunInTx are journalled and undone when the unit of work fails; orders touched through
// LockByID stay locked until the unit of work ends.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/repositories"
)

// Store holds all aggregates behind a single mutex with per-order locks layered on top.
type Store struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	invoices map[string]domain.Invoice
	numbers  map[string]string
	products map[string]domain.Product
	counters map[string]counterState
	settings domain.NotificationSettings

	locksMu    sync.Mutex
	orderLocks map[string]*sync.Mutex

	orderRepo     *orderRepository
	invoiceRepo   *invoiceRepository
	inventoryRepo *inventoryRepository
	counterRepo   *counterRepository
	settingsRepo  *settingsRepository
}

type counterState struct {
	value int64
	cfg   repositories.CounterConfig
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{
		orders:     make(map[string]domain.Order),
		invoices:   make(map[string]domain.Invoice),
		numbers:    make(map[string]string),
		products:   make(map[string]domain.Product),
		counters:   make(map[string]counterState),
		orderLocks: make(map[string]*sync.Mutex),
	}
	s.orderRepo = &orderRepository{store: s}
	s.invoiceRepo = &invoiceRepository{store: s}
	s.inventoryRepo = &inventoryRepository{store: s}
	s.counterRepo = &counterRepository{store: s}
	s.settingsRepo = &settingsRepository{store: s}
	return s
}

func (s *Store) Orders() repositories.OrderRepository        { return s.orderRepo }
func (s *Store) Invoices() repositories.InvoiceRepository    { return s.invoiceRepo }
func (s *Store) Inventory() repositories.InventoryRepository { return s.inventoryRepo }
func (s *Store) Counters() repositories.CounterRepository    { return s.counterRepo }
func (s *Store) Settings() repositories.SettingsRepository   { return s.settingsRepo }
func (s *Store) Ping(context.Context) error                  { return nil }
func (s *Store) Close(context.Context) error                 { return nil }

type txKey struct{}

type tx struct {
	undo   []func()
	locked []*sync.Mutex
}

// RunInTx runs fn as one unit of work. A failing fn has every journalled write reverted before
// the per-order locks it acquired are released.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if _, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(ctx)
	}

	current := &tx{}
	defer func() {
		if r := recover(); r != nil {
			s.rollback(current)
			s.release(current)
			panic(r)
		}
		if err != nil {
			s.rollback(current)
		}
		s.release(current)
	}()

	return fn(context.WithValue(ctx, txKey{}, current))
}

func (s *Store) rollback(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (s *Store) release(t *tx) {
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].Unlock()
	}
	t.locked = nil
}

// journal records an undo step when ctx carries a unit of work. Callers hold s.mu.
func journal(ctx context.Context, undo func()) {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		t.undo = append(t.undo, undo)
	}
}

// lockOrder acquires the per-order mutex for the lifetime of the unit of work in ctx.
func (s *Store) lockOrder(ctx context.Context, orderID string) {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok {
		return
	}
	s.locksMu.Lock()
	lock, exists := s.orderLocks[orderID]
	if !exists {
		lock = &sync.Mutex{}
		s.orderLocks[orderID] = lock
	}
	s.locksMu.Unlock()

	for _, held := range t.locked {
		if held == lock {
			return
		}
	}
	lock.Lock()
	t.locked = append(t.locked, lock)
}

// Error implements repositories.RepositoryError for the memory store.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("memory %s: %s", e.op, e.msg)
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}
