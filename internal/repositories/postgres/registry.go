package postgres

import (
	"context"
	"time"

	"github.com/h7-ecom/api/internal/repositories"
)

// Registry exposes the Postgres repositories behind repositories.Registry.
type Registry struct {
	db        *DB
	orders    *OrderRepository
	invoices  *InvoiceRepository
	inventory *InventoryRepository
	counters  *CounterRepository
	settings  *SettingsRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires the repositories to db.
func NewRegistry(db *DB) *Registry {
	return &Registry{
		db:        db,
		orders:    &OrderRepository{db: db},
		invoices:  &InvoiceRepository{db: db},
		inventory: &InventoryRepository{db: db},
		counters:  &CounterRepository{db: db, clock: time.Now},
		settings:  &SettingsRepository{db: db},
	}
}

func (r *Registry) Close(context.Context) error {
	r.db.Close()
	return nil
}

func (r *Registry) Orders() repositories.OrderRepository        { return r.orders }
func (r *Registry) Invoices() repositories.InvoiceRepository    { return r.invoices }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }
func (r *Registry) Counters() repositories.CounterRepository    { return r.counters }
func (r *Registry) Settings() repositories.SettingsRepository   { return r.settings }
func (r *Registry) Ping(ctx context.Context) error              { return r.db.Ping(ctx) }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}
