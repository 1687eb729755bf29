package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/h7-ecom/api/internal/platform/firestore"
	"github.com/h7-ecom/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	invoices  *InvoiceRepository
	inventory *InventoryRepository
	counters  *CounterRepository
	settings  *SettingsRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every Firestore repository to the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	invoices, err := NewInvoiceRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	settings, err := NewSettingsRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:  provider,
		orders:    orders,
		invoices:  invoices,
		inventory: inventory,
		counters:  counters,
		settings:  settings,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository        { return r.orders }
func (r *Registry) Invoices() repositories.InvoiceRepository    { return r.invoices }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }
func (r *Registry) Counters() repositories.CounterRepository    { return r.counters }
func (r *Registry) Settings() repositories.SettingsRepository   { return r.settings }
func (r *Registry) Ping(ctx context.Context) error              { return r.provider.Ping(ctx) }

// RunInTx runs fn in a Firestore transaction. Writes issued by fn become visible on commit.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, fn)
}
