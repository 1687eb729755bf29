package repositories

import (
	"context"
	"time"

	domain "github.com/h7-ecom/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Invoices() InvoiceRepository
	Inventory() InventoryRepository
	Counters() CounterRepository
	Settings() SettingsRepository
	Ping(ctx context.Context) error
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Calls nested inside an
// active unit of work join it instead of opening a new one.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders together with their line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// LockByID loads the order and holds it exclusively until the surrounding unit of work ends.
	// Outside a unit of work it behaves like FindByID.
	LockByID(ctx context.Context, orderID string) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Status     *domain.OrderStatus
	Pagination domain.Pagination
}

// InvoiceRepository persists invoices, at most one per order.
type InvoiceRepository interface {
	// InsertOrGet stores invoice unless an invoice already exists for invoice.OrderID, as a single
	// storage operation. It returns the stored invoice and whether this call created it.
	InsertOrGet(ctx context.Context, invoice domain.Invoice) (domain.Invoice, bool, error)
	FindByOrderID(ctx context.Context, orderID string) (domain.Invoice, error)
}

// InventoryRepository owns product stock levels.
type InventoryRepository interface {
	// Decrement lowers stock by the requested quantity, flooring at zero, in one conditional write.
	Decrement(ctx context.Context, req domain.StockDecrement, now time.Time) (domain.StockChange, error)
	Get(ctx context.Context, productID string) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) error
	List(ctx context.Context) ([]domain.Product, error)
}

// CounterConfig customises counter behaviour such as increment steps or bounds.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// CounterRepository issues monotonically increasing sequence values. Allocation is never part of
// the caller's unit of work so a rolled back transaction leaves a gap rather than a duplicate.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// SettingsRepository stores the admin-editable notification relay settings.
type SettingsRepository interface {
	NotificationSettings(ctx context.Context) (domain.NotificationSettings, error)
	SaveNotificationSettings(ctx context.Context, settings domain.NotificationSettings) error
}

// HealthRepository aggregates dependency probes for the readiness endpoint.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
