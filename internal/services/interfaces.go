package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	Order                = domain.Order
	OrderItem            = domain.OrderItem
	OrderStatus          = domain.OrderStatus
	ShippingDetails      = domain.ShippingDetails
	ShippingPatch        = domain.ShippingPatch
	Invoice              = domain.Invoice
	Product              = domain.Product
	StockChange          = domain.StockChange
	NotificationSettings = domain.NotificationSettings
	OrderListFilter      = repositories.OrderListFilter
)

// OrderService drives an order from placement to a terminal status.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Transition(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	Delete(ctx context.Context, orderID string) error
}

// InvoiceService issues exactly one invoice per order.
type InvoiceService interface {
	EnsureInvoice(ctx context.Context, order Order) (Invoice, error)
	FindByOrderID(ctx context.Context, orderID string) (Invoice, error)
}

// InventoryService applies fulfilment stock decrements and exposes product stock for tooling.
type InventoryService interface {
	ApplyDecrements(ctx context.Context, items []OrderItem) ([]StockChange, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	UpsertProducts(ctx context.Context, products []Product) error
}

// CounterService hands out formatted sequence numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextInvoiceNumber(ctx context.Context) (string, error)
}

// NotificationDispatcher sends best-effort order summaries. Dispatch never blocks on delivery and
// only borrows values from ctx; cancellation of ctx does not abort a send already queued.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, order Order)
	Wait(ctx context.Context) error
}

// OrderEventPublisher forwards committed order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent describes a committed order change.
type OrderEvent struct {
	Type           string
	OrderID        string
	UserID         string
	Status         OrderStatus
	PreviousStatus OrderStatus
	ActorID        string
	OccurredAt     time.Time
	InvoiceNumber  string
}

// NotificationSettingsSource resolves relay settings at dispatch time.
type NotificationSettingsSource interface {
	Current(ctx context.Context) (NotificationSettings, error)
}

// CreateOrderCommand carries a checkout submission.
type CreateOrderCommand struct {
	UserID        string
	Items         []CreateOrderItem
	Shipping      ShippingDetails
	PaymentMethod string
	Phone         string
	Notes         string
	Currency      string
}

// CreateOrderItem is one submitted line. Price is the client-submitted unit price.
type CreateOrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	Price       decimal.Decimal
}

// OrderTransitionCommand requests a status change and/or a patch. A nil TargetStatus patches only.
type OrderTransitionCommand struct {
	OrderID      string
	TargetStatus *OrderStatus
	Notes        *string
	Shipping     ShippingPatch
	ActorID      string
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

// CounterValue is a raw sequence value and its formatted representation.
type CounterValue struct {
	Value     int64
	Formatted string
}
