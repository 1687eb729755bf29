package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Order is a placed purchase and the only aggregate mutated by the lifecycle controller.
type Order struct {
	ID                 string
	UserID             string
	Status             OrderStatus
	Currency           string
	Items              []OrderItem
	Total              decimal.Decimal
	Shipping           ShippingDetails
	PaymentMethod      string
	Phone              string
	Notes              string
	InventoryAppliedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ConfirmedAt        *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	Invoice            *Invoice
}

// OrderItem snapshots a product line at the time the order was placed.
type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// LineTotal returns unit price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShippingDetails holds the delivery address captured at checkout.
type ShippingDetails struct {
	Name    string
	Address string
	City    string
	Zip     string
	Country string
}

// ShippingPatch carries optional shipping field updates.
type ShippingPatch struct {
	Name    *string
	Address *string
	City    *string
	Zip     *string
	Country *string
}

// IsEmpty reports whether no shipping field is set.
func (p ShippingPatch) IsEmpty() bool {
	return p.Name == nil && p.Address == nil && p.City == nil && p.Zip == nil && p.Country == nil
}

// InvoiceStatus enumerates payment states of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid InvoiceStatus = "UNPAID"
	InvoiceStatusPaid   InvoiceStatus = "PAID"
)

// Invoice is issued once per order when it is confirmed.
type Invoice struct {
	ID        string
	Number    string
	OrderID   string
	Total     decimal.Decimal
	Currency  string
	Status    InvoiceStatus
	DueDate   *time.Time
	CreatedAt time.Time
}

// Product is the catalog view the inventory ledger reads and writes.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Stock     int
	InStock   bool
	UpdatedAt time.Time
}

// StockDecrement requests that a product's stock be reduced by Quantity.
type StockDecrement struct {
	ProductID string
	Quantity  int
}

// StockChange reports the outcome of a clamped decrement.
type StockChange struct {
	ProductID string
	Requested int
	Previous  int
	Current   int
	InStock   bool
}

// Clamped reports whether the request exceeded the available stock.
func (c StockChange) Clamped() bool {
	return c.Requested > c.Previous
}

// NotificationSettings holds the admin-configured relay destination.
type NotificationSettings struct {
	AdminPhone string
	APIKey     string
	UpdatedAt  time.Time
}

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck is the outcome of one dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes for readiness endpoints.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
