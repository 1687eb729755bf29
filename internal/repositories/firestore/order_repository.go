package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/h7-ecom/api/internal/domain"
	pfirestore "github.com/h7-ecom/api/internal/platform/firestore"
	"github.com/h7-ecom/api/internal/platform/pagination"
	"github.com/h7-ecom/api/internal/repositories"
)

const (
	ordersCollection = "orders"
	defaultPageSize  = 50
)

type orderDocument struct {
	UserID             string              `firestore:"userId"`
	Status             string              `firestore:"status"`
	Currency           string              `firestore:"currency"`
	Items              []orderItemDocument `firestore:"items"`
	Total              string              `firestore:"total"`
	Shipping           shippingDocument    `firestore:"shipping"`
	PaymentMethod      string              `firestore:"paymentMethod"`
	Phone              string              `firestore:"phone"`
	Notes              string              `firestore:"notes"`
	InventoryAppliedAt *time.Time          `firestore:"inventoryAppliedAt"`
	CreatedAt          time.Time           `firestore:"createdAt"`
	UpdatedAt          time.Time           `firestore:"updatedAt"`
	ConfirmedAt        *time.Time          `firestore:"confirmedAt"`
	CompletedAt        *time.Time          `firestore:"completedAt"`
	CancelledAt        *time.Time          `firestore:"cancelledAt"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   string `firestore:"unitPrice"`
}

type shippingDocument struct {
	Name    string `firestore:"name"`
	Address string `firestore:"address"`
	City    string `firestore:"city"`
	Zip     string `firestore:"zip"`
	Country string `firestore:"country"`
}

// OrderRepository implements repositories.OrderRepository on the orders collection. Line items
// are embedded in the order document.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	invoices *pfirestore.BaseRepository[invoiceDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
		invoices: pfirestore.NewBaseRepository[invoiceDocument](provider, invoicesCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context) error {
		if _, err := r.orders.Get(ctx, order.ID); err != nil {
			return err
		}
		return r.orders.Set(ctx, order.ID, newOrderDocument(order))
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// LockByID reads the order through the active transaction, which makes a concurrent writer of
// the same document retry. Outside a transaction it is a plain read.
func (r *OrderRepository) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.FindByID(ctx, orderID)
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context) error {
		if _, err := r.orders.Get(ctx, orderID); err != nil {
			return err
		}
		_, err := r.invoices.Get(ctx, orderID)
		switch {
		case err == nil:
			return pfirestore.ConflictError("orders.delete", fmt.Sprintf("order %s has an invoice", orderID))
		case !isNotFound(err):
			return err
		}
		return r.orders.Delete(ctx, orderID)
	})
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = defaultPageSize
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == size {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			break
		}
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
		})
	}
	return orderDocument{
		UserID:   order.UserID,
		Status:   string(order.Status),
		Currency: order.Currency,
		Items:    items,
		Total:    order.Total.String(),
		Shipping: shippingDocument{
			Name:    order.Shipping.Name,
			Address: order.Shipping.Address,
			City:    order.Shipping.City,
			Zip:     order.Shipping.Zip,
			Country: order.Shipping.Country,
		},
		PaymentMethod:      order.PaymentMethod,
		Phone:              order.Phone,
		Notes:              order.Notes,
		InventoryAppliedAt: order.InventoryAppliedAt,
		CreatedAt:          order.CreatedAt,
		UpdatedAt:          order.UpdatedAt,
		ConfirmedAt:        order.ConfirmedAt,
		CompletedAt:        order.CompletedAt,
		CancelledAt:        order.CancelledAt,
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	total, err := decimal.NewFromString(d.Total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s total: %w", id, err)
	}
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s item %s price: %w", id, item.ProductID, err)
		}
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   price,
		})
	}
	return domain.Order{
		ID:       id,
		UserID:   d.UserID,
		Status:   domain.OrderStatus(d.Status),
		Currency: d.Currency,
		Items:    items,
		Total:    total,
		Shipping: domain.ShippingDetails{
			Name:    d.Shipping.Name,
			Address: d.Shipping.Address,
			City:    d.Shipping.City,
			Zip:     d.Shipping.Zip,
			Country: d.Shipping.Country,
		},
		PaymentMethod:      d.PaymentMethod,
		Phone:              d.Phone,
		Notes:              d.Notes,
		InventoryAppliedAt: utcPtr(d.InventoryAppliedAt),
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
		ConfirmedAt:        utcPtr(d.ConfirmedAt),
		CompletedAt:        utcPtr(d.CompletedAt),
		CancelledAt:        utcPtr(d.CancelledAt),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
