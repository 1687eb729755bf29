package memory

import (
	"context"
	"sort"
	"strings"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/platform/pagination"
	"github.com/h7-ecom/api/internal/repositories"
)

const defaultPageSize = 50

type orderRepository struct {
	store *Store
}

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return conflict("orders.insert", "order %s already exists", order.ID)
	}
	s.orders[order.ID] = cloneOrder(order)
	journal(ctx, func() { delete(s.orders, order.ID) })
	return nil
}

func (r *orderRepository) Update(ctx context.Context, order domain.Order) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, exists := s.orders[order.ID]
	if !exists {
		return notFound("orders.update", "order %s not found", order.ID)
	}
	s.orders[order.ID] = cloneOrder(order)
	journal(ctx, func() { s.orders[order.ID] = previous })
	return nil
}

func (r *orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r *orderRepository) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	r.store.lockOrder(ctx, orderID)
	return r.FindByID(ctx, orderID)
}

func (r *orderRepository) Delete(ctx context.Context, orderID string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, exists := s.orders[orderID]
	if !exists {
		return notFound("orders.delete", "order %s not found", orderID)
	}
	if _, invoiced := s.invoices[orderID]; invoiced {
		return conflict("orders.delete", "order %s has an invoice", orderID)
	}
	delete(s.orders, orderID)
	journal(ctx, func() { s.orders[orderID] = previous })
	return nil
}

func (r *orderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = defaultPageSize
	}

	s := r.store
	s.mu.Lock()
	matches := make([]domain.Order, 0, len(s.orders))
	userID := strings.TrimSpace(filter.UserID)
	for _, order := range s.orders {
		if userID != "" && order.UserID != userID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		matches = append(matches, order)
	}
	s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		return pagination.Before(matches[i].CreatedAt, matches[i].ID, matches[j].CreatedAt, matches[j].ID)
	})

	page := domain.CursorPage[domain.Order]{}
	for _, order := range matches {
		if !cursor.IsZero() && !pagination.Before(cursor.CreatedAt, cursor.ID, order.CreatedAt, order.ID) {
			continue
		}
		if len(page.Items) == size {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			break
		}
		page.Items = append(page.Items, cloneOrder(order))
	}
	return page, nil
}

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	if order.Items != nil {
		clone.Items = append([]domain.OrderItem(nil), order.Items...)
	}
	clone.InventoryAppliedAt = cloneTime(order.InventoryAppliedAt)
	clone.ConfirmedAt = cloneTime(order.ConfirmedAt)
	clone.CompletedAt = cloneTime(order.CompletedAt)
	clone.CancelledAt = cloneTime(order.CancelledAt)
	clone.Invoice = nil
	return clone
}
