package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/platform/pagination"
	"github.com/h7-ecom/api/internal/repositories"
)

const defaultPageSize = 50

const orderColumns = `id, user_id, status, currency, total::text,
	shipping_name, shipping_address, shipping_city, shipping_zip, shipping_country,
	payment_method, phone, notes, inventory_applied_at, created_at, updated_at,
	confirmed_at, completed_at, cancelled_at`

const insertOrderSQL = `
INSERT INTO orders (id, user_id, status, currency, total,
	shipping_name, shipping_address, shipping_city, shipping_zip, shipping_country,
	payment_method, phone, notes, inventory_applied_at, created_at, updated_at,
	confirmed_at, completed_at, cancelled_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

const insertOrderItemSQL = `
INSERT INTO order_items (order_id, position, product_id, product_name, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6::numeric)`

const updateOrderSQL = `
UPDATE orders SET status = $2, shipping_name = $3, shipping_address = $4, shipping_city = $5,
	shipping_zip = $6, shipping_country = $7, notes = $8, inventory_applied_at = $9,
	updated_at = $10, confirmed_at = $11, completed_at = $12, cancelled_at = $13
WHERE id = $1`

const listOrdersSQL = `
SELECT ` + orderColumns + `
FROM orders
WHERE ($1 = '' OR user_id = $1)
	AND ($2 = '' OR status = $2)
	AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4))
ORDER BY created_at DESC, id DESC
LIMIT $5`

// OrderRepository stores orders in the orders table and their lines in order_items. Items are
// written once at insert; later updates only touch order columns.
type OrderRepository struct {
	db *DB
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		conn := r.db.conn(ctx)
		_, err := conn.Exec(ctx, insertOrderSQL,
			order.ID, order.UserID, string(order.Status), order.Currency, order.Total.String(),
			order.Shipping.Name, order.Shipping.Address, order.Shipping.City, order.Shipping.Zip, order.Shipping.Country,
			order.PaymentMethod, order.Phone, order.Notes, order.InventoryAppliedAt, order.CreatedAt, order.UpdatedAt,
			order.ConfirmedAt, order.CompletedAt, order.CancelledAt,
		)
		if err != nil {
			return wrapError("orders.insert", err)
		}

		batch := &pgx.Batch{}
		for i, item := range order.Items {
			batch.Queue(insertOrderItemSQL, order.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice.String())
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := conn.SendBatch(ctx, batch).Close(); err != nil {
			return wrapError("orders.insert_items", err)
		}
		return nil
	})
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	tag, err := r.db.conn(ctx).Exec(ctx, updateOrderSQL,
		order.ID, string(order.Status),
		order.Shipping.Name, order.Shipping.Address, order.Shipping.City, order.Shipping.Zip, order.Shipping.Country,
		order.Notes, order.InventoryAppliedAt, order.UpdatedAt, order.ConfirmedAt, order.CompletedAt, order.CancelledAt,
	)
	if err != nil {
		return wrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("orders.update", "order %s not found", order.ID)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(ctx, orderID, "")
}

// LockByID takes a row lock held until the surrounding transaction ends.
func (r *OrderRepository) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(ctx, orderID, " FOR UPDATE")
}

func (r *OrderRepository) find(ctx context.Context, orderID, suffix string) (domain.Order, error) {
	conn := r.db.conn(ctx)
	order, err := scanOrder(conn.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`+suffix, orderID))
	if err != nil {
		return domain.Order{}, wrapError("orders.find", err)
	}
	items, err := r.loadItems(ctx, conn, []string{orderID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[orderID]
	return order, nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		conn := r.db.conn(ctx)
		var invoiced bool
		err := conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM invoices WHERE order_id = o.id) FROM orders o WHERE o.id = $1 FOR UPDATE OF o`,
			orderID,
		).Scan(&invoiced)
		if err != nil {
			return wrapError("orders.delete", err)
		}
		if invoiced {
			return conflictError("orders.delete", "order %s has an invoice", orderID)
		}
		if _, err := conn.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
			return wrapError("orders.delete", err)
		}
		return nil
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
	status := ""
	if filter.Status != nil {
		status = string(*filter.Status)
	}
	var after *time.Time
	if !cursor.IsZero() {
		after = &cursor.CreatedAt
	}

	conn := r.db.conn(ctx)
	rows, err := conn.Query(ctx, listOrdersSQL, strings.TrimSpace(filter.UserID), status, after, cursor.ID, size+1)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > size {
		orders = orders[:size]
		last := orders[size-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	items, err := r.loadItems(ctx, conn, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	page.Items = orders
	return page, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, conn querier, orderIDs []string) (map[string][]domain.OrderItem, error) {
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := conn.Query(ctx,
		`SELECT order_id, product_id, product_name, quantity, unit_price::text
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`,
		orderIDs,
	)
	if err != nil {
		return nil, wrapError("orders.items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			price   string
			item    domain.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &price); err != nil {
			return nil, wrapError("orders.items", err)
		}
		item.UnitPrice, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("decode order %s item price: %w", orderID, err)
		}
		out[orderID] = append(out[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("orders.items", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		total  string
	)
	err := row.Scan(
		&order.ID, &order.UserID, &status, &order.Currency, &total,
		&order.Shipping.Name, &order.Shipping.Address, &order.Shipping.City, &order.Shipping.Zip, &order.Shipping.Country,
		&order.PaymentMethod, &order.Phone, &order.Notes, &order.InventoryAppliedAt, &order.CreatedAt, &order.UpdatedAt,
		&order.ConfirmedAt, &order.CompletedAt, &order.CancelledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.Total, err = decimal.NewFromString(total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s total: %w", order.ID, err)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.InventoryAppliedAt = utcPtr(order.InventoryAppliedAt)
	order.ConfirmedAt = utcPtr(order.ConfirmedAt)
	order.CompletedAt = utcPtr(order.CompletedAt)
	order.CancelledAt = utcPtr(order.CancelledAt)
	return order, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
