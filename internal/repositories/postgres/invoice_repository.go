package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/h7-ecom/api/internal/domain"
)

// insertInvoiceSQL relies on the unique order_id index: a second invoice for the same order
// inserts nothing and returns no row. A reused number still fails with a unique violation.
const insertInvoiceSQL = `
INSERT INTO invoices (id, number, order_id, total, currency, status, due_date, created_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
ON CONFLICT (order_id) DO NOTHING
RETURNING id`

// InvoiceRepository stores invoices, at most one per order.
type InvoiceRepository struct {
	db *DB
}

func (r *InvoiceRepository) InsertOrGet(ctx context.Context, invoice domain.Invoice) (domain.Invoice, bool, error) {
	var id string
	err := r.db.conn(ctx).QueryRow(ctx, insertInvoiceSQL,
		invoice.ID, invoice.Number, invoice.OrderID, invoice.Total.String(), invoice.Currency,
		string(invoice.Status), invoice.DueDate, invoice.CreatedAt,
	).Scan(&id)
	switch {
	case err == nil:
		return invoice, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		existing, err := r.FindByOrderID(ctx, invoice.OrderID)
		if err != nil {
			return domain.Invoice{}, false, err
		}
		return existing, false, nil
	default:
		return domain.Invoice{}, false, wrapError("invoices.insert", err)
	}
}

func (r *InvoiceRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Invoice, error) {
	var (
		invoice domain.Invoice
		total   string
		status  string
	)
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT id, number, order_id, total::text, currency, status, due_date, created_at FROM invoices WHERE order_id = $1`,
		orderID,
	).Scan(&invoice.ID, &invoice.Number, &invoice.OrderID, &total, &invoice.Currency, &status, &invoice.DueDate, &invoice.CreatedAt)
	if err != nil {
		return domain.Invoice{}, wrapError("invoices.find", err)
	}
	invoice.Total, err = decimal.NewFromString(total)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("decode invoice %s total: %w", invoice.ID, err)
	}
	invoice.Status = domain.InvoiceStatus(status)
	invoice.DueDate = utcPtr(invoice.DueDate)
	invoice.CreatedAt = invoice.CreatedAt.UTC()
	return invoice, nil
}
