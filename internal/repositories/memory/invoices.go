package memory

import (
	"context"
	"time"

	domain "github.com/h7-ecom/api/internal/domain"
)

type invoiceRepository struct {
	store *Store
}

func (r *invoiceRepository) InsertOrGet(ctx context.Context, invoice domain.Invoice) (domain.Invoice, bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.invoices[invoice.OrderID]; ok {
		return cloneInvoice(existing), false, nil
	}
	if owner, taken := s.numbers[invoice.Number]; taken {
		return domain.Invoice{}, false, conflict("invoices.insert", "invoice number %s already issued for order %s", invoice.Number, owner)
	}

	s.invoices[invoice.OrderID] = cloneInvoice(invoice)
	s.numbers[invoice.Number] = invoice.OrderID
	journal(ctx, func() {
		delete(s.invoices, invoice.OrderID)
		delete(s.numbers, invoice.Number)
	})
	return cloneInvoice(invoice), true, nil
}

func (r *invoiceRepository) FindByOrderID(_ context.Context, orderID string) (domain.Invoice, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[orderID]
	if !ok {
		return domain.Invoice{}, notFound("invoices.find", "no invoice for order %s", orderID)
	}
	return cloneInvoice(invoice), nil
}

// InvoiceCount returns how many invoices exist for orderID. The unique index makes this 0 or 1.
func (s *Store) InvoiceCount(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, invoice := range s.invoices {
		if invoice.OrderID == orderID {
			count++
		}
	}
	return count
}

func cloneInvoice(invoice domain.Invoice) domain.Invoice {
	clone := invoice
	clone.DueDate = cloneTime(invoice.DueDate)
	return clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
