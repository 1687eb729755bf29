package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/h7-ecom/api/internal/domain"
	pfirestore "github.com/h7-ecom/api/internal/platform/firestore"
)

const (
	invoicesCollection       = "invoices"
	invoiceNumbersCollection = "invoiceNumbers"
)

// invoiceDocument is keyed by order id, which makes one invoice per order a property of the
// document path.
type invoiceDocument struct {
	InvoiceID string     `firestore:"invoiceId"`
	Number    string     `firestore:"number"`
	Total     string     `firestore:"total"`
	Currency  string     `firestore:"currency"`
	Status    string     `firestore:"status"`
	DueDate   *time.Time `firestore:"dueDate"`
	CreatedAt time.Time  `firestore:"createdAt"`
}

type invoiceNumberDocument struct {
	OrderID string `firestore:"orderId"`
}

// InvoiceRepository implements repositories.InvoiceRepository.
type InvoiceRepository struct {
	provider *pfirestore.Provider
	invoices *pfirestore.BaseRepository[invoiceDocument]
	numbers  *pfirestore.BaseRepository[invoiceNumberDocument]
}

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	return &InvoiceRepository{
		provider: provider,
		invoices: pfirestore.NewBaseRepository[invoiceDocument](provider, invoicesCollection),
		numbers:  pfirestore.NewBaseRepository[invoiceNumberDocument](provider, invoiceNumbersCollection),
	}, nil
}

// InsertOrGet creates the invoice document and a number reservation in one transaction. A number
// already held by another order surfaces as a conflict when the transaction commits.
func (r *InvoiceRepository) InsertOrGet(ctx context.Context, invoice domain.Invoice) (domain.Invoice, bool, error) {
	var (
		stored  domain.Invoice
		created bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context) error {
		created = false
		doc, err := r.invoices.Get(ctx, invoice.OrderID)
		if err == nil {
			stored, err = doc.Data.toDomain(doc.ID)
			return err
		}
		if !isNotFound(err) {
			return err
		}
		if err := r.invoices.Create(ctx, invoice.OrderID, newInvoiceDocument(invoice)); err != nil {
			return err
		}
		if err := r.numbers.Create(ctx, invoice.Number, invoiceNumberDocument{OrderID: invoice.OrderID}); err != nil {
			return err
		}
		stored, created = invoice, true
		return nil
	})
	if err != nil {
		return domain.Invoice{}, false, err
	}
	return stored, created, nil
}

func (r *InvoiceRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Invoice, error) {
	doc, err := r.invoices.Get(ctx, orderID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func newInvoiceDocument(invoice domain.Invoice) invoiceDocument {
	return invoiceDocument{
		InvoiceID: invoice.ID,
		Number:    invoice.Number,
		Total:     invoice.Total.String(),
		Currency:  invoice.Currency,
		Status:    string(invoice.Status),
		DueDate:   invoice.DueDate,
		CreatedAt: invoice.CreatedAt,
	}
}

func (d invoiceDocument) toDomain(orderID string) (domain.Invoice, error) {
	total, err := decimal.NewFromString(d.Total)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("decode invoice for order %s: %w", orderID, err)
	}
	return domain.Invoice{
		ID:        d.InvoiceID,
		Number:    d.Number,
		OrderID:   orderID,
		Total:     total,
		Currency:  d.Currency,
		Status:    domain.InvoiceStatus(d.Status),
		DueDate:   utcPtr(d.DueDate),
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}
