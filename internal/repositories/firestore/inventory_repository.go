package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/h7-ecom/api/internal/domain"
	pfirestore "github.com/h7-ecom/api/internal/platform/firestore"
	"github.com/h7-ecom/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name      string    `firestore:"name"`
	Price     string    `firestore:"price"`
	Stock     int       `firestore:"stock"`
	InStock   bool      `firestore:"inStock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// InventoryRepository implements repositories.InventoryRepository on the products collection.
type InventoryRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
	}, nil
}

// Decrement reads and rewrites the product inside a transaction so concurrent decrements of the
// same product serialise and never drive stock below zero.
func (r *InventoryRepository) Decrement(ctx context.Context, req domain.StockDecrement, now time.Time) (domain.StockChange, error) {
	if req.Quantity <= 0 {
		return domain.StockChange{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity,
			fmt.Sprintf("quantity must be positive, got %d", req.Quantity), nil)
	}

	var change domain.StockChange
	err := r.provider.RunTransaction(ctx, func(ctx context.Context) error {
		doc, err := r.products.Get(ctx, req.ProductID)
		if err != nil {
			return wrapInventoryError(req.ProductID, err)
		}
		current := max(doc.Data.Stock-req.Quantity, 0)
		change = domain.StockChange{
			ProductID: req.ProductID,
			Requested: req.Quantity,
			Previous:  doc.Data.Stock,
			Current:   current,
			InStock:   current > 0,
		}
		return r.products.Set(ctx, req.ProductID, map[string]any{
			"stock":     current,
			"inStock":   current > 0,
			"updatedAt": now,
		}, firestore.MergeAll)
	})
	if err != nil {
		return domain.StockChange{}, err
	}
	return change, nil
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, wrapInventoryError(productID, err)
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *InventoryRepository) Upsert(ctx context.Context, product domain.Product) error {
	if product.Stock < 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, "stock must not be negative", nil)
	}
	return r.products.Set(ctx, product.ID, productDocument{
		Name:      product.Name,
		Price:     product.Price.String(),
		Stock:     product.Stock,
		InStock:   product.Stock > 0,
		UpdatedAt: product.UpdatedAt,
	})
}

func (r *InventoryRepository) List(ctx context.Context) ([]domain.Product, error) {
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price := decimal.Zero
	if d.Price != "" {
		parsed, err := decimal.NewFromString(d.Price)
		if err != nil {
			return domain.Product{}, fmt.Errorf("decode product %s price: %w", id, err)
		}
		price = parsed
	}
	return domain.Product{
		ID:        id,
		Name:      d.Name,
		Price:     price,
		Stock:     d.Stock,
		InStock:   d.InStock,
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

func wrapInventoryError(productID string, err error) error {
	if isNotFound(err) {
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound,
			fmt.Sprintf("product %s not found", productID), err)
	}
	return err
}
