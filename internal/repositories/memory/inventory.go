package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/repositories"
)

type inventoryRepository struct {
	store *Store
}

func (r *inventoryRepository) Decrement(ctx context.Context, req domain.StockDecrement, now time.Time) (domain.StockChange, error) {
	if req.Quantity <= 0 {
		return domain.StockChange{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity,
			fmt.Sprintf("quantity must be positive, got %d", req.Quantity), nil)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[req.ProductID]
	if !ok {
		return domain.StockChange{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound,
			fmt.Sprintf("product %s not found", req.ProductID), nil)
	}

	previous := product
	product.Stock = max(product.Stock-req.Quantity, 0)
	product.InStock = product.Stock > 0
	product.UpdatedAt = now
	s.products[req.ProductID] = product
	applied := previous.Stock - product.Stock
	journal(ctx, func() {
		current, ok := s.products[req.ProductID]
		if !ok {
			return
		}
		current.Stock += applied
		current.InStock = current.Stock > 0
		s.products[req.ProductID] = current
	})

	return domain.StockChange{
		ProductID: req.ProductID,
		Requested: req.Quantity,
		Previous:  previous.Stock,
		Current:   product.Stock,
		InStock:   product.InStock,
	}, nil
}

func (r *inventoryRepository) Get(_ context.Context, productID string) (domain.Product, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound,
			fmt.Sprintf("product %s not found", productID), nil)
	}
	return product, nil
}

func (r *inventoryRepository) Upsert(ctx context.Context, product domain.Product) error {
	if product.Stock < 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, "stock must not be negative", nil)
	}
	product.InStock = product.Stock > 0

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.products[product.ID]
	s.products[product.ID] = product
	journal(ctx, func() {
		if existed {
			s.products[product.ID] = previous
			return
		}
		delete(s.products, product.ID)
	})
	return nil
}

func (r *inventoryRepository) List(context.Context) ([]domain.Product, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		products = append(products, product)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}
