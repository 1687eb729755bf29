package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryProductNotFound indicates the product has no stock record.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
	Metrics   Metrics
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo    repositories.InventoryRepository
	clock   func() time.Time
	metrics Metrics
	logger  func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &inventoryService{
		repo:    deps.Inventory,
		clock:   func() time.Time { return clock().UTC() },
		metrics: metricsOrNoop(deps.Metrics),
		logger:  logger,
	}, nil
}

// ApplyDecrements lowers stock for every product referenced by items. Quantities are summed per
// product and applied in product id order so concurrent fulfilments lock rows in the same order.
// Requests above the available stock clamp to zero; products missing from the catalog are skipped.
func (s *inventoryService) ApplyDecrements(ctx context.Context, items []OrderItem) ([]StockChange, error) {
	requests, err := aggregateDecrements(items)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	changes := make([]StockChange, 0, len(requests))
	for _, req := range requests {
		change, err := s.repo.Decrement(ctx, req, now)
		if err != nil {
			var invErr *repositories.InventoryError
			if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorProductNotFound {
				s.logger(ctx, "inventory.product.missing", map[string]any{
					"productId": req.ProductID,
					"quantity":  req.Quantity,
				})
				continue
			}
			return nil, s.mapRepositoryError(err)
		}
		if change.Clamped() {
			s.metrics.StockClamped(change.ProductID)
			s.logger(ctx, "inventory.stock.clamped", map[string]any{
				"productId": change.ProductID,
				"requested": change.Requested,
				"available": change.Previous,
			})
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func (s *inventoryService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	product, err := s.repo.Get(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *inventoryService) UpsertProducts(ctx context.Context, products []Product) error {
	now := s.clock()
	for _, product := range products {
		product.ID = strings.TrimSpace(product.ID)
		if product.ID == "" {
			return fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
		}
		if product.Stock < 0 {
			return fmt.Errorf("%w: stock for %s must not be negative", ErrInventoryInvalidInput, product.ID)
		}
		product.InStock = product.Stock > 0
		product.UpdatedAt = now
		if err := s.repo.Upsert(ctx, product); err != nil {
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryProductNotFound, invErr.Message)
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}
	return err
}

// addClamped sums line quantities, saturating at math.MaxInt32 so a decrement always clamps stock
// to zero instead of wrapping negative.
func addClamped(total, quantity int) int {
	if quantity >= math.MaxInt32-total {
		return math.MaxInt32
	}
	return total + quantity
}

func aggregateDecrements(items []OrderItem) ([]domain.StockDecrement, error) {
	totals := make(map[string]int, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
		}
		totals[productID] = addClamped(totals[productID], item.Quantity)
	}

	requests := make([]domain.StockDecrement, 0, len(totals))
	for productID, quantity := range totals {
		requests = append(requests, domain.StockDecrement{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ProductID < requests[j].ProductID })
	return requests, nil
}
