package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/repositories"
)

// decrementStockSQL floors at zero in a single conditional write and reports the stock seen
// under the row lock.
const decrementStockSQL = `
WITH prev AS (
	SELECT id, stock FROM products WHERE id = $1 FOR UPDATE
)
UPDATE products p
SET stock = GREATEST(prev.stock - $2, 0),
	in_stock = GREATEST(prev.stock - $2, 0) > 0,
	updated_at = $3
FROM prev
WHERE p.id = prev.id
RETURNING prev.stock, p.stock, p.in_stock`

const upsertProductSQL = `
INSERT INTO products (id, name, price, stock, in_stock, updated_at)
VALUES ($1, $2, $3::numeric, $4, $4 > 0, $5)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	price = EXCLUDED.price,
	stock = EXCLUDED.stock,
	in_stock = EXCLUDED.in_stock,
	updated_at = EXCLUDED.updated_at`

// InventoryRepository owns the products table.
type InventoryRepository struct {
	db *DB
}

func (r *InventoryRepository) Decrement(ctx context.Context, req domain.StockDecrement, now time.Time) (domain.StockChange, error) {
	if req.Quantity <= 0 {
		return domain.StockChange{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity,
			fmt.Sprintf("quantity must be positive, got %d", req.Quantity), nil)
	}
	change := domain.StockChange{ProductID: req.ProductID, Requested: req.Quantity}
	err := r.db.conn(ctx).QueryRow(ctx, decrementStockSQL, req.ProductID, req.Quantity, now).
		Scan(&change.Previous, &change.Current, &change.InStock)
	if err != nil {
		return domain.StockChange{}, inventoryError(req.ProductID, err)
	}
	return change, nil
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	product, err := scanProduct(r.db.conn(ctx).QueryRow(ctx,
		`SELECT id, name, price::text, stock, in_stock, updated_at FROM products WHERE id = $1`, productID))
	if err != nil {
		return domain.Product{}, inventoryError(productID, err)
	}
	return product, nil
}

func (r *InventoryRepository) Upsert(ctx context.Context, product domain.Product) error {
	if product.Stock < 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, "stock must not be negative", nil)
	}
	_, err := r.db.conn(ctx).Exec(ctx, upsertProductSQL,
		product.ID, product.Name, product.Price.String(), product.Stock, product.UpdatedAt)
	return wrapError("products.upsert", err)
}

func (r *InventoryRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `SELECT id, name, price::text, stock, in_stock, updated_at FROM products ORDER BY id`)
	if err != nil {
		return nil, wrapError("products.list", err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Product, error) {
		return scanProduct(row)
	})
	if err != nil {
		return nil, wrapError("products.list", err)
	}
	return products, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		product domain.Product
		price   string
	)
	if err := row.Scan(&product.ID, &product.Name, &price, &product.Stock, &product.InStock, &product.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s price: %w", product.ID, err)
	}
	product.Price = parsed
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

func inventoryError(productID string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound,
			fmt.Sprintf("product %s not found", productID), err)
	}
	return wrapError("products", err)
}
