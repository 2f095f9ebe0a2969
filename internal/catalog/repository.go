package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates a missing product.
var ErrNotFound = errors.New("catalog: product not found")

// Repository reads the product master data. Writes to product stock go
// through the stock recorder, never through this repository.
type Repository interface {
	Get(ctx context.Context, id int64) (Product, error)
	ProductName(ctx context.Context, id int64) (string, error)
	InventoryRecord(ctx context.Context, productID int64) (InventoryRecord, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the catalogue repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	query := `SELECT id, sku, name, category_id, sell_price, cost_price, stock, is_active, created_at, updated_at FROM products WHERE id = $1`
	var p Product
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.SellPrice, &p.CostPrice, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *repository) ProductName(ctx context.Context, id int64) (string, error) {
	var name string
	err := r.db.QueryRow(ctx, `SELECT name FROM products WHERE id = $1`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return name, nil
}

func (r *repository) InventoryRecord(ctx context.Context, productID int64) (InventoryRecord, error) {
	var rec InventoryRecord
	err := r.db.QueryRow(ctx, `SELECT product_id, quantity, updated_at FROM inventory_records WHERE product_id = $1`, productID).
		Scan(&rec.ProductID, &rec.Quantity, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryRecord{}, ErrNotFound
		}
		return InventoryRecord{}, err
	}
	return rec, nil
}
