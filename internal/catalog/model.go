package catalog

import (
	"time"
)

// Product is the catalogue entry owned by the back office master data.
// Stock is a cached mirror of the ledger's derived balance and is mutated
// only by the stock recorder.
type Product struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	CategoryID int64     `json:"category_id"`
	SellPrice  float64   `json:"sell_price"`
	CostPrice  float64   `json:"cost_price"`
	Stock      float64   `json:"stock"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// InventoryRecord is the second cached mirror of the derived balance,
// kept in its own table because the surrounding system queries inventory
// independently of the product table. Created lazily on first movement.
type InventoryRecord struct {
	ProductID int64     `json:"product_id"`
	Quantity  float64   `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}
