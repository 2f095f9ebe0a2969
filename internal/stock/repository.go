package stock

import (
	"context"
	"errors"
	"time"
)

// RepositoryPort abstracts persistence for the recorder and query services.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	// Unlocked reads used by the query service. They may observe a balance
	// that a concurrent writer is about to change.
	LatestBalance(ctx context.Context, productID int64) (float64, error)
	PurchaseTotals(ctx context.Context, productID int64) (qty, total float64, err error)
	Movements(ctx context.Context, filter HistoryFilter) ([]Movement, error)
	SummaryPage(ctx context.Context, afterID int64, limit int) ([]SummaryRow, error)
	ProductIDPage(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// TxRepository exposes the operations available inside one atomic unit.
// LockProduct must be called before reading or writing balances so that
// concurrent writers on the same product serialise.
type TxRepository interface {
	LockProduct(ctx context.Context, productID int64) error
	LatestBalance(ctx context.Context, productID int64) (float64, error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error)
	NextJournalSequence(ctx context.Context, prefix string, day time.Time) (int, error)
	UpdateProductStock(ctx context.Context, productID int64, qty float64) error
	UpsertInventoryRecord(ctx context.Context, productID int64, qty float64) error
}

// SummaryRow carries one product's ledger-derived figures for summary paging.
type SummaryRow struct {
	ProductID     int64
	SellPrice     float64
	CachedStock   float64
	DerivedStock  float64
	PurchaseQty   float64
	PurchaseTotal float64
}

// ErrPersistence wraps storage failures that abort the current operation.
var ErrPersistence = errors.New("stock: persistence failure")
