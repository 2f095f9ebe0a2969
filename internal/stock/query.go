package stock

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultSummaryPageSize = 100
	defaultLowStockCeiling = 10
	syncWorkers            = 4
)

// QueryService derives read models from the ledger. The ledger is the
// single authority; products.stock and inventory_records.quantity are
// caches maintained by the recorder and never consulted here except to
// detect drift.
type QueryService struct {
	repo            RepositoryPort
	cache           *Cache
	logger          *slog.Logger
	pageSize        int
	lowStockCeiling float64
}

// QueryConfig groups optional query settings.
type QueryConfig struct {
	Logger          *slog.Logger
	Cache           *Cache
	SummaryPageSize int
	LowStockCeiling float64
}

// NewQueryService builds the query service.
func NewQueryService(repo RepositoryPort, cfg QueryConfig) *QueryService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.SummaryPageSize
	if pageSize <= 0 {
		pageSize = defaultSummaryPageSize
	}
	ceiling := cfg.LowStockCeiling
	if ceiling <= 0 {
		ceiling = defaultLowStockCeiling
	}
	return &QueryService{repo: repo, cache: cfg.Cache, logger: logger, pageSize: pageSize, lowStockCeiling: ceiling}
}

// CurrentStock returns the quantity_after of the most recent ledger entry
// for the product; 0 when no entries exist.
func (q *QueryService) CurrentStock(ctx context.Context, productID int64) (float64, error) {
	if productID == 0 {
		return 0, ErrProductNotFound
	}
	return q.repo.LatestBalance(ctx, productID)
}

// AverageBuyPrice computes sum(total_price)/sum(quantity) over purchase
// entries, rounded to 2 decimals; 0 when nothing was purchased.
func (q *QueryService) AverageBuyPrice(ctx context.Context, productID int64) (float64, error) {
	if productID == 0 {
		return 0, ErrProductNotFound
	}
	qty, total, err := q.repo.PurchaseTotals(ctx, productID)
	if err != nil {
		return 0, err
	}
	if qty == 0 {
		return 0, nil
	}
	return round2(total / qty), nil
}

// StockHistory lists ledger entries for a product, newest first, optionally
// bounded by a creation-time range.
func (q *QueryService) StockHistory(ctx context.Context, productID int64, from, to time.Time, limit int) ([]Movement, error) {
	if productID == 0 {
		return nil, ErrProductNotFound
	}
	return q.repo.Movements(ctx, HistoryFilter{ProductID: productID, From: from, To: to, Limit: limit})
}

// InventorySummary aggregates the catalogue by paging through products in
// bounded chunks. The result is served from the versioned cache when warm.
func (q *QueryService) InventorySummary(ctx context.Context) (Summary, error) {
	if q.cache != nil {
		var cached Summary
		err := q.cache.FetchJSON(ctx, "stock:summary", &cached, func(ctx context.Context) (any, error) {
			return q.computeSummary(ctx)
		})
		if err == nil {
			return cached, nil
		}
		q.logger.Warn("summary cache unavailable, computing directly", slog.Any("error", err))
	}
	return q.computeSummary(ctx)
}

func (q *QueryService) computeSummary(ctx context.Context) (Summary, error) {
	var summary Summary
	afterID := int64(0)
	for {
		page, err := q.repo.SummaryPage(ctx, afterID, q.pageSize)
		if err != nil {
			return Summary{}, err
		}
		if len(page) == 0 {
			break
		}
		for _, row := range page {
			summary.TotalProducts++
			avgCost := 0.0
			if row.PurchaseQty != 0 {
				avgCost = round2(row.PurchaseTotal / row.PurchaseQty)
			}
			summary.TotalCostValue += row.DerivedStock * avgCost
			summary.TotalSellValue += row.DerivedStock * row.SellPrice
			switch {
			case row.DerivedStock <= 0:
				summary.OutOfStock++
			case row.DerivedStock <= q.lowStockCeiling:
				summary.LowStock++
			}
		}
		afterID = page[len(page)-1].ProductID
		if len(page) < q.pageSize {
			break
		}
	}
	summary.TotalCostValue = round2(summary.TotalCostValue)
	summary.TotalSellValue = round2(summary.TotalSellValue)
	return summary, nil
}

// SyncFromMovements recomputes every product's balance from the ledger and
// overwrites both projection mirrors, repairing any drift. Products are
// processed in id-ordered chunks with a bounded worker group; each product
// is rewritten in its own short transaction under the row lock. Returns the
// number of products overwritten.
func (q *QueryService) SyncFromMovements(ctx context.Context) (int, error) {
	touched := 0
	afterID := int64(0)
	for {
		page, err := q.repo.SummaryPage(ctx, afterID, q.pageSize)
		if err != nil {
			return touched, err
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(syncWorkers)
		for _, row := range page {
			row := row
			g.Go(func() error {
				if row.CachedStock != row.DerivedStock {
					q.logger.Warn("ledger and mirrors disagree",
						slog.Int64("product_id", row.ProductID),
						slog.Float64("mirror", row.CachedStock),
						slog.Float64("ledger", row.DerivedStock))
				}
				return q.repo.WithTx(gctx, func(ctx context.Context, tx TxRepository) error {
					if err := tx.LockProduct(ctx, row.ProductID); err != nil {
						return err
					}
					// Re-read under the lock: the page snapshot may be stale.
					balance, err := tx.LatestBalance(ctx, row.ProductID)
					if err != nil {
						return err
					}
					if err := tx.UpdateProductStock(ctx, row.ProductID, balance); err != nil {
						return err
					}
					return tx.UpsertInventoryRecord(ctx, row.ProductID, balance)
				})
			})
		}
		if err := g.Wait(); err != nil {
			return touched, err
		}
		touched += len(page)
		afterID = page[len(page)-1].ProductID
		if len(page) < q.pageSize {
			break
		}
	}
	if q.cache != nil {
		if err := q.cache.Bump(ctx); err != nil {
			q.logger.Warn("summary cache bump failed", slog.Any("error", err))
		}
	}
	return touched, nil
}
