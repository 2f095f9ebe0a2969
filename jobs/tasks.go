package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-pos/atlas-pos/internal/shared"
	"github.com/atlas-pos/atlas-pos/internal/stock"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeStockSync rebuilds the stock mirrors from the movement ledger.
	TaskTypeStockSync = "stock:sync"
	// TaskTypeLowStockScan reports products at or below the low-stock ceiling.
	TaskTypeLowStockScan = "stock:low_stock_scan"
	// TaskTypeIdempotencyCleanup expires old document posting keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// StockSyncPayload carries scheduling metadata for a sync run.
type StockSyncPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	TriggeredBy  string    `json:"triggered_by,omitempty"`
}

// NewStockSyncTask constructs an Asynq task for a ledger sync run.
func NewStockSyncTask(payload StockSyncPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeStockSync, body, asynq.Queue(QueueDefault)), nil
}

// NewStockSyncHandler returns the handler that replays the movement ledger
// into the product and inventory mirrors.
func NewStockSyncHandler(query *stock.QueryService, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload StockSyncPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		started := time.Now()
		synced, err := query.SyncFromMovements(ctx)
		if err != nil {
			logger.Error("stock sync failed", slog.Any("error", err))
			return err
		}
		logger.Info("stock sync completed",
			slog.Int("products", synced),
			slog.Duration("took", time.Since(started)),
			slog.String("triggered_by", payload.TriggeredBy),
		)
		return nil
	}
}

// LowStockScanPayload carries scheduling metadata for a low-stock scan.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLowStockScanTask constructs an Asynq task for the low-stock scan.
func NewLowStockScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// NewLowStockScanHandler returns the handler that logs current low-stock and
// out-of-stock counts so operators can alert on them.
func NewLowStockScanHandler(query *stock.QueryService, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LowStockScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		summary, err := query.InventorySummary(ctx)
		if err != nil {
			logger.Error("low stock scan failed", slog.Any("error", err))
			return err
		}
		logger.Info("low stock scan completed",
			slog.Int("low_stock", summary.LowStock),
			slog.Int("out_of_stock", summary.OutOfStock),
			slog.Int("total_products", summary.TotalProducts),
		)
		return nil
	}
}

// IdempotencyCleanupPayload bounds how long processed keys are retained.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key expiry.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupHandler returns the handler that deletes processed
// document keys older than the retention window.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		retention := payload.Retention
		if retention <= 0 {
			retention = 30 * 24 * time.Hour
		}
		if err := store.Cleanup(ctx, retention); err != nil {
			logger.Error("idempotency cleanup failed", slog.Any("error", err))
			return err
		}
		logger.Info("idempotency cleanup completed", slog.Duration("retention", retention))
		return nil
	}
}
