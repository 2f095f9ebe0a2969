package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-pos/atlas-pos/internal/platform/db"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. Any
// error from the callback rolls the whole unit back; begin/commit failures
// surface as ErrPersistence.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	if err != nil && errors.Is(err, db.ErrTxFailure) {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return err
}

// LatestBalance reads the running balance of the newest ledger row without
// taking a lock; 0 when the product has no movements yet.
func (r *Repository) LatestBalance(ctx context.Context, productID int64) (float64, error) {
	return latestBalance(ctx, r.pool, productID)
}

// PurchaseTotals sums quantity and total price over purchase entries.
func (r *Repository) PurchaseTotals(ctx context.Context, productID int64) (float64, float64, error) {
	var qty, total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity),0), COALESCE(SUM(total_price),0)
FROM stock_movements WHERE product_id=$1 AND movement_type=$2`, productID, string(MovementPurchase)).Scan(&qty, &total)
	if err != nil {
		return 0, 0, err
	}
	return qty, total, nil
}

// Movements lists ledger entries for a product, newest first.
func (r *Repository) Movements(ctx context.Context, filter HistoryFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, COALESCE(user_id,0), movement_type, COALESCE(ref_kind,''), COALESCE(ref_id,0),
quantity, unit_price, total_price, quantity_before, quantity_after, COALESCE(journal_number,''), notes, created_at
FROM stock_movements
WHERE product_id=$1 AND created_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')
ORDER BY created_at DESC, id DESC
LIMIT $4`, filter.ProductID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var refKind string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.UserID, &m.Type, &refKind, &m.Ref.ID,
			&m.Quantity, &m.UnitPrice, &m.TotalPrice, &m.QuantityBefore, &m.QuantityAfter,
			&m.JournalNumber, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Ref.Kind = RefKind(refKind)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

// SummaryPage returns one keyset page of per-product summary figures.
func (r *Repository) SummaryPage(ctx context.Context, afterID int64, limit int) ([]SummaryRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.sell_price, p.stock,
COALESCE((SELECT m.quantity_after FROM stock_movements m WHERE m.product_id=p.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1), 0),
COALESCE(pt.qty, 0), COALESCE(pt.total, 0)
FROM products p
LEFT JOIN LATERAL (
    SELECT SUM(quantity) AS qty, SUM(total_price) AS total
    FROM stock_movements WHERE product_id=p.id AND movement_type='purchase'
) pt ON TRUE
WHERE p.id > $1
ORDER BY p.id ASC
LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	page := []SummaryRow{}
	for rows.Next() {
		var row SummaryRow
		if err := rows.Scan(&row.ProductID, &row.SellPrice, &row.CachedStock, &row.DerivedStock, &row.PurchaseQty, &row.PurchaseTotal); err != nil {
			return nil, err
		}
		page = append(page, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// ProductIDPage returns one keyset page of product identifiers.
func (r *Repository) ProductIDPage(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM products WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *txRepository) LockProduct(ctx context.Context, productID int64) error {
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT id FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductNotFound
		}
		return err
	}
	return nil
}

func (r *txRepository) LatestBalance(ctx context.Context, productID int64) (float64, error) {
	return latestBalance(ctx, r.tx, productID)
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements
(product_id, user_id, movement_type, ref_kind, ref_id, quantity, unit_price, total_price, quantity_before, quantity_after, journal_number, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
RETURNING id, created_at`,
		m.ProductID, nullInt(m.UserID), string(m.Type), nullString(string(m.Ref.Kind)), nullInt(m.Ref.ID),
		m.Quantity, m.UnitPrice, m.TotalPrice, m.QuantityBefore, m.QuantityAfter,
		nullString(m.JournalNumber), m.Notes).Scan(&m.ID, &m.CreatedAt)
	return m, err
}

func (r *txRepository) InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_adjustments
(product_id, user_id, journal_number, adjustment_type, quantity_change, reason, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
RETURNING id, created_at`,
		adj.ProductID, nullInt(adj.UserID), adj.JournalNumber, string(adj.Type),
		adj.QuantityChange, adj.Reason, adj.Notes).Scan(&adj.ID, &adj.CreatedAt)
	return adj, err
}

func (r *txRepository) NextJournalSequence(ctx context.Context, prefix string, day time.Time) (int, error) {
	pattern := journalDayPattern(prefix, day)
	var latest string
	err := r.tx.QueryRow(ctx, `SELECT journal_number FROM inventory_adjustments
WHERE journal_number LIKE $1 ORDER BY id DESC LIMIT 1`, pattern).Scan(&latest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 1, nil
		}
		return 0, err
	}
	seq, err := parseJournalSequence(latest)
	if err != nil {
		return 0, err
	}
	return seq + 1, nil
}

func (r *txRepository) UpdateProductStock(ctx context.Context, productID int64, qty float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET stock=$2, updated_at=NOW() WHERE id=$1`, productID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepository) UpsertInventoryRecord(ctx context.Context, productID int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_records (product_id, quantity, updated_at)
VALUES ($1,$2,NOW())
ON CONFLICT (product_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`, productID, qty)
	return err
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func latestBalance(ctx context.Context, q pgQuerier, productID int64) (float64, error) {
	var balance float64
	err := q.QueryRow(ctx, `SELECT quantity_after FROM stock_movements
WHERE product_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, productID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
