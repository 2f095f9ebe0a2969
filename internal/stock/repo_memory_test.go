package stock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// memoryRepo is an in-memory RepositoryPort used across the package tests.
// WithTx snapshots state so a failing callback rolls everything back, and
// InsertMovement enforces journal uniqueness the way the database does.
type memoryRepo struct {
	mu sync.Mutex

	products    map[int64]productRow
	stockMirror map[int64]float64
	invMirror   map[int64]float64
	movements   []Movement
	adjustments []Adjustment
	journals    map[string]bool

	nextMovementID   int64
	nextAdjustmentID int64

	lockOrder []int64
	staleSeqs int // while >0, NextJournalSequence returns an already-taken 1
}

type productRow struct {
	sellPrice float64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:    make(map[int64]productRow),
		stockMirror: make(map[int64]float64),
		invMirror:   make(map[int64]float64),
		journals:    make(map[string]bool),
	}
}

func (r *memoryRepo) addProduct(id int64, sellPrice float64) {
	r.products[id] = productRow{sellPrice: sellPrice}
}

type memorySnapshot struct {
	stockMirror map[int64]float64
	invMirror   map[int64]float64
	movements   []Movement
	adjustments []Adjustment
	journals    map[string]bool
	nextMovID   int64
	nextAdjID   int64
}

func (r *memoryRepo) snapshot() memorySnapshot {
	snap := memorySnapshot{
		stockMirror: make(map[int64]float64, len(r.stockMirror)),
		invMirror:   make(map[int64]float64, len(r.invMirror)),
		movements:   append([]Movement(nil), r.movements...),
		adjustments: append([]Adjustment(nil), r.adjustments...),
		journals:    make(map[string]bool, len(r.journals)),
		nextMovID:   r.nextMovementID,
		nextAdjID:   r.nextAdjustmentID,
	}
	for k, v := range r.stockMirror {
		snap.stockMirror[k] = v
	}
	for k, v := range r.invMirror {
		snap.invMirror[k] = v
	}
	for k := range r.journals {
		snap.journals[k] = true
	}
	return snap
}

func (r *memoryRepo) restore(snap memorySnapshot) {
	r.stockMirror = snap.stockMirror
	r.invMirror = snap.invMirror
	r.movements = snap.movements
	r.adjustments = snap.adjustments
	r.journals = snap.journals
	r.nextMovementID = snap.nextMovID
	r.nextAdjustmentID = snap.nextAdjID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepo) latestBalance(productID int64) float64 {
	for i := len(r.movements) - 1; i >= 0; i-- {
		if r.movements[i].ProductID == productID {
			return r.movements[i].QuantityAfter
		}
	}
	return 0
}

func (r *memoryRepo) LatestBalance(ctx context.Context, productID int64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestBalance(productID), nil
}

func (r *memoryRepo) PurchaseTotals(ctx context.Context, productID int64) (float64, float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var qty, total float64
	for _, m := range r.movements {
		if m.ProductID == productID && m.Type == MovementPurchase && m.Quantity > 0 {
			qty += m.Quantity
			total += m.TotalPrice
		}
	}
	return qty, total, nil
}

func (r *memoryRepo) Movements(ctx context.Context, filter HistoryFilter) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Movement, 0)
	for _, m := range r.movements {
		if m.ProductID != filter.ProductID {
			continue
		}
		if !filter.From.IsZero() && m.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepo) SummaryPage(ctx context.Context, afterID int64, limit int) ([]SummaryRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.products))
	for id := range r.products {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	rows := make([]SummaryRow, 0, len(ids))
	for _, id := range ids {
		var pQty, pTotal float64
		for _, m := range r.movements {
			if m.ProductID == id && m.Type == MovementPurchase && m.Quantity > 0 {
				pQty += m.Quantity
				pTotal += m.TotalPrice
			}
		}
		rows = append(rows, SummaryRow{
			ProductID:     id,
			SellPrice:     r.products[id].sellPrice,
			CachedStock:   r.stockMirror[id],
			DerivedStock:  r.latestBalance(id),
			PurchaseQty:   pQty,
			PurchaseTotal: pTotal,
		})
	}
	return rows, nil
}

func (r *memoryRepo) ProductIDPage(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.SummaryPage(ctx, afterID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ProductID)
	}
	return ids, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) LockProduct(ctx context.Context, productID int64) error {
	if _, ok := tx.repo.products[productID]; !ok {
		return ErrProductNotFound
	}
	tx.repo.lockOrder = append(tx.repo.lockOrder, productID)
	return nil
}

func (tx *memoryTx) LatestBalance(ctx context.Context, productID int64) (float64, error) {
	return tx.repo.latestBalance(productID), nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	if m.JournalNumber != "" {
		if tx.repo.journals[m.JournalNumber] {
			return Movement{}, &pgconn.PgError{Code: "23505", ConstraintName: "stock_movements_journal_number_key"}
		}
		tx.repo.journals[m.JournalNumber] = true
	}
	tx.repo.nextMovementID++
	m.ID = tx.repo.nextMovementID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	tx.repo.movements = append(tx.repo.movements, m)
	return m, nil
}

func (tx *memoryTx) InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error) {
	tx.repo.nextAdjustmentID++
	adj.ID = tx.repo.nextAdjustmentID
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now()
	}
	tx.repo.adjustments = append(tx.repo.adjustments, adj)
	return adj, nil
}

func (tx *memoryTx) NextJournalSequence(ctx context.Context, prefix string, day time.Time) (int, error) {
	if tx.repo.staleSeqs > 0 {
		tx.repo.staleSeqs--
		return 1, nil
	}
	pattern := prefix + day.Format("20060102")
	max := 0
	for number := range tx.repo.journals {
		if len(number) < len(pattern) || number[:len(pattern)] != pattern {
			continue
		}
		seq, err := parseJournalSequence(number)
		if err != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return max + 1, nil
}

func (tx *memoryTx) UpdateProductStock(ctx context.Context, productID int64, qty float64) error {
	tx.repo.stockMirror[productID] = qty
	return nil
}

func (tx *memoryTx) UpsertInventoryRecord(ctx context.Context, productID int64, qty float64) error {
	tx.repo.invMirror[productID] = qty
	return nil
}
