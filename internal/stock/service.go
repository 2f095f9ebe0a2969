package stock

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-pos/atlas-pos/internal/observability"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the movement recorder: the only writer of the stock ledger
// and its projection mirrors. Every public operation runs as one atomic
// transaction holding the per-product row lock for its duration.
type Service struct {
	repo          RepositoryPort
	audit         AuditPort
	idempotency   *shared.IdempotencyStore
	cache         *Cache
	metrics       *observability.Metrics
	logger        *slog.Logger
	journalPrefix string
	now           func() time.Time
}

// ServiceConfig groups optional recorder settings.
type ServiceConfig struct {
	JournalPrefix string
	Logger        *slog.Logger
	Cache         *Cache
	Metrics       *observability.Metrics
}

// NewService builds the recorder.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cfg ServiceConfig) *Service {
	prefix := cfg.JournalPrefix
	if prefix == "" {
		prefix = "ADJ"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:          repo,
		audit:         audit,
		idempotency:   idem,
		cache:         cfg.Cache,
		metrics:       cfg.Metrics,
		logger:        logger,
		journalPrefix: prefix,
		now:           time.Now,
	}
}

// RecordMovement appends one generic ledger entry and writes both
// projection mirrors to the new balance. Used directly for purchase
// receipts and plain stock-in records.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Movement, error) {
	var movement Movement
	var clamped bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, clamped, err = s.postLine(ctx, tx, input)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.afterCommit(ctx, "stock:record", input.UserID, []Movement{movement}, clampedCount(clamped))
	return movement, nil
}

// ProcessPurchase records one purchase entry per resolved line. Lines
// without a resolved product are skipped. All lines commit in one
// transaction, locking products in ascending id order.
func (s *Service) ProcessPurchase(ctx context.Context, purchase Purchase) error {
	lines := resolvedPurchaseLines(purchase.Lines)
	if len(lines) == 0 {
		return nil
	}
	return s.postDocument(ctx, documentPost{
		idemKey: documentKey("purchase", purchase.ID),
		action:  "stock:purchase",
		userID:  purchase.UserID,
		inputs:  purchaseInputs(purchase, lines, false),
	})
}

// ReversePurchase appends a correction entry with negative quantity for
// every line of the purchase, clamping each balance at zero. The reversal
// is unconditional: stock already consumed by later sales is not checked.
func (s *Service) ReversePurchase(ctx context.Context, purchase Purchase) error {
	lines := resolvedPurchaseLines(purchase.Lines)
	if len(lines) == 0 {
		return nil
	}
	return s.postDocument(ctx, documentPost{
		idemKey: documentKey("purchase-reversal", purchase.ID),
		action:  "stock:purchase_reversal",
		userID:  purchase.UserID,
		inputs:  purchaseInputs(purchase, lines, true),
	})
}

// ProcessTransaction records one sale entry per sold line, decrementing
// stock with the floor-at-zero clamp.
func (s *Service) ProcessTransaction(ctx context.Context, sale Sale) error {
	if len(sale.Lines) == 0 {
		return nil
	}
	return s.postDocument(ctx, documentPost{
		idemKey: documentKey("transaction", sale.ID),
		action:  "stock:sale",
		userID:  sale.UserID,
		inputs:  saleInputs(sale, false),
	})
}

// ReverseTransaction appends a return entry per line, restoring the sold
// quantities. The balance only grows, so no clamping applies.
func (s *Service) ReverseTransaction(ctx context.Context, sale Sale) error {
	if len(sale.Lines) == 0 {
		return nil
	}
	return s.postDocument(ctx, documentPost{
		idemKey: documentKey("transaction-reversal", sale.ID),
		action:  "stock:sale_reversal",
		userID:  sale.UserID,
		inputs:  saleInputs(sale, true),
	})
}

// CreateAdjustment writes one audit adjustment record and one matching
// ledger entry carrying a day-scoped journal number. A duplicate journal
// number drawn by a concurrent writer trips the unique constraint and the
// whole transaction is retried with a fresh sequence.
func (s *Service) CreateAdjustment(ctx context.Context, input AdjustmentInput) (Adjustment, Movement, error) {
	if input.ProductID == 0 {
		return Adjustment{}, Movement{}, ErrProductNotFound
	}
	if input.Quantity <= 0 {
		return Adjustment{}, Movement{}, ErrInvalidQuantity
	}
	movType, err := classifyAdjustment(input.Type)
	if err != nil {
		return Adjustment{}, Movement{}, err
	}

	var adjustment Adjustment
	var movement Movement
	var clamped bool
	for attempt := 0; ; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			day := s.now().UTC()
			seq, err := tx.NextJournalSequence(ctx, s.journalPrefix, day)
			if err != nil {
				return err
			}
			number, err := FormatJournalNumber(s.journalPrefix, day, seq)
			if err != nil {
				return err
			}
			movement, clamped, err = s.postLine(ctx, tx, MovementInput{
				ProductID: input.ProductID,
				Type:      movType,
				Quantity:  input.Quantity,
				Note:      input.Notes,
				Ref:       Reference{Kind: RefAdjustment},
				UserID:    input.UserID,
			}, withJournalNumber(number))
			if err != nil {
				return err
			}
			adjustment, err = tx.InsertAdjustment(ctx, Adjustment{
				ProductID:      input.ProductID,
				UserID:         input.UserID,
				JournalNumber:  number,
				Type:           movType,
				QuantityChange: movement.Quantity,
				Reason:         input.Reason,
				Notes:          input.Notes,
			})
			return err
		})
		if err == nil {
			break
		}
		if isJournalConflict(err) && attempt < journalRetries {
			s.logger.Warn("journal number conflict, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int64("product_id", input.ProductID))
			continue
		}
		return Adjustment{}, Movement{}, err
	}
	s.afterCommit(ctx, "stock:adjustment", input.UserID, []Movement{movement}, clampedCount(clamped))
	return adjustment, movement, nil
}

// StockCorrection adjusts a product to an absolute quantity by delegating
// to CreateAdjustment with the signed delta against the derived balance.
func (s *Service) StockCorrection(ctx context.Context, productID int64, newQuantity float64, reason string, userID int64) (Adjustment, Movement, error) {
	if productID == 0 {
		return Adjustment{}, Movement{}, ErrProductNotFound
	}
	if newQuantity < 0 {
		return Adjustment{}, Movement{}, ErrInvalidQuantity
	}
	current, err := s.repo.LatestBalance(ctx, productID)
	if err != nil {
		return Adjustment{}, Movement{}, err
	}
	delta := newQuantity - current
	if delta == 0 {
		return Adjustment{}, Movement{}, fmt.Errorf("%w: stock already at %.2f", ErrInvalidQuantity, newQuantity)
	}
	movType := MovementAdjustmentIn
	if delta < 0 {
		movType = MovementAdjustmentOut
	}
	return s.CreateAdjustment(ctx, AdjustmentInput{
		ProductID: productID,
		Quantity:  math.Abs(delta),
		Type:      movType,
		Reason:    reason,
		Notes:     fmt.Sprintf("Stock correction to %.2f", newQuantity),
		UserID:    userID,
	})
}

type documentPost struct {
	idemKey string
	action  string
	userID  int64
	inputs  []MovementInput
}

// postDocument commits every line of a business document in one
// transaction. Lines are locked in ascending product id order so two
// concurrent documents touching overlapping products cannot deadlock.
func (s *Service) postDocument(ctx context.Context, post documentPost) error {
	sort.SliceStable(post.inputs, func(i, j int) bool {
		return post.inputs[i].ProductID < post.inputs[j].ProductID
	})

	insertedKey := false
	if s.idempotency != nil && post.idemKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, post.idemKey, "stock"); err != nil {
			return err
		}
		insertedKey = true
	}

	movements := make([]Movement, 0, len(post.inputs))
	clamps := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, input := range post.inputs {
			movement, clamped, err := s.postLine(ctx, tx, input)
			if err != nil {
				return err
			}
			if clamped {
				clamps++
			}
			movements = append(movements, movement)
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, post.idemKey)
		}
		return err
	}
	s.afterCommit(ctx, post.action, post.userID, movements, clamps)
	return nil
}

type lineOption func(*Movement)

func withJournalNumber(number string) lineOption {
	return func(m *Movement) { m.JournalNumber = number }
}

// postLine appends one ledger entry and writes both mirrors. The caller
// must already be inside a transaction; postLine takes the product row
// lock before reading the running balance so same-product writers
// serialise.
func (s *Service) postLine(ctx context.Context, tx TxRepository, input MovementInput, opts ...lineOption) (Movement, bool, error) {
	if input.ProductID == 0 {
		return Movement{}, false, ErrProductNotFound
	}
	if !input.Type.Valid() {
		return Movement{}, false, ErrInvalidMovementType
	}
	signed, err := signedQuantity(input.Type, input.Quantity)
	if err != nil {
		return Movement{}, false, err
	}

	if err := tx.LockProduct(ctx, input.ProductID); err != nil {
		return Movement{}, false, err
	}
	before, err := tx.LatestBalance(ctx, input.ProductID)
	if err != nil {
		return Movement{}, false, err
	}
	after := before + signed
	clamped := false
	if after < 0 {
		clamped = true
		after = 0
	}

	magnitude := math.Abs(signed)
	movement := Movement{
		ProductID:      input.ProductID,
		UserID:         input.UserID,
		Type:           input.Type,
		Ref:            input.Ref,
		Quantity:       signed,
		UnitPrice:      input.UnitPrice,
		TotalPrice:     round2(input.UnitPrice * magnitude),
		QuantityBefore: before,
		QuantityAfter:  after,
		Notes:          input.Note,
	}
	for _, opt := range opts {
		opt(&movement)
	}
	movement, err = tx.InsertMovement(ctx, movement)
	if err != nil {
		return Movement{}, false, err
	}
	if err := tx.UpdateProductStock(ctx, input.ProductID, after); err != nil {
		return Movement{}, false, err
	}
	if err := tx.UpsertInventoryRecord(ctx, input.ProductID, after); err != nil {
		return Movement{}, false, err
	}
	return movement, clamped, nil
}

// afterCommit handles the non-transactional tail of a committed operation:
// audit trail, metrics, summary cache invalidation and clamp warnings.
func (s *Service) afterCommit(ctx context.Context, action string, actorID int64, movements []Movement, clamps int) {
	if s.audit != nil {
		for _, m := range movements {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  actorID,
				Action:   action,
				Entity:   "stock_movement",
				EntityID: fmt.Sprintf("%d", m.ID),
				Meta: map[string]any{
					"product_id":     m.ProductID,
					"movement_type":  string(m.Type),
					"quantity":       m.Quantity,
					"quantity_after": m.QuantityAfter,
					"journal_number": m.JournalNumber,
				},
			})
		}
	}
	if s.metrics != nil {
		for _, m := range movements {
			s.metrics.ObserveMovement(string(m.Type))
		}
		for i := 0; i < clamps; i++ {
			s.metrics.IncStockClamped()
		}
	}
	for _, m := range movements {
		if m.QuantityAfter == 0 && m.QuantityBefore+m.Quantity < 0 {
			s.logger.Warn("stock clamped at zero",
				slog.Int64("product_id", m.ProductID),
				slog.String("movement_type", string(m.Type)),
				slog.Float64("lost_quantity", -(m.QuantityBefore+m.Quantity)))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("summary cache bump failed", slog.Any("error", err))
		}
	}
}

func signedQuantity(t MovementType, qty float64) (float64, error) {
	switch {
	case t.Incoming():
		if qty <= 0 {
			return 0, ErrInvalidQuantity
		}
		return qty, nil
	case t.Outgoing():
		if qty <= 0 {
			return 0, ErrInvalidQuantity
		}
		return -qty, nil
	default: // correction carries its own sign
		if qty == 0 {
			return 0, ErrInvalidQuantity
		}
		return qty, nil
	}
}

func classifyAdjustment(t MovementType) (MovementType, error) {
	switch {
	case t == MovementAdjustmentIn || t.Incoming():
		return MovementAdjustmentIn, nil
	case t == MovementAdjustmentOut || t.Outgoing():
		return MovementAdjustmentOut, nil
	default:
		return "", ErrInvalidMovementType
	}
}

func resolvedPurchaseLines(lines []PurchaseLine) []PurchaseLine {
	resolved := make([]PurchaseLine, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == 0 {
			continue
		}
		resolved = append(resolved, line)
	}
	return resolved
}

func purchaseInputs(purchase Purchase, lines []PurchaseLine, reverse bool) []MovementInput {
	inputs := make([]MovementInput, 0, len(lines))
	for _, line := range lines {
		input := MovementInput{
			ProductID: line.ProductID,
			Type:      MovementPurchase,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitCost,
			Note:      fmt.Sprintf("Purchase %s", purchase.Number),
			Ref:       Reference{Kind: RefPurchase, ID: purchase.ID},
			UserID:    purchase.UserID,
		}
		if reverse {
			input.Type = MovementCorrection
			input.Quantity = -line.Quantity
			input.UnitPrice = 0
			input.Note = fmt.Sprintf("Reversal of purchase %s", purchase.Number)
		}
		inputs = append(inputs, input)
	}
	return inputs
}

func saleInputs(sale Sale, reverse bool) []MovementInput {
	inputs := make([]MovementInput, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		input := MovementInput{
			ProductID: line.ProductID,
			Type:      MovementSale,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Note:      fmt.Sprintf("Sale %s", sale.Number),
			Ref:       Reference{Kind: RefTransaction, ID: sale.ID},
			UserID:    sale.UserID,
		}
		if reverse {
			input.Type = MovementReturn
			input.Note = fmt.Sprintf("Return for sale %s", sale.Number)
		}
		inputs = append(inputs, input)
	}
	return inputs
}

// documentKey derives a deterministic idempotency key for document posting
// so a re-post of the same document is rejected, not double-counted.
func documentKey(kind string, id int64) string {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("stock:%s:%d", kind, id))).String()
}

func clampedCount(clamped bool) int {
	if clamped {
		return 1
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
