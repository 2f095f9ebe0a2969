package stock

import (
	"errors"
	"time"
)

// MovementType enumerates the closed set of ledger movement kinds.
type MovementType string

const (
	// MovementPurchase is an inbound receipt from a supplier purchase.
	MovementPurchase MovementType = "purchase"
	// MovementSale is an outbound sale to a customer.
	MovementSale MovementType = "sale"
	// MovementAdjustmentIn is a manual stock increase.
	MovementAdjustmentIn MovementType = "adjustment_in"
	// MovementAdjustmentOut is a manual stock decrease.
	MovementAdjustmentOut MovementType = "adjustment_out"
	// MovementReturn is a customer return putting stock back.
	MovementReturn MovementType = "return"
	// MovementDamage writes off damaged stock.
	MovementDamage MovementType = "damage"
	// MovementCorrection is a reconciliation entry, classified neither
	// incoming nor outgoing; its quantity carries an explicit sign.
	MovementCorrection MovementType = "correction"
)

// Valid reports whether t belongs to the closed movement set.
func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementAdjustmentIn, MovementAdjustmentOut,
		MovementReturn, MovementDamage, MovementCorrection:
		return true
	}
	return false
}

// Incoming reports whether t increases stock.
func (t MovementType) Incoming() bool {
	switch t {
	case MovementPurchase, MovementAdjustmentIn, MovementReturn:
		return true
	}
	return false
}

// Outgoing reports whether t decreases stock.
func (t MovementType) Outgoing() bool {
	switch t {
	case MovementSale, MovementAdjustmentOut, MovementDamage:
		return true
	}
	return false
}

// RefKind identifies the business document a movement originates from.
type RefKind string

const (
	// RefPurchase links a movement to a purchase document.
	RefPurchase RefKind = "purchase"
	// RefTransaction links a movement to a sales transaction.
	RefTransaction RefKind = "transaction"
	// RefAdjustment links a movement to a manual adjustment.
	RefAdjustment RefKind = "adjustment"
)

// Reference points at the originating business document. The zero value
// means the movement has no originating document.
type Reference struct {
	Kind RefKind
	ID   int64
}

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// Movement is one immutable ledger entry. Rows are only ever appended;
// corrections happen by writing a new entry, never by mutating history.
type Movement struct {
	ID             int64
	ProductID      int64
	UserID         int64 // 0 means system generated
	Type           MovementType
	Ref            Reference
	Quantity       float64 // signed: positive for incoming, negative for outgoing
	UnitPrice      float64
	TotalPrice     float64
	QuantityBefore float64
	QuantityAfter  float64
	JournalNumber  string // set only for adjustment entries
	Notes          string
	CreatedAt      time.Time
}

// Adjustment is the audit-facing record paired one-to-one with an
// adjustment ledger entry.
type Adjustment struct {
	ID             int64
	ProductID      int64
	UserID         int64
	JournalNumber  string
	Type           MovementType
	QuantityChange float64
	Reason         string
	Notes          string
	CreatedAt      time.Time
}

// MovementInput describes a generic movement request. Quantity is a
// positive magnitude for classified types; for corrections it is the
// signed delta to apply.
type MovementInput struct {
	ProductID int64
	Type      MovementType
	Quantity  float64
	UnitPrice float64
	Note      string
	Ref       Reference
	UserID    int64
}

// AdjustmentInput describes a manual stock adjustment request.
type AdjustmentInput struct {
	ProductID int64
	Quantity  float64 // positive magnitude
	Type      MovementType
	Reason    string
	Notes     string
	UserID    int64
}

// Purchase is the purchase document processed into purchase movements.
type Purchase struct {
	ID         int64
	Number     string
	SupplierID int64
	UserID     int64
	Lines      []PurchaseLine
}

// PurchaseLine is one received line. ProductID 0 means the line could not
// be resolved to a product and is skipped during processing.
type PurchaseLine struct {
	ProductID int64
	Quantity  float64
	UnitCost  float64
}

// Sale is the checkout document processed into sale movements.
type Sale struct {
	ID         int64
	Number     string
	CustomerID int64
	UserID     int64
	Lines      []SaleLine
}

// SaleLine is one sold line.
type SaleLine struct {
	ProductID int64
	Quantity  float64
	UnitPrice float64
}

// HistoryFilter bounds a stock history query.
type HistoryFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// Summary aggregates the whole catalogue for the back office dashboard.
type Summary struct {
	TotalProducts  int     `json:"total_products"`
	TotalCostValue float64 `json:"total_cost_value"`
	TotalSellValue float64 `json:"total_sell_value"`
	LowStock       int     `json:"low_stock"`
	OutOfStock     int     `json:"out_of_stock"`
}

// ErrInvalidMovementType indicates a type outside the closed set.
var ErrInvalidMovementType = errors.New("stock: invalid movement type")

// ErrInvalidQuantity indicates a zero or malformed quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be non zero")

// ErrProductNotFound indicates the target product does not exist.
var ErrProductNotFound = errors.New("stock: product not found")

// ErrInsufficientStock indicates the requested quantity exceeds stock on hand.
var ErrInsufficientStock = errors.New("stock: insufficient stock")

// ErrOutOfStock indicates the product has no stock on hand.
var ErrOutOfStock = errors.New("stock: out of stock")
