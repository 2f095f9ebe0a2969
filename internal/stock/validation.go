package stock

import (
	"context"
	"errors"
	"fmt"
)

// ProductNamer resolves a product's display name for validation messages.
type ProductNamer interface {
	ProductName(ctx context.Context, productID int64) (string, error)
}

// RequestedLine is one cart line submitted for pre-flight validation.
type RequestedLine struct {
	ProductID int64
	Quantity  float64
}

// LineError describes one per-line shortfall found during validation.
type LineError struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Requested float64 `json:"requested"`
	Available float64 `json:"available"`
	Reason    string  `json:"reason"` // out_of_stock | insufficient_stock | not_found
	Message   string  `json:"message"`
}

// Error implements error so ValidateOrFail can surface the first shortfall.
func (e LineError) Error() string {
	return e.Message
}

// Unwrap maps the shortfall onto the package sentinels.
func (e LineError) Unwrap() error {
	switch e.Reason {
	case "out_of_stock":
		return ErrOutOfStock
	case "not_found":
		return ErrProductNotFound
	default:
		return ErrInsufficientStock
	}
}

// ValidationResult collects the outcome of a pre-flight stock check.
type ValidationResult struct {
	Valid  bool        `json:"valid"`
	Errors []LineError `json:"errors"`
}

// Validator is the advisory pre-flight gate invoked before committing a
// sale. It takes no lock: a concurrent writer can change stock between the
// check and the subsequent ProcessTransaction, in which case the recorder's
// floor-at-zero clamp is the recovery path.
type Validator struct {
	query    *QueryService
	products ProductNamer
}

// NewValidator builds the gate. products may be nil, in which case line
// errors carry no display name.
func NewValidator(query *QueryService, products ProductNamer) *Validator {
	return &Validator{query: query, products: products}
}

// ValidateStock compares each requested quantity against the derived
// current stock and returns a structured list of per-line shortfalls.
func (v *Validator) ValidateStock(ctx context.Context, lines []RequestedLine) (ValidationResult, error) {
	result := ValidationResult{Valid: true, Errors: []LineError{}}
	for _, line := range lines {
		name := v.resolveName(ctx, line.ProductID)
		if line.ProductID == 0 {
			result.Valid = false
			result.Errors = append(result.Errors, LineError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Reason:    "not_found",
				Message:   "product not found",
			})
			continue
		}
		available, err := v.query.CurrentStock(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				result.Valid = false
				result.Errors = append(result.Errors, LineError{
					ProductID: line.ProductID,
					Name:      name,
					Requested: line.Quantity,
					Reason:    "not_found",
					Message:   fmt.Sprintf("product %d not found", line.ProductID),
				})
				continue
			}
			return ValidationResult{}, err
		}
		switch {
		case available <= 0:
			result.Valid = false
			result.Errors = append(result.Errors, LineError{
				ProductID: line.ProductID,
				Name:      name,
				Requested: line.Quantity,
				Available: available,
				Reason:    "out_of_stock",
				Message:   fmt.Sprintf("%s is out of stock", displayName(name, line.ProductID)),
			})
		case available < line.Quantity:
			result.Valid = false
			result.Errors = append(result.Errors, LineError{
				ProductID: line.ProductID,
				Name:      name,
				Requested: line.Quantity,
				Available: available,
				Reason:    "insufficient_stock",
				Message: fmt.Sprintf("insufficient stock for %s: available %g, requested %g",
					displayName(name, line.ProductID), available, line.Quantity),
			})
		}
	}
	return result, nil
}

// ValidateOrFail returns the first shortfall as an error, or nil when every
// line can be fulfilled.
func (v *Validator) ValidateOrFail(ctx context.Context, lines []RequestedLine) error {
	result, err := v.ValidateStock(ctx, lines)
	if err != nil {
		return err
	}
	if result.Valid {
		return nil
	}
	return result.Errors[0]
}

func (v *Validator) resolveName(ctx context.Context, productID int64) string {
	if v.products == nil || productID == 0 {
		return ""
	}
	name, err := v.products.ProductName(ctx, productID)
	if err != nil {
		return ""
	}
	return name
}

func displayName(name string, productID int64) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("product %d", productID)
}
