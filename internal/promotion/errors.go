package promotion

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrProductNotFound is returned when a requested product reference does not resolve.
	ErrProductNotFound = errors.New("product not found")
	// ErrCatalogUnavailable indicates the rule or price store could not be reached.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrInvalidRuleData marks a loaded rule that fails defensive checks. Such rules are skipped.
	ErrInvalidRuleData = errors.New("invalid rule data")
	// ErrNonPositiveQuantity rejects cart lines with quantity <= 0.
	ErrNonPositiveQuantity = errors.New("quantity must be positive")
	// ErrEmptyProductRef rejects cart lines without a product reference.
	ErrEmptyProductRef = errors.New("product reference is required")
)

var maxPercent = decimal.NewFromInt(100)

// CatalogError wraps a failure of an external store. It matches both
// ErrCatalogUnavailable and the underlying cause under errors.Is.
type CatalogError struct {
	Op  string
	Err error
}

func (e *CatalogError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrCatalogUnavailable, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *CatalogError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{ErrCatalogUnavailable, e.Err}
}

// CatalogFailure classifies err from an external store. Not-found and
// already-classified errors are wrapped with op; anything else becomes a
// CatalogError.
func CatalogFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrCatalogUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &CatalogError{Op: op, Err: err}
}

// ProductNotFound builds a not-found error for ref.
func ProductNotFound(ref string) error {
	return fmt.Errorf("%w: %q", ErrProductNotFound, ref)
}

// LineError reports which cart line failed boundary validation.
type LineError struct {
	Index int
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("items[%d]: %v", e.Index, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

func invalidRule(r Rule, reason string) error {
	return fmt.Errorf("%w: rule %s (%s): %s", ErrInvalidRuleData, r.ID, r.Kind, reason)
}
