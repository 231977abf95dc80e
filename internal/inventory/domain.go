package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvariantViolation marks lot counters that no longer balance. It is never
	// recoverable: the enclosing transaction must roll back.
	ErrInvariantViolation = errors.New("inventory: lot invariant violated")
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrLotRequired indicates a lot without branch or item.
	ErrLotRequired = errors.New("inventory: branch and item required")
)

// NewLot describes stock conjured for a historical sale with no receiving record.
type NewLot struct {
	BranchID   int64
	ItemID     int64
	ReceivedAt time.Time
	Qty        int
	Color      string
	Supplier   string
	DRNo       string
	SINo       string
	UnitCost   decimal.Decimal
	SRP        decimal.Decimal
}
