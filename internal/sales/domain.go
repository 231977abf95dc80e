package sales

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/motodesk/backoffice/internal/allocation"
	"github.com/motodesk/backoffice/internal/domain"
)

var (
	// ErrValidation indicates a malformed sale request.
	ErrValidation = errors.New("sales: validation failed")
	// ErrSaleNotFound indicates the sale does not exist.
	ErrSaleNotFound = errors.New("sales: sale not found")
)

// TotalPolicy decides which total becomes the authoritative Sale.TotalAmount.
type TotalPolicy string

const (
	// TotalSupplied keeps the caller's total and falls back to the derived one when none is given.
	TotalSupplied TotalPolicy = "supplied"
	// TotalDerived always uses the sum of line amounts.
	TotalDerived TotalPolicy = "derived"
)

// ParseTotalPolicy parses "supplied" or "derived".
func ParseTotalPolicy(s string) (TotalPolicy, error) {
	switch TotalPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case TotalSupplied:
		return TotalSupplied, nil
	case TotalDerived:
		return TotalDerived, nil
	}
	return "", fmt.Errorf("sales: unknown total policy %q", s)
}

// Options tune one RecordSale call. Zero fields fall back to the service defaults.
type Options struct {
	Mode        allocation.Mode
	TotalPolicy TotalPolicy
}

// LineRequest is one unit to sell. Brand may be blank.
type LineRequest struct {
	Brand     string          `json:"brand,omitempty"`
	ModelText string          `json:"model" validate:"required"`
	EngineNo  string          `json:"engine_no,omitempty"`
	ChassisNo string          `json:"chassis_no,omitempty"`
	Color     string          `json:"color,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// RecordSaleRequest is the sale header plus its lines.
type RecordSaleRequest struct {
	Reference     string           `json:"reference,omitempty" validate:"omitempty,max=64"`
	BranchID      int64            `json:"branch_id" validate:"required,gt=0"`
	DateSold      time.Time        `json:"date_sold" validate:"required"`
	Buyer         domain.Buyer     `json:"buyer"`
	DRNo          string           `json:"dr_no,omitempty"`
	SINo          string           `json:"si_no,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	Category      string           `json:"category,omitempty"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	Lines         []LineRequest    `json:"lines" validate:"required,min=1,dive"`
}

// LineError ties a failure to the request line that caused it.
type LineError struct {
	Index int
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Index, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// LineAmount is qty x unit price rounded to centavos.
func LineAmount(qty int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// DeriveTotal sums line amounts.
func DeriveTotal(lines []domain.SaleLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount)
	}
	return total
}

// ChooseTotal applies policy to a supplied (possibly absent) and a derived total.
// A missing supplied total is recorded as the derived one.
func ChooseTotal(policy TotalPolicy, supplied *decimal.Decimal, derived decimal.Decimal) (suppliedTotal, total decimal.Decimal) {
	sup := derived
	if supplied != nil {
		sup = *supplied
	}
	if policy == TotalDerived {
		return sup, derived
	}
	return sup, sup
}
