package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Item is a sellable catalog entry. Many vehicle units reference one item.
type Item struct {
	ID        int64           `json:"id"`
	Brand     string          `json:"brand"`
	Model     string          `json:"model"`
	Colors    []string        `json:"colors,omitempty"`
	SRP       decimal.Decimal `json:"srp"`
	Cost      decimal.Decimal `json:"cost"`
	CreatedAt time.Time       `json:"created_at"`
}

// UnitStatus is the lifecycle state of a vehicle unit.
type UnitStatus string

const (
	// UnitAvailable marks a unit that can still be allocated to a sale.
	UnitAvailable UnitStatus = "available"
	// UnitSold marks a unit bound to a sale line.
	UnitSold UnitStatus = "sold"
)

// VehicleUnit is one serialized physical unit owned by exactly one lot.
type VehicleUnit struct {
	ID          int64      `json:"id"`
	LotID       int64      `json:"inventory_lot_id"`
	EngineNo    string     `json:"engine_no,omitempty"`
	ChassisNo   string     `json:"chassis_no,omitempty"`
	Color       string     `json:"color,omitempty"`
	Status      UnitStatus `json:"status"`
	Transferred bool       `json:"transferred"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// HasIdentity reports whether the unit carries an engine or chassis number.
func (u VehicleUnit) HasIdentity() bool {
	return strings.TrimSpace(u.EngineNo) != "" || strings.TrimSpace(u.ChassisNo) != ""
}

// Sellable reports whether the unit sits in its branch's sellable pool.
func (u VehicleUnit) Sellable() bool {
	return u.Status == UnitAvailable && !u.Transferred
}

// InventoryLot is a stock-receipt record for one item at one branch.
type InventoryLot struct {
	ID             int64           `json:"id"`
	BranchID       int64           `json:"branch_id"`
	ItemID         int64           `json:"item_id"`
	ReceivedAt     time.Time       `json:"date_received"`
	Supplier       string          `json:"supplier,omitempty"`
	DRNo           string          `json:"dr_no,omitempty"`
	SINo           string          `json:"si_no,omitempty"`
	Color          string          `json:"color,omitempty"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	SRP            decimal.Decimal `json:"srp"`
	BeginningQty   int             `json:"beginning_qty"`
	PurchasedQty   int             `json:"purchased_qty"`
	TransferredQty int             `json:"transferred_qty"`
	SoldQty        int             `json:"sold_qty"`
	EndingQty      int             `json:"ending_qty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ExpectedEnding computes the ending quantity implied by the other counters.
func (l InventoryLot) ExpectedEnding() int {
	return l.BeginningQty + l.PurchasedQty - l.TransferredQty - l.SoldQty
}

// Balanced reports whether the four-counter equation holds.
func (l InventoryLot) Balanced() bool {
	return l.EndingQty == l.ExpectedEnding()
}

// Buyer identifies the customer on a sale.
type Buyer struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Sale is the transaction header owning one or more sale lines.
type Sale struct {
	ID            int64           `json:"id"`
	Reference     string          `json:"reference"`
	BranchID      int64           `json:"branch_id"`
	DateSold      time.Time       `json:"date_sold"`
	Buyer         Buyer           `json:"buyer"`
	DRNo          string          `json:"dr_no,omitempty"`
	SINo          string          `json:"si_no,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Category      string          `json:"category,omitempty"`
	SuppliedTotal decimal.Decimal `json:"supplied_total"`
	DerivedTotal  decimal.Decimal `json:"derived_total"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Lines         []SaleLine      `json:"lines,omitempty"`
	Links         []SaleLotLink   `json:"lot_links,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SaleLine is one allocated unit within a sale.
type SaleLine struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ItemID    int64           `json:"item_id"`
	UnitID    *int64          `json:"vehicle_unit_id,omitempty"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

// SaleLotLink is the lot-level sale join kept for quantity audits.
type SaleLotLink struct {
	ID     int64 `json:"id"`
	SaleID int64 `json:"sale_id"`
	LotID  int64 `json:"inventory_lot_id"`
	Qty    int   `json:"qty"`
}
