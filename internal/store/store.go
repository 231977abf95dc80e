package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/motodesk/backoffice/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotInitialised is returned by a nil store.
	ErrNotInitialised = errors.New("store: not initialised")
)

// Reader exposes the lookups shared by transactional and non-transactional callers.
// Inside a Tx, FindUnitsByIdentity locks the returned unit rows.
type Reader interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	FindUnitsByIdentity(ctx context.Context, engineNo, chassisNo string) ([]domain.VehicleUnit, error)
	CountUnitsByStatus(ctx context.Context, lotID int64, status domain.UnitStatus) (int, error)
	CountSaleLinesForIdentity(ctx context.Context, engineNo, chassisNo string) (int, error)
}

// Tx is the write surface available inside one database transaction.
type Tx interface {
	Reader

	GetItem(ctx context.Context, id int64) (domain.Item, error)

	FindSellableUnitForUpdate(ctx context.Context, branchID, itemID int64) (domain.VehicleUnit, error)
	GetUnitForUpdate(ctx context.Context, id int64) (domain.VehicleUnit, error)
	InsertUnit(ctx context.Context, unit domain.VehicleUnit) (domain.VehicleUnit, error)
	UpdateUnitStatus(ctx context.Context, id int64, status domain.UnitStatus) error

	GetLotForUpdate(ctx context.Context, id int64) (domain.InventoryLot, error)
	InsertLot(ctx context.Context, lot domain.InventoryLot) (domain.InventoryLot, error)
	UpdateLotCounters(ctx context.Context, lot domain.InventoryLot) error

	InsertSale(ctx context.Context, sale domain.Sale) (domain.Sale, error)
	UpdateSaleTotals(ctx context.Context, saleID int64, supplied, derived, total decimal.Decimal) error
	InsertSaleLine(ctx context.Context, line domain.SaleLine) (domain.SaleLine, error)
	InsertSaleLotLink(ctx context.Context, link domain.SaleLotLink) (domain.SaleLotLink, error)
	GetSaleForUpdate(ctx context.Context, id int64) (domain.Sale, error)
	DeleteSale(ctx context.Context, id int64) error
}

// Store opens transactions and serves the read-only queries used by audits.
type Store interface {
	Reader

	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error

	GetSale(ctx context.Context, id int64) (domain.Sale, error)
	ListBranchIDs(ctx context.Context) ([]int64, error)
	ListLotsByBranch(ctx context.Context, branchID int64) ([]domain.InventoryLot, error)
	ListSalesByBranch(ctx context.Context, branchID int64) ([]domain.Sale, error)
}
