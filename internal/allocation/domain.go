package allocation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/motodesk/backoffice/internal/catalog"
	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/shared"
)

// Mode selects what happens when no existing unit can serve a sale line.
type Mode string

const (
	// ModeHistoricalBackfill conjures a lot and unit to match recorded history.
	ModeHistoricalBackfill Mode = "backfill"
	// ModeLiveSale refuses to invent stock and fails with ErrOutOfStock.
	ModeLiveSale Mode = "live"
)

// ParseMode accepts "backfill"/"historical" and "live"/"pos".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "backfill", "historical":
		return ModeHistoricalBackfill, nil
	case "live", "pos":
		return ModeLiveSale, nil
	}
	return "", fmt.Errorf("allocation: unknown mode %q", s)
}

// Path records which branch of the algorithm produced the unit.
type Path string

const (
	PathIdentified   Path = "identified"
	PathPooled       Path = "pooled"
	PathMaterialized Path = "materialized"
)

// Policy holds the data-quality knobs of the engine.
type Policy struct {
	// AllowCrossBranchDuplicateIdentity lets an identity that already exists on an
	// unusable unit be materialised again at the target branch. When false such
	// requests fail with ErrIdentityConflict.
	AllowCrossBranchDuplicateIdentity bool
}

// DefaultPolicy tolerates duplicate identities across branches.
func DefaultPolicy() Policy {
	return Policy{AllowCrossBranchDuplicateIdentity: true}
}

var (
	// ErrItemNotFound aborts allocation before any inventory is touched.
	ErrItemNotFound = catalog.ErrItemNotFound
	// ErrOutOfStock is returned in live mode when nothing usable exists.
	ErrOutOfStock = errors.New("allocation: out of stock")
	// ErrIdentityConflict is returned in strict mode when the identity belongs to an unusable unit.
	ErrIdentityConflict = errors.New("allocation: identity belongs to a unit that cannot be sold here")
	// ErrAlreadyAllocated signals that a historical row was imported before. Allocate never returns it.
	ErrAlreadyAllocated = errors.New("allocation: identity already allocated")
	// ErrNotSold is returned when releasing a unit that is not sold.
	ErrNotSold = errors.New("allocation: unit is not sold")
	// ErrInvalidBranch indicates a missing branch.
	ErrInvalidBranch = errors.New("allocation: branch required")
)

// Request describes one sale line to bind to a unit.
type Request struct {
	BranchID  int64
	Item      domain.Item
	EngineNo  string
	ChassisNo string
	Color     string
	// DateSold, DRNo and SINo are copied onto a materialised lot.
	DateSold time.Time
	DRNo     string
	SINo     string
	// Mode overrides the engine default when set.
	Mode Mode
}

// Identified reports whether the request carries an engine or chassis number.
func (r Request) Identified() bool {
	return catalog.NormalizeIdentity(r.EngineNo) != "" || catalog.NormalizeIdentity(r.ChassisNo) != ""
}

// LockKeys lists the redis keys serialising allocations that could touch the same unit.
func (r Request) LockKeys() []string {
	engine := catalog.NormalizeIdentity(r.EngineNo)
	chassis := catalog.NormalizeIdentity(r.ChassisNo)
	if engine == "" && chassis == "" {
		return []string{shared.PoolLockKey(r.BranchID, r.Item.ID)}
	}
	keys := make([]string, 0, 2)
	if engine != "" {
		keys = append(keys, shared.UnitLockKey(engine, ""))
	}
	if chassis != "" {
		keys = append(keys, shared.UnitLockKey("", chassis))
	}
	return keys
}

// Allocation is a reserved unit and its lot after the counters moved.
type Allocation struct {
	Unit         domain.VehicleUnit  `json:"unit"`
	Lot          domain.InventoryLot `json:"lot"`
	Path         Path                `json:"path"`
	Materialized bool                `json:"materialized"`
}

// Recorder receives allocation outcomes for metrics.
type Recorder interface {
	ObserveAllocation(path, mode string)
	ObserveFailure(reason string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAllocation(string, string) {}
func (nopRecorder) ObserveFailure(string)            {}
