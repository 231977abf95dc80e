// Package allocation binds sale lines to serialized vehicle units.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/motodesk/backoffice/internal/catalog"
	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/inventory"
	"github.com/motodesk/backoffice/internal/store"
)

// EngineConfig configures optional behaviour for the engine.
type EngineConfig struct {
	Mode     Mode
	Policy   Policy
	Recorder Recorder
}

// Engine runs the allocation algorithm inside a caller-owned transaction.
type Engine struct {
	ledger   *inventory.Ledger
	logger   *slog.Logger
	mode     Mode
	policy   Policy
	recorder Recorder
}

// NewEngine wires the ledger and logger. A zero Mode means ModeLiveSale.
func NewEngine(ledger *inventory.Ledger, logger *slog.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = inventory.NewLedger(logger)
	}
	eng := &Engine{
		ledger:   ledger,
		logger:   logger,
		mode:     cfg.Mode,
		policy:   cfg.Policy,
		recorder: cfg.Recorder,
	}
	if eng.mode == "" {
		eng.mode = ModeLiveSale
	}
	if eng.recorder == nil {
		eng.recorder = nopRecorder{}
	}
	return eng
}

// Mode returns the default allocation mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Policy returns the configured policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Allocate finds or materialises a unit for req and marks it sold.
// The identified lookup always runs before materialisation, and a request with
// identifiers never draws from the anonymous pool.
func (e *Engine) Allocate(ctx context.Context, tx store.Tx, req Request) (Allocation, error) {
	alloc, err := e.allocate(ctx, tx, req)
	if err != nil {
		e.recorder.ObserveFailure(failureReason(err))
		return Allocation{}, err
	}
	e.recorder.ObserveAllocation(string(alloc.Path), string(e.modeFor(req)))
	return alloc, nil
}

func (e *Engine) allocate(ctx context.Context, tx store.Tx, req Request) (Allocation, error) {
	if req.Item.ID <= 0 {
		return Allocation{}, fmt.Errorf("%w: request has no catalog item", ErrItemNotFound)
	}
	if req.BranchID <= 0 {
		return Allocation{}, ErrInvalidBranch
	}
	req.EngineNo = catalog.NormalizeIdentity(req.EngineNo)
	req.ChassisNo = catalog.NormalizeIdentity(req.ChassisNo)
	mode := e.modeFor(req)

	var (
		unit domain.VehicleUnit
		lot  domain.InventoryLot
		path Path
		ok   bool
		err  error
	)
	if req.Identified() {
		unit, lot, ok, err = e.findIdentified(ctx, tx, req)
		path = PathIdentified
	} else {
		unit, lot, ok, err = e.findPooled(ctx, tx, req)
		path = PathPooled
	}
	if err != nil {
		return Allocation{}, err
	}

	materialized := false
	if !ok {
		if mode == ModeLiveSale {
			return Allocation{}, fmt.Errorf("%w: branch %d item %d (engine=%q chassis=%q)",
				ErrOutOfStock, req.BranchID, req.Item.ID, req.EngineNo, req.ChassisNo)
		}
		unit, lot, err = e.materialize(ctx, tx, req)
		if err != nil {
			return Allocation{}, err
		}
		path, materialized = PathMaterialized, true
	}

	return e.reserve(ctx, tx, unit, lot, path, materialized)
}

func (e *Engine) modeFor(req Request) Mode {
	if req.Mode != "" {
		return req.Mode
	}
	return e.mode
}

// findIdentified scans every unit carrying the identity and returns the first
// one sellable at the target branch for the target item.
func (e *Engine) findIdentified(ctx context.Context, tx store.Tx, req Request) (domain.VehicleUnit, domain.InventoryLot, bool, error) {
	units, err := tx.FindUnitsByIdentity(ctx, req.EngineNo, req.ChassisNo)
	if err != nil {
		return domain.VehicleUnit{}, domain.InventoryLot{}, false, fmt.Errorf("find units by identity: %w", err)
	}
	for _, unit := range units {
		if !unit.Sellable() {
			continue
		}
		lot, err := tx.GetLotForUpdate(ctx, unit.LotID)
		if err != nil {
			return domain.VehicleUnit{}, domain.InventoryLot{}, false, fmt.Errorf("load lot %d: %w", unit.LotID, err)
		}
		if lot.BranchID == req.BranchID && lot.ItemID == req.Item.ID {
			return unit, lot, true, nil
		}
	}
	if len(units) == 0 {
		return domain.VehicleUnit{}, domain.InventoryLot{}, false, nil
	}
	if !e.policy.AllowCrossBranchDuplicateIdentity {
		return domain.VehicleUnit{}, domain.InventoryLot{}, false, fmt.Errorf("%w: engine=%q chassis=%q matches unit %d",
			ErrIdentityConflict, req.EngineNo, req.ChassisNo, units[0].ID)
	}
	e.logger.InfoContext(ctx, "identity exists on an unusable unit; materialising a duplicate",
		slog.String("engine_no", req.EngineNo),
		slog.String("chassis_no", req.ChassisNo),
		slog.Int64("existing_unit_id", units[0].ID),
		slog.Int64("branch_id", req.BranchID))
	return domain.VehicleUnit{}, domain.InventoryLot{}, false, nil
}

func (e *Engine) findPooled(ctx context.Context, tx store.Tx, req Request) (domain.VehicleUnit, domain.InventoryLot, bool, error) {
	unit, err := tx.FindSellableUnitForUpdate(ctx, req.BranchID, req.Item.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.VehicleUnit{}, domain.InventoryLot{}, false, nil
	}
	if err != nil {
		return domain.VehicleUnit{}, domain.InventoryLot{}, false, fmt.Errorf("find sellable unit: %w", err)
	}
	lot, err := tx.GetLotForUpdate(ctx, unit.LotID)
	if err != nil {
		return domain.VehicleUnit{}, domain.InventoryLot{}, false, fmt.Errorf("load lot %d: %w", unit.LotID, err)
	}
	return unit, lot, true, nil
}

func (e *Engine) materialize(ctx context.Context, tx store.Tx, req Request) (domain.VehicleUnit, domain.InventoryLot, error) {
	color := req.Color
	if color == "" && len(req.Item.Colors) == 1 {
		color = req.Item.Colors[0]
	}
	lot, err := e.ledger.CreateLot(ctx, tx, inventory.NewLot{
		BranchID:   req.BranchID,
		ItemID:     req.Item.ID,
		ReceivedAt: req.DateSold,
		Qty:        1,
		Color:      color,
		DRNo:       req.DRNo,
		SINo:       req.SINo,
		UnitCost:   req.Item.Cost,
		SRP:        req.Item.SRP,
	})
	if err != nil {
		return domain.VehicleUnit{}, domain.InventoryLot{}, err
	}
	unit, err := tx.InsertUnit(ctx, domain.VehicleUnit{
		LotID:     lot.ID,
		EngineNo:  req.EngineNo,
		ChassisNo: req.ChassisNo,
		Color:     color,
		Status:    domain.UnitAvailable,
	})
	if err != nil {
		return domain.VehicleUnit{}, domain.InventoryLot{}, fmt.Errorf("insert unit: %w", err)
	}
	e.logger.InfoContext(ctx, "materialised stock for sale",
		slog.Int64("lot_id", lot.ID),
		slog.Int64("unit_id", unit.ID),
		slog.Int64("branch_id", req.BranchID),
		slog.Int64("item_id", req.Item.ID))
	return unit, lot, nil
}

func (e *Engine) reserve(ctx context.Context, tx store.Tx, unit domain.VehicleUnit, lot domain.InventoryLot, path Path, materialized bool) (Allocation, error) {
	if !unit.Sellable() {
		return Allocation{}, fmt.Errorf("%w: unit %d is %s", inventory.ErrInvariantViolation, unit.ID, unit.Status)
	}
	if err := tx.UpdateUnitStatus(ctx, unit.ID, domain.UnitSold); err != nil {
		return Allocation{}, fmt.Errorf("mark unit %d sold: %w", unit.ID, err)
	}
	unit.Status = domain.UnitSold
	updated, err := e.ledger.IncrementSold(ctx, tx, lot.ID, 1)
	if err != nil {
		return Allocation{}, err
	}
	if err := e.ledger.VerifyUnits(ctx, tx, updated); err != nil {
		return Allocation{}, err
	}
	return Allocation{Unit: unit, Lot: updated, Path: path, Materialized: materialized}, nil
}

// IsAlreadyAllocated reports whether a unit carrying either identifier is
// referenced by at least one sale line. Both identifiers blank means false.
func (e *Engine) IsAlreadyAllocated(ctx context.Context, r store.Reader, engineNo, chassisNo string) (bool, error) {
	engineNo = catalog.NormalizeIdentity(engineNo)
	chassisNo = catalog.NormalizeIdentity(chassisNo)
	if engineNo == "" && chassisNo == "" {
		return false, nil
	}
	count, err := r.CountSaleLinesForIdentity(ctx, engineNo, chassisNo)
	if err != nil {
		return false, fmt.Errorf("count sale lines: %w", err)
	}
	return count > 0, nil
}

// Release returns a sold unit to its lot's sellable pool.
func (e *Engine) Release(ctx context.Context, tx store.Tx, unitID int64) (Allocation, error) {
	unit, err := tx.GetUnitForUpdate(ctx, unitID)
	if err != nil {
		return Allocation{}, fmt.Errorf("load unit %d: %w", unitID, err)
	}
	if unit.Status != domain.UnitSold {
		return Allocation{}, fmt.Errorf("%w: unit %d is %s", ErrNotSold, unit.ID, unit.Status)
	}
	if err := tx.UpdateUnitStatus(ctx, unit.ID, domain.UnitAvailable); err != nil {
		return Allocation{}, fmt.Errorf("mark unit %d available: %w", unit.ID, err)
	}
	unit.Status = domain.UnitAvailable
	lot, err := e.ledger.DecrementSold(ctx, tx, unit.LotID, 1)
	if err != nil {
		return Allocation{}, err
	}
	if err := e.ledger.VerifyUnits(ctx, tx, lot); err != nil {
		return Allocation{}, err
	}
	return Allocation{Unit: unit, Lot: lot}, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrItemNotFound):
		return "item_not_found"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrIdentityConflict):
		return "identity_conflict"
	case errors.Is(err, inventory.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrInvalidBranch):
		return "invalid_request"
	}
	return "error"
}
