// Package inventory keeps per-lot quantity counters consistent with unit state.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/store"
)

// Ledger mutates lot counters inside a caller-owned transaction. Every
// mutation checks the four-counter equation before writing.
type Ledger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger builds Ledger.
func NewLedger(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// IncrementSold books qty units as sold against the lot.
func (l *Ledger) IncrementSold(ctx context.Context, tx store.Tx, lotID int64, qty int) (domain.InventoryLot, error) {
	if qty <= 0 {
		return domain.InventoryLot{}, ErrInvalidQuantity
	}
	return l.mutate(ctx, tx, lotID, "increment_sold", func(lot *domain.InventoryLot) error {
		if lot.EndingQty < qty {
			return fmt.Errorf("%w: lot %d ending_qty %d cannot cover %d sold", ErrInvariantViolation, lot.ID, lot.EndingQty, qty)
		}
		lot.SoldQty += qty
		lot.EndingQty -= qty
		return nil
	})
}

// DecrementSold reverses IncrementSold for administrative undo.
func (l *Ledger) DecrementSold(ctx context.Context, tx store.Tx, lotID int64, qty int) (domain.InventoryLot, error) {
	if qty <= 0 {
		return domain.InventoryLot{}, ErrInvalidQuantity
	}
	return l.mutate(ctx, tx, lotID, "decrement_sold", func(lot *domain.InventoryLot) error {
		if lot.SoldQty < qty {
			return fmt.Errorf("%w: lot %d sold_qty %d below reversal of %d", ErrInvariantViolation, lot.ID, lot.SoldQty, qty)
		}
		lot.SoldQty -= qty
		lot.EndingQty += qty
		return nil
	})
}

// CreateLot opens a lot whose whole quantity is opening stock, so
// beginning = ending = qty and nothing is yet sold or transferred.
func (l *Ledger) CreateLot(ctx context.Context, tx store.Tx, in NewLot) (domain.InventoryLot, error) {
	if in.BranchID <= 0 || in.ItemID <= 0 {
		return domain.InventoryLot{}, ErrLotRequired
	}
	if in.Qty == 0 {
		in.Qty = 1
	}
	if in.Qty < 0 {
		return domain.InventoryLot{}, ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return domain.InventoryLot{}, ErrInvalidUnitCost
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = l.now()
	}
	lot := domain.InventoryLot{
		BranchID:     in.BranchID,
		ItemID:       in.ItemID,
		ReceivedAt:   in.ReceivedAt,
		Supplier:     in.Supplier,
		DRNo:         in.DRNo,
		SINo:         in.SINo,
		Color:        in.Color,
		UnitCost:     in.UnitCost,
		SRP:          in.SRP,
		BeginningQty: in.Qty,
		EndingQty:    in.Qty,
	}
	if err := Verify(lot); err != nil {
		return domain.InventoryLot{}, err
	}
	created, err := tx.InsertLot(ctx, lot)
	if err != nil {
		return domain.InventoryLot{}, fmt.Errorf("insert lot: %w", err)
	}
	l.logger.DebugContext(ctx, "inventory lot created",
		slog.Int64("lot_id", created.ID),
		slog.Int64("branch_id", created.BranchID),
		slog.Int64("item_id", created.ItemID),
		slog.Int("qty", in.Qty))
	return created, nil
}

// VerifyUnits checks that the lot's sold units do not outnumber its sold_qty.
func (l *Ledger) VerifyUnits(ctx context.Context, r store.Reader, lot domain.InventoryLot) error {
	sold, err := r.CountUnitsByStatus(ctx, lot.ID, domain.UnitSold)
	if err != nil {
		return fmt.Errorf("count sold units: %w", err)
	}
	if sold > lot.SoldQty {
		l.logger.ErrorContext(ctx, "sold units exceed lot sold_qty",
			slog.Int64("lot_id", lot.ID),
			slog.Int("sold_units", sold),
			slog.Int("sold_qty", lot.SoldQty))
		return fmt.Errorf("%w: lot %d has %d sold units but sold_qty %d", ErrInvariantViolation, lot.ID, sold, lot.SoldQty)
	}
	return nil
}

// Verify checks ending = beginning + purchased - transferred - sold and that no counter is negative.
func Verify(lot domain.InventoryLot) error {
	if lot.BeginningQty < 0 || lot.PurchasedQty < 0 || lot.TransferredQty < 0 || lot.SoldQty < 0 || lot.EndingQty < 0 {
		return fmt.Errorf("%w: lot %d has a negative counter (%s)", ErrInvariantViolation, lot.ID, counters(lot))
	}
	if !lot.Balanced() {
		return fmt.Errorf("%w: lot %d expected ending %d (%s)", ErrInvariantViolation, lot.ID, lot.ExpectedEnding(), counters(lot))
	}
	return nil
}

func (l *Ledger) mutate(ctx context.Context, tx store.Tx, lotID int64, op string, apply func(*domain.InventoryLot) error) (domain.InventoryLot, error) {
	lot, err := tx.GetLotForUpdate(ctx, lotID)
	if err != nil {
		return domain.InventoryLot{}, fmt.Errorf("load lot %d: %w", lotID, err)
	}
	if err := Verify(lot); err != nil {
		l.logger.ErrorContext(ctx, "lot already out of balance", slog.String("op", op), slog.Any("error", err))
		return domain.InventoryLot{}, err
	}
	if err := apply(&lot); err != nil {
		l.logger.ErrorContext(ctx, "lot mutation rejected", slog.String("op", op), slog.Any("error", err))
		return domain.InventoryLot{}, err
	}
	if err := Verify(lot); err != nil {
		return domain.InventoryLot{}, err
	}
	if err := tx.UpdateLotCounters(ctx, lot); err != nil {
		return domain.InventoryLot{}, fmt.Errorf("update lot %d: %w", lotID, err)
	}
	return lot, nil
}

func counters(lot domain.InventoryLot) string {
	return fmt.Sprintf("beginning=%d purchased=%d transferred=%d sold=%d ending=%d",
		lot.BeginningQty, lot.PurchasedQty, lot.TransferredQty, lot.SoldQty, lot.EndingQty)
}
