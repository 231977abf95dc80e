package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/store"
	"github.com/motodesk/backoffice/internal/store/memory"
)

func seedLedgerStore(t *testing.T) (*memory.Store, domain.InventoryLot) {
	t.Helper()
	st := memory.New()
	item := st.SeedItem(domain.Item{Brand: "MOTORSTAR", Model: "MONARCH 175"})
	lot := st.SeedLot(domain.InventoryLot{BranchID: 5, ItemID: item.ID, BeginningQty: 2, PurchasedQty: 1, EndingQty: 3})
	return st, lot
}

func TestIncrementAndDecrementSold(t *testing.T) {
	st, lot := seedLedgerStore(t)
	ledger := NewLedger(nil)
	ctx := context.Background()

	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		updated, err := ledger.IncrementSold(ctx, tx, lot.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.SoldQty)
		assert.Equal(t, 1, updated.EndingQty)
		return nil
	})
	require.NoError(t, err)
	got, _ := st.Lot(lot.ID)
	require.Equal(t, 2, got.SoldQty)
	require.True(t, got.Balanced())

	err = st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.DecrementSold(ctx, tx, lot.ID, 1)
		return err
	})
	require.NoError(t, err)
	got, _ = st.Lot(lot.ID)
	assert.Equal(t, 1, got.SoldQty)
	assert.Equal(t, 2, got.EndingQty)
}

func TestIncrementSoldRejectsOversell(t *testing.T) {
	st, lot := seedLedgerStore(t)
	ledger := NewLedger(nil)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.IncrementSold(ctx, tx, lot.ID, 4)
		return err
	})
	require.ErrorIs(t, err, ErrInvariantViolation)
	got, _ := st.Lot(lot.ID)
	assert.Equal(t, 0, got.SoldQty)
}

func TestDecrementSoldBelowZero(t *testing.T) {
	st, lot := seedLedgerStore(t)
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := NewLedger(nil).DecrementSold(ctx, tx, lot.ID, 1)
		return err
	})
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestMutationRefusesUnbalancedLot(t *testing.T) {
	st := memory.New()
	item := st.SeedItem(domain.Item{Model: "OMNI 125"})
	lot := st.SeedLot(domain.InventoryLot{BranchID: 1, ItemID: item.ID, BeginningQty: 1, PurchasedQty: 1, EndingQty: 1})

	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := NewLedger(nil).IncrementSold(ctx, tx, lot.ID, 1)
		return err
	})
	require.ErrorIs(t, err, ErrInvariantViolation)
	got, _ := st.Lot(lot.ID)
	assert.Equal(t, 0, got.SoldQty, "failed transaction must leave counters untouched")
}

func TestInvalidQuantity(t *testing.T) {
	st, lot := seedLedgerStore(t)
	ledger := NewLedger(nil)
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.IncrementSold(ctx, tx, lot.ID, 0)
		require.ErrorIs(t, err, ErrInvalidQuantity)
		_, err = ledger.DecrementSold(ctx, tx, lot.ID, -1)
		require.ErrorIs(t, err, ErrInvalidQuantity)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateLot(t *testing.T) {
	st := memory.New()
	item := st.SeedItem(domain.Item{Model: "OMNI 125"})
	ledger := NewLedger(nil)

	var created domain.InventoryLot
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		created, err = ledger.CreateLot(ctx, tx, NewLot{
			BranchID: 5,
			ItemID:   item.ID,
			UnitCost: decimal.NewFromInt(41000),
			SRP:      decimal.NewFromInt(52000),
		})
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, 1, created.BeginningQty)
	assert.Equal(t, 0, created.PurchasedQty)
	assert.Equal(t, 1, created.EndingQty)
	assert.Equal(t, 0, created.SoldQty)
	assert.False(t, created.ReceivedAt.IsZero())
	require.NoError(t, Verify(created))

	err = st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.CreateLot(ctx, tx, NewLot{ItemID: item.ID})
		return err
	})
	require.ErrorIs(t, err, ErrLotRequired)

	err = st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.CreateLot(ctx, tx, NewLot{BranchID: 5, ItemID: item.ID, UnitCost: decimal.NewFromInt(-1)})
		return err
	})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestVerifyUnits(t *testing.T) {
	st, lot := seedLedgerStore(t)
	st.SeedUnit(domain.VehicleUnit{LotID: lot.ID, EngineNo: "E1", Status: domain.UnitSold})
	ledger := NewLedger(nil)

	err := ledger.VerifyUnits(context.Background(), st, lot)
	require.ErrorIs(t, err, ErrInvariantViolation)

	lot.SoldQty, lot.EndingQty = 1, 2
	require.NoError(t, ledger.VerifyUnits(context.Background(), st, lot))
}

func TestVerify(t *testing.T) {
	cases := []struct {
		name string
		lot  domain.InventoryLot
		ok   bool
	}{
		{"balanced", domain.InventoryLot{BeginningQty: 3, PurchasedQty: 2, TransferredQty: 1, SoldQty: 2, EndingQty: 2}, true},
		{"off by one", domain.InventoryLot{BeginningQty: 1, PurchasedQty: 1, EndingQty: 1}, false},
		{"negative", domain.InventoryLot{BeginningQty: 0, SoldQty: 1, EndingQty: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Verify(tc.lot)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvariantViolation)
		})
	}
}
