package allocation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/store"
	"github.com/motodesk/backoffice/internal/store/memory"
)

func TestServiceIsAlreadyAllocatedReadsCommittedSaleLines(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	item := st.SeedItem(domain.Item{Model: "MONARCH 175"})
	engine := NewEngine(nil, nil, EngineConfig{Mode: ModeHistoricalBackfill, Policy: DefaultPolicy()})
	svc := NewService(st, engine)
	assert.Same(t, engine, svc.Engine())

	var alloc Allocation
	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		alloc, err = engine.Allocate(ctx, tx, Request{BranchID: 5, Item: item, EngineNo: "E2", ChassisNo: "C2"})
		return err
	}))

	// a reserved unit without a sale line is not an import duplicate
	already, err := svc.IsAlreadyAllocated(ctx, "e2", "")
	require.NoError(t, err)
	assert.False(t, already)

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.InsertSale(ctx, domain.Sale{BranchID: 5, Reference: "T"})
		if err != nil {
			return err
		}
		unitID := alloc.Unit.ID
		_, err = tx.InsertSaleLine(ctx, domain.SaleLine{SaleID: sale.ID, ItemID: item.ID, UnitID: &unitID, Qty: 1})
		return err
	}))

	for _, tc := range []struct{ engine, chassis string }{{"e2", ""}, {"", "c2"}, {"E2", "C2"}} {
		already, err := svc.IsAlreadyAllocated(ctx, tc.engine, tc.chassis)
		require.NoError(t, err)
		assert.True(t, already, "engine=%q chassis=%q", tc.engine, tc.chassis)
	}
	already, err = svc.IsAlreadyAllocated(ctx, "", "")
	require.NoError(t, err)
	assert.False(t, already)
}

func TestServiceNotInitialised(t *testing.T) {
	var svc *Service
	_, err := svc.IsAlreadyAllocated(context.Background(), "E1", "")
	require.Error(t, err)
}
