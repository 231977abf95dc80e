package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/motodesk/backoffice/internal/allocation"
	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/inventory"
	"github.com/motodesk/backoffice/internal/platform/db"
	"github.com/motodesk/backoffice/internal/store"
)

type allocationFixture struct {
	store  *Store
	item   domain.Item
	branch int64
	engine string
	lotID  int64
}

func newAllocationFixture(t *testing.T, label string) allocationFixture {
	t.Helper()
	dsn := os.Getenv("BACKOFFICE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("set BACKOFFICE_TEST_DATABASE_URL to run postgres integration test")
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool, db.TxOptions{MaxRetries: 10, Backoff: 10 * time.Millisecond})
	require.NoError(t, s.Migrate(ctx))

	stamp := time.Now().UnixNano()
	fx := allocationFixture{
		store:  s,
		branch: stamp%1_000_000 + 1,
		engine: fmt.Sprintf("IT-%s-%d", label, stamp),
	}
	fx.item = domain.Item{Brand: "MOTORSTAR", Model: fmt.Sprintf("IT %s %d", label, stamp)}
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO items (brand, model, srp, cost) VALUES ($1, $2, 68000, 52000) RETURNING id`,
		fx.item.Brand, fx.item.Model).Scan(&fx.item.ID))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		lot, err := tx.InsertLot(ctx, domain.InventoryLot{
			BranchID: fx.branch, ItemID: fx.item.ID, ReceivedAt: time.Now().UTC(),
			UnitCost: decimal.NewFromInt(52000), SRP: decimal.NewFromInt(68000),
			BeginningQty: 1, EndingQty: 1,
		})
		if err != nil {
			return err
		}
		fx.lotID = lot.ID
		_, err = tx.InsertUnit(ctx, domain.VehicleUnit{LotID: lot.ID, EngineNo: fx.engine})
		return err
	}))
	return fx
}

func (fx allocationFixture) race(t *testing.T, mode allocation.Mode, workers int) ([]allocation.Allocation, []error) {
	t.Helper()
	eng := allocation.NewEngine(inventory.NewLedger(nil), nil, allocation.EngineConfig{Mode: mode, Policy: allocation.DefaultPolicy()})
	ctx := context.Background()

	results := make([]allocation.Allocation, workers)
	errs := make([]error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fx.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
				got, err := eng.Allocate(ctx, tx, allocation.Request{
					BranchID: fx.branch,
					Item:     fx.item,
					EngineNo: fx.engine,
					DateSold: time.Now().UTC(),
				})
				if err != nil {
					return err
				}
				results[i] = got
				return nil
			})
		}(i)
	}
	close(start)
	wg.Wait()
	return results, errs
}

func (fx allocationFixture) lots(t *testing.T) []domain.InventoryLot {
	t.Helper()
	lots, err := fx.store.ListLotsByBranch(context.Background(), fx.branch)
	require.NoError(t, err)
	return lots
}

func TestConcurrentLiveAllocationSellsUnitOnce(t *testing.T) {
	fx := newAllocationFixture(t, "LIVE")
	const workers = 8

	_, errs := fx.race(t, allocation.ModeLiveSale, workers)

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.True(t, errors.Is(err, allocation.ErrOutOfStock), "unexpected error: %v", err)
	}
	require.Equal(t, 1, successes)

	lots := fx.lots(t)
	require.Len(t, lots, 1)
	require.Equal(t, 1, lots[0].SoldQty)
	require.Equal(t, 0, lots[0].EndingQty)
	require.True(t, lots[0].Balanced())
}

func TestConcurrentBackfillAllocationNeverDoubleSells(t *testing.T) {
	fx := newAllocationFixture(t, "BACKFILL")
	const workers = 6

	results, errs := fx.race(t, allocation.ModeHistoricalBackfill, workers)

	seen := make(map[int64]struct{}, workers)
	for i, err := range errs {
		require.NoError(t, err)
		seen[results[i].Unit.ID] = struct{}{}
	}
	require.Len(t, seen, workers)

	original := false
	for _, lot := range fx.lots(t) {
		require.True(t, lot.Balanced(), "lot %d unbalanced", lot.ID)
		if lot.ID == fx.lotID {
			original = true
			require.Equal(t, 1, lot.SoldQty)
		}
	}
	require.True(t, original)
}
