package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/inventory"
	"github.com/motodesk/backoffice/internal/store"
	"github.com/motodesk/backoffice/internal/store/memory"
)

type countingRecorder struct {
	mu       sync.Mutex
	paths    map[string]int
	failures map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{paths: map[string]int{}, failures: map[string]int{}}
}

func (r *countingRecorder) ObserveAllocation(path, mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[path+"/"+mode]++
}

func (r *countingRecorder) ObserveFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[reason]++
}

type EngineSuite struct {
	suite.Suite
	store    *memory.Store
	engine   *Engine
	recorder *countingRecorder
	ctx      context.Context
	monarch  domain.Item
	omni     domain.Item
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.recorder = newCountingRecorder()
	s.engine = NewEngine(inventory.NewLedger(nil), nil, EngineConfig{
		Mode:     ModeHistoricalBackfill,
		Policy:   DefaultPolicy(),
		Recorder: s.recorder,
	})
	s.monarch = s.store.SeedItem(domain.Item{Brand: "MOTORSTAR", Model: "MONARCH 175", SRP: decimal.NewFromInt(68000), Cost: decimal.NewFromInt(52000)})
	s.omni = s.store.SeedItem(domain.Item{Brand: "MOTORSTAR", Model: "OMNI 125", SRP: decimal.NewFromInt(52000), Cost: decimal.NewFromInt(41000), Colors: []string{"RED"}})
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) seedStock(branchID int64, item domain.Item, units ...domain.VehicleUnit) domain.InventoryLot {
	lot := s.store.SeedLot(domain.InventoryLot{
		BranchID:     branchID,
		ItemID:       item.ID,
		BeginningQty: len(units),
		EndingQty:    len(units),
	})
	for _, u := range units {
		u.LotID = lot.ID
		s.store.SeedUnit(u)
	}
	return lot
}

func (s *EngineSuite) allocate(req Request) (Allocation, error) {
	var out Allocation
	err := s.store.WithTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.engine.Allocate(ctx, tx, req)
		return err
	})
	return out, err
}

// allocateAndRecord mirrors what a sale does: allocate and write the line referencing the unit.
func (s *EngineSuite) allocateAndRecord(req Request) (Allocation, error) {
	var out Allocation
	err := s.store.WithTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.engine.Allocate(ctx, tx, req)
		if err != nil {
			return err
		}
		sale, err := tx.InsertSale(ctx, domain.Sale{BranchID: req.BranchID, Reference: "T"})
		if err != nil {
			return err
		}
		unitID := out.Unit.ID
		_, err = tx.InsertSaleLine(ctx, domain.SaleLine{SaleID: sale.ID, ItemID: req.Item.ID, UnitID: &unitID, Qty: 1})
		return err
	})
	return out, err
}

func (s *EngineSuite) TestIdentifiedUnitIsAllocated() {
	t := s.T()
	lot := s.seedStock(5, s.monarch, domain.VehicleUnit{EngineNo: "E1"})

	alloc, err := s.allocate(Request{BranchID: 5, Item: s.monarch, EngineNo: "e1"})
	require.NoError(t, err)
	assert.Equal(t, PathIdentified, alloc.Path)
	assert.False(t, alloc.Materialized)
	assert.Equal(t, lot.ID, alloc.Lot.ID)

	unit, _ := s.store.Unit(alloc.Unit.ID)
	assert.Equal(t, domain.UnitSold, unit.Status)
	got, _ := s.store.Lot(lot.ID)
	assert.Equal(t, 1, got.SoldQty)
	assert.Equal(t, 0, got.EndingQty)
	assert.True(t, got.Balanced())
	assert.Len(t, s.store.Units(), 1)
	assert.Equal(t, 1, s.recorder.paths["identified/backfill"])
}

func (s *EngineSuite) TestUnknownIdentityMaterialises() {
	t := s.T()
	date := time.Date(2023, 4, 2, 0, 0, 0, 0, time.UTC)

	alloc, err := s.allocate(Request{BranchID: 5, Item: s.omni, EngineNo: "E2", DateSold: date, DRNo: "DR-9"})
	require.NoError(t, err)
	assert.Equal(t, PathMaterialized, alloc.Path)
	assert.True(t, alloc.Materialized)

	lots := s.store.Lots()
	require.Len(t, lots, 1)
	lot := lots[0]
	assert.Equal(t, int64(5), lot.BranchID)
	assert.Equal(t, s.omni.ID, lot.ItemID)
	assert.Equal(t, 1, lot.SoldQty)
	assert.Equal(t, 0, lot.EndingQty)
	assert.True(t, lot.Balanced())
	assert.True(t, s.omni.Cost.Equal(lot.UnitCost))
	assert.True(t, s.omni.SRP.Equal(lot.SRP))
	assert.Equal(t, "DR-9", lot.DRNo)
	assert.True(t, date.Equal(lot.ReceivedAt))

	units := s.store.Units()
	require.Len(t, units, 1)
	assert.Equal(t, "E2", units[0].EngineNo)
	assert.Equal(t, "RED", units[0].Color)
	assert.Equal(t, domain.UnitSold, units[0].Status)
}

func (s *EngineSuite) TestLiveModeRefusesToMaterialise() {
	t := s.T()
	_, err := s.allocate(Request{BranchID: 5, Item: s.omni, EngineNo: "E2", Mode: ModeLiveSale})
	require.ErrorIs(t, err, ErrOutOfStock)
	assert.Empty(t, s.store.Lots())
	assert.Empty(t, s.store.Units())
	assert.Equal(t, 1, s.recorder.failures["out_of_stock"])

	_, err = s.allocate(Request{BranchID: 5, Item: s.omni, Mode: ModeLiveSale})
	require.ErrorIs(t, err, ErrOutOfStock)
}

func (s *EngineSuite) TestBranchMismatchMaterialisesNewUnit() {
	t := s.T()
	foreign := s.seedStock(7, s.monarch, domain.VehicleUnit{ChassisNo: "C3"})

	alloc, err := s.allocate(Request{BranchID: 5, Item: s.monarch, ChassisNo: "C3"})
	require.NoError(t, err)
	assert.Equal(t, PathMaterialized, alloc.Path)
	assert.Equal(t, int64(5), alloc.Lot.BranchID)
	assert.NotEqual(t, foreign.ID, alloc.Lot.ID)

	var branch7 domain.VehicleUnit
	for _, u := range s.store.Units() {
		if u.LotID == foreign.ID {
			branch7 = u
		}
	}
	assert.Equal(t, domain.UnitAvailable, branch7.Status)
	got, _ := s.store.Lot(foreign.ID)
	assert.Equal(t, 0, got.SoldQty)
	assert.Len(t, s.store.Units(), 2)
}

func (s *EngineSuite) TestStrictPolicyRejectsDuplicateIdentity() {
	t := s.T()
	s.seedStock(7, s.monarch, domain.VehicleUnit{ChassisNo: "C3"})
	s.engine = NewEngine(nil, nil, EngineConfig{Mode: ModeHistoricalBackfill, Policy: Policy{AllowCrossBranchDuplicateIdentity: false}})

	_, err := s.allocate(Request{BranchID: 5, Item: s.monarch, ChassisNo: "C3"})
	require.ErrorIs(t, err, ErrIdentityConflict)
	assert.Len(t, s.store.Lots(), 1)

	// strict mode still materialises identities nobody has seen
	_, err = s.allocate(Request{BranchID: 5, Item: s.monarch, ChassisNo: "C4"})
	require.NoError(t, err)
}

func (s *EngineSuite) TestWrongItemOrSoldOrTransferredIsNotUsable() {
	t := s.T()
	s.seedStock(5, s.omni, domain.VehicleUnit{EngineNo: "E5"})
	s.seedStock(5, s.monarch, domain.VehicleUnit{EngineNo: "E6", Transferred: true})

	alloc, err := s.allocate(Request{BranchID: 5, Item: s.monarch, EngineNo: "E5"})
	require.NoError(t, err)
	assert.Equal(t, PathMaterialized, alloc.Path)

	alloc, err = s.allocate(Request{BranchID: 5, Item: s.monarch, EngineNo: "E6"})
	require.NoError(t, err)
	assert.Equal(t, PathMaterialized, alloc.Path)
}

func (s *EngineSuite) TestIdentifiedPrefersUsableDuplicate() {
	t := s.T()
	s.seedStock(7, s.monarch, domain.VehicleUnit{EngineNo: "E7"})
	home := s.seedStock(5, s.monarch, domain.VehicleUnit{EngineNo: "E7"})

	alloc, err := s.allocate(Request{BranchID: 5, Item: s.monarch, EngineNo: "E7"})
	require.NoError(t, err)
	assert.Equal(t, PathIdentified, alloc.Path)
	assert.Equal(t, home.ID, alloc.Lot.ID)
}

func (s *EngineSuite) TestPooledTakesLowestAvailableUnit() {
	t := s.T()
	s.seedStock(7, s.omni, domain.VehicleUnit{})
	lot := s.seedStock(5, s.omni,
		domain.VehicleUnit{Status: domain.UnitSold},
		domain.VehicleUnit{Transferred: true},
		domain.VehicleUnit{EngineNo: "P3"},
		domain.VehicleUnit{EngineNo: "P4"},
	)
	// counters consistent with one unit already sold and one transferred out
	s.store.SeedLot(domain.InventoryLot{ID: lot.ID, BranchID: 5, ItemID: s.omni.ID, BeginningQty: 4, TransferredQty: 1, SoldQty: 1, EndingQty: 2})

	alloc, err := s.allocate(Request{BranchID: 5, Item: s.omni})
	require.NoError(t, err)
	assert.Equal(t, PathPooled, alloc.Path)
	assert.Equal(t, "P3", alloc.Unit.EngineNo)
	assert.Equal(t, 2, alloc.Lot.SoldQty)
	assert.Equal(t, 1, alloc.Lot.EndingQty)
}

func (s *EngineSuite) TestPooledFallsBackToMaterialisation() {
	t := s.T()
	alloc, err := s.allocate(Request{BranchID: 5, Item: s.omni})
	require.NoError(t, err)
	assert.Equal(t, PathMaterialized, alloc.Path)
	assert.False(t, alloc.Unit.HasIdentity())
}

func (s *EngineSuite) TestItemNotFoundTouchesNothing() {
	t := s.T()
	_, err := s.allocate(Request{BranchID: 5, EngineNo: "E9"})
	require.ErrorIs(t, err, ErrItemNotFound)
	assert.Empty(t, s.store.Lots())
	assert.Equal(t, 1, s.recorder.failures["item_not_found"])

	_, err = s.allocate(Request{Item: s.omni})
	require.ErrorIs(t, err, ErrInvalidBranch)
}

func (s *EngineSuite) TestIdempotentReimport() {
	t := s.T()
	lot := s.seedStock(5, s.monarch, domain.VehicleUnit{EngineNo: "E1"})
	_, err := s.allocateAndRecord(Request{BranchID: 5, Item: s.monarch, EngineNo: "E1"})
	require.NoError(t, err)

	already, err := s.engine.IsAlreadyAllocated(s.ctx, s.store, "E1", "")
	require.NoError(t, err)
	require.True(t, already)

	// an idempotent caller skips instead of allocating again
	if !already {
		_, err = s.allocateAndRecord(Request{BranchID: 5, Item: s.monarch, EngineNo: "E1"})
		require.NoError(t, err)
	}
	got, _ := s.store.Lot(lot.ID)
	assert.Equal(t, 1, got.SoldQty)
	assert.Len(t, s.store.SaleLines(), 1)

	already, err = s.engine.IsAlreadyAllocated(s.ctx, s.store, "", "")
	require.NoError(t, err)
	assert.False(t, already)
	already, err = s.engine.IsAlreadyAllocated(s.ctx, s.store, "E404", "N/A")
	require.NoError(t, err)
	assert.False(t, already)
}

func (s *EngineSuite) TestFailureAfterReservationRollsBack() {
	t := s.T()
	lot := s.seedStock(5, s.monarch, domain.VehicleUnit{EngineNo: "E1"})
	boom := errors.New("line insert failed")

	err := s.store.WithTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.engine.Allocate(ctx, tx, Request{BranchID: 5, Item: s.monarch, EngineNo: "E1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	got, _ := s.store.Lot(lot.ID)
	assert.Equal(t, 0, got.SoldQty)
	assert.Equal(t, domain.UnitAvailable, s.store.Units()[0].Status)
}

func (s *EngineSuite) TestUnbalancedLotAbortsAllocation() {
	t := s.T()
	lot := s.store.SeedLot(domain.InventoryLot{BranchID: 5, ItemID: s.monarch.ID, BeginningQty: 1, PurchasedQty: 1, EndingQty: 1})
	s.store.SeedUnit(domain.VehicleUnit{LotID: lot.ID, EngineNo: "E1"})

	_, err := s.allocate(Request{BranchID: 5, Item: s.monarch, EngineNo: "E1"})
	require.ErrorIs(t, err, inventory.ErrInvariantViolation)
	assert.Equal(t, domain.UnitAvailable, s.store.Units()[0].Status)
	assert.Equal(t, 1, s.recorder.failures["invariant_violation"])
}

func (s *EngineSuite) TestRelease() {
	t := s.T()
	lot := s.seedStock(5, s.monarch, domain.VehicleUnit{EngineNo: "E1"})
	alloc, err := s.allocate(Request{BranchID: 5, Item: s.monarch, EngineNo: "E1"})
	require.NoError(t, err)

	err = s.store.WithTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		released, err := s.engine.Release(ctx, tx, alloc.Unit.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, domain.UnitAvailable, released.Unit.Status)
		return nil
	})
	require.NoError(t, err)
	got, _ := s.store.Lot(lot.ID)
	assert.Equal(t, 0, got.SoldQty)
	assert.Equal(t, 1, got.EndingQty)

	err = s.store.WithTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := s.engine.Release(ctx, tx, alloc.Unit.ID)
		return err
	})
	require.ErrorIs(t, err, ErrNotSold)
}

func (s *EngineSuite) TestConcurrentLiveAllocationSellsUnitOnce() {
	t := s.T()
	lot := s.seedStock(5, s.monarch, domain.VehicleUnit{EngineNo: "E1"})
	s.engine = NewEngine(nil, nil, EngineConfig{Mode: ModeLiveSale, Policy: DefaultPolicy()})

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		outOfStk  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.allocate(Request{BranchID: 5, Item: s.monarch, EngineNo: "E1"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrOutOfStock):
				outOfStk++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, outOfStk)
	got, _ := s.store.Lot(lot.ID)
	assert.Equal(t, 1, got.SoldQty)
	assert.Len(t, s.store.Units(), 1)
}

func (s *EngineSuite) TestConcurrentBackfillNeverDoubleSells() {
	t := s.T()
	lot := s.seedStock(5, s.monarch, domain.VehicleUnit{EngineNo: "E1"})

	const workers = 6
	var wg sync.WaitGroup
	ids := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alloc, err := s.allocate(Request{BranchID: 5, Item: s.monarch, EngineNo: "E1"})
			if err == nil {
				ids <- alloc.Unit.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		require.False(t, seen[id], "unit %d allocated twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers)
	got, _ := s.store.Lot(lot.ID)
	assert.Equal(t, 1, got.SoldQty)
	for _, l := range s.store.Lots() {
		assert.True(t, l.Balanced())
		sold := 0
		for _, u := range s.store.Units() {
			if u.LotID == l.ID && u.Status == domain.UnitSold {
				sold++
			}
		}
		assert.LessOrEqual(t, sold, l.SoldQty)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Backfill ")
	require.NoError(t, err)
	assert.Equal(t, ModeHistoricalBackfill, m)
	m, err = ParseMode("pos")
	require.NoError(t, err)
	assert.Equal(t, ModeLiveSale, m)
	_, err = ParseMode("later")
	require.Error(t, err)
}

func TestRequestLockKeys(t *testing.T) {
	item := domain.Item{ID: 3}
	assert.Equal(t, []string{"allocation:pool:5:3"}, Request{BranchID: 5, Item: item}.LockKeys())
	assert.Equal(t, []string{"allocation:unit:E1:", "allocation:unit::C1"}, Request{BranchID: 5, Item: item, EngineNo: " e1", ChassisNo: "c1 "}.LockKeys())
	assert.Equal(t, []string{"allocation:unit::C1"}, Request{BranchID: 5, Item: item, EngineNo: "n/a", ChassisNo: "C1"}.LockKeys())
}
