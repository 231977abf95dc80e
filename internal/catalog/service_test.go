package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/resolver"
	"github.com/motodesk/backoffice/internal/store/memory"
)

func newCatalogFixture(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	r, err := resolver.New(resolver.DefaultCatalog(), resolver.DefaultThreshold)
	require.NoError(t, err)
	st := memory.New()
	st.SeedItem(domain.Item{Brand: "MOTORSTAR", Model: "MONARCH 175", SRP: decimal.NewFromInt(68000)})
	st.SeedItem(domain.Item{Brand: "MOTORSTAR", Model: "OMNI 125 DELUXE", SRP: decimal.NewFromInt(52000)})
	st.SeedItem(domain.Item{Brand: "RUSI", Model: "EASY RIDE 150", SRP: decimal.NewFromInt(61000)})
	return NewService(r), st
}

func TestFindItemMatchingOrder(t *testing.T) {
	svc, st := newCatalogFixture(t)
	ctx := context.Background()

	match, err := svc.FindItemByBrandAndCanonicalModel(ctx, st, "motorstar", "monarch  175")
	require.NoError(t, err)
	assert.Equal(t, MatchExact, match.Kind)
	assert.Equal(t, "MONARCH 175", match.Item.Model)

	match, err = svc.FindItemByBrandAndCanonicalModel(ctx, st, "MOTORSTAR", "OMNI 125")
	require.NoError(t, err)
	assert.Equal(t, MatchContains, match.Kind)
	assert.Equal(t, "OMNI 125 DELUXE", match.Item.Model)

	// brand mismatch still falls back to the catalog-wide fuzzy step
	match, err = svc.FindItemByBrandAndCanonicalModel(ctx, st, "MOTORSTAR", "EASY RIDE 150 S")
	require.NoError(t, err)
	assert.Equal(t, MatchFuzzy, match.Kind)
	assert.Equal(t, "RUSI", match.Item.Brand)

	_, err = svc.FindItemByBrandAndCanonicalModel(ctx, st, "MOTORSTAR", "CAFE 400")
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestFindItemBlankBrandMatchesAny(t *testing.T) {
	svc, st := newCatalogFixture(t)
	match, err := svc.FindItemByBrandAndCanonicalModel(context.Background(), st, "", "EASY RIDE 150")
	require.NoError(t, err)
	assert.Equal(t, MatchExact, match.Kind)
	assert.Equal(t, "RUSI", match.Item.Brand)
}

func TestResolveItem(t *testing.T) {
	svc, st := newCatalogFixture(t)
	ctx := context.Background()

	match, err := svc.ResolveItem(ctx, st, "MOTORSTAR", "tm175")
	require.NoError(t, err)
	assert.Equal(t, "MONARCH 175", match.Item.Model)
	assert.Equal(t, resolver.MethodPattern, match.Resolution.Method)

	match, err = svc.ResolveItem(ctx, st, "MOTORSTAR", "zzzxyz")
	require.ErrorIs(t, err, ErrItemNotFound)
	assert.False(t, match.Resolution.Confident())

	match, err = svc.ResolveItem(ctx, st, "MOTORSTAR", "150")
	require.ErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, resolver.MethodAmbiguous, match.Resolution.Method)
	assert.Empty(t, match.Item.Model)
}

func TestFindUnit(t *testing.T) {
	svc, st := newCatalogFixture(t)
	ctx := context.Background()
	lot := st.SeedLot(domain.InventoryLot{BranchID: 7, ItemID: 1, BeginningQty: 1, EndingQty: 1})
	seeded := st.SeedUnit(domain.VehicleUnit{LotID: lot.ID, EngineNo: "E1", ChassisNo: "C1", Status: domain.UnitSold})

	unit, err := svc.FindUnit(ctx, st, " e1 ", "")
	require.NoError(t, err)
	require.NotNil(t, unit)
	assert.Equal(t, seeded.ID, unit.ID)

	unit, err = svc.FindUnit(ctx, st, "", "c1")
	require.NoError(t, err)
	require.NotNil(t, unit)

	unit, err = svc.FindUnit(ctx, st, "N/A", "")
	require.NoError(t, err)
	assert.Nil(t, unit)

	unit, err = svc.FindUnit(ctx, st, "E404", "C404")
	require.NoError(t, err)
	assert.Nil(t, unit)
}

func TestNormalizeIdentity(t *testing.T) {
	assert.Equal(t, "", NormalizeIdentity(" n/a "))
	assert.Equal(t, "", NormalizeIdentity("-"))
	assert.Equal(t, "KPH12E-001", NormalizeIdentity(" kph12e-001 "))
}
