package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/motodesk/backoffice/internal/app"
	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/inventory"
	"github.com/motodesk/backoffice/internal/platform/db"
	"github.com/motodesk/backoffice/internal/resolver"
	"github.com/motodesk/backoffice/internal/store"
	pgstore "github.com/motodesk/backoffice/internal/store/postgres"
)

const (
	seedBrand    = "MOTORSTAR"
	unitsPerLot  = 3
	seedSupplier = "SEED"
)

var seedBranches = []int64{1, 2, 3}

// srp per canonical model; anything missing falls back to defaultSRP.
var srp = map[string]int64{
	"MONARCH 175":   68000,
	"OMNI 125":      52000,
	"SKYHAWK 150":   61500,
	"XPLORER 150":   64900,
	"CAFE 400":      179000,
	"MSX 125":       57900,
	"STAR X 155":    79900,
	"ADVENTURE 250": 145000,
	"EASY RIDE 150": 62500,
	"NITRO 110":     46900,
}

const defaultSRP = 60000

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	st := pgstore.New(pool, db.TxOptions{MaxRetries: cfg.TxMaxRetries})
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	fmt.Println("→ Seeding catalog items...")
	if err := seedItems(ctx, pool); err != nil {
		log.Fatalf("seed items: %v", err)
	}

	fmt.Println("→ Seeding branch stock...")
	ledger := inventory.NewLedger(app.NewLogger(cfg).With(slog.String("component", "seed")))
	if err := seedStock(ctx, st, ledger); err != nil {
		log.Fatalf("seed stock: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedItems(ctx context.Context, pool *pgxpool.Pool) error {
	for _, model := range resolver.DefaultCatalog().Models {
		price := decimal.NewFromInt(defaultSRP)
		if v, ok := srp[model]; ok {
			price = decimal.NewFromInt(v)
		}
		cost := price.Mul(decimal.NewFromFloat(0.82)).Round(2)
		_, err := pool.Exec(ctx, `
			INSERT INTO items (brand, model, srp, cost)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (brand, model) DO NOTHING`, seedBrand, model, price, cost)
		if err != nil {
			return fmt.Errorf("item %s: %w", model, err)
		}
	}
	return nil
}

// seedStock opens one lot per item at each branch that has no stock yet.
func seedStock(ctx context.Context, st *pgstore.Store, ledger *inventory.Ledger) error {
	items, err := st.ListItems(ctx)
	if err != nil {
		return err
	}
	received := time.Now().UTC().AddDate(0, -1, 0).Truncate(24 * time.Hour)
	for _, branchID := range seedBranches {
		lots, err := st.ListLotsByBranch(ctx, branchID)
		if err != nil {
			return err
		}
		if len(lots) > 0 {
			fmt.Printf("  branch %d already stocked, skipping\n", branchID)
			continue
		}
		err = st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			for _, item := range items {
				lot, err := ledger.CreateLot(ctx, tx, inventory.NewLot{
					BranchID:   branchID,
					ItemID:     item.ID,
					ReceivedAt: received,
					Qty:        unitsPerLot,
					Supplier:   seedSupplier,
					DRNo:       fmt.Sprintf("SEED-DR-%d-%d", branchID, item.ID),
					UnitCost:   item.Cost,
					SRP:        item.SRP,
				})
				if err != nil {
					return err
				}
				for n := 1; n <= unitsPerLot; n++ {
					_, err := tx.InsertUnit(ctx, domain.VehicleUnit{
						LotID:     lot.ID,
						EngineNo:  fmt.Sprintf("SEED-E%d-%d-%d", branchID, item.ID, n),
						ChassisNo: fmt.Sprintf("SEED-C%d-%d-%d", branchID, item.ID, n),
						Status:    domain.UnitAvailable,
					})
					if err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("branch %d: %w", branchID, err)
		}
		fmt.Printf("  branch %d: %d lot(s)\n", branchID, len(items))
	}
	return nil
}
