// Package reconcile audits lot counters and sale totals after the fact.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/sales"
	"github.com/motodesk/backoffice/internal/store"
)

// FindingKind classifies a reconciliation finding.
type FindingKind string

const (
	KindUnbalanced      FindingKind = "unbalanced"
	KindSoldUnitsExceed FindingKind = "sold_units_exceed"
	KindTotalMismatch   FindingKind = "total_mismatch"
)

// LotFinding is reported for a lot whose counters disagree. Lots are never corrected automatically.
type LotFinding struct {
	Kind        FindingKind `json:"kind"`
	BranchID    int64       `json:"branch_id"`
	LotID       int64       `json:"lot_id"`
	ItemID      int64       `json:"item_id"`
	Beginning   int         `json:"beginning_qty"`
	Purchased   int         `json:"purchased_qty"`
	Transferred int         `json:"transferred_qty"`
	Sold        int         `json:"sold_qty"`
	Ending      int         `json:"ending_qty"`
	Expected    int         `json:"expected_ending"`
	SoldUnits   int         `json:"sold_units"`
}

// TotalFinding is reported for a sale whose supplied total differs from its lines.
type TotalFinding struct {
	BranchID  int64           `json:"branch_id"`
	SaleID    int64           `json:"sale_id"`
	Reference string          `json:"reference"`
	Supplied  decimal.Decimal `json:"supplied_total"`
	Derived   decimal.Decimal `json:"derived_total"`
	Repaired  bool            `json:"repaired"`
}

// Report is the outcome of one audit run.
type Report struct {
	Branches   int            `json:"branches"`
	LotsRead   int            `json:"lots_read"`
	SalesRead  int            `json:"sales_read"`
	Lots       []LotFinding   `json:"lots"`
	Sales      []TotalFinding `json:"sales"`
	Repaired   int            `json:"repaired"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Clean reports whether nothing was found.
func (r Report) Clean() bool {
	return len(r.Lots) == 0 && len(r.Sales) == 0
}

// Options scopes an audit run. Empty BranchIDs means every branch.
type Options struct {
	BranchIDs    []int64 `json:"branch_ids,omitempty"`
	RepairTotals bool    `json:"repair_totals"`
}

// DefaultConcurrency bounds the number of branches audited at once.
const DefaultConcurrency = 4

// Auditor walks branches and reports counter and total drift.
type Auditor struct {
	store       store.Store
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewAuditor constructs an auditor over st.
func NewAuditor(st store.Store, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		store:       st,
		logger:      logger,
		concurrency: DefaultConcurrency,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type branchResult struct {
	lots      []LotFinding
	sales     []TotalFinding
	lotsRead  int
	salesRead int
}

// Run audits every requested branch. Findings are ordered by branch, then lot or sale ID.
func (a *Auditor) Run(ctx context.Context, opts Options) (Report, error) {
	report := Report{StartedAt: a.now(), Lots: []LotFinding{}, Sales: []TotalFinding{}}
	branches := opts.BranchIDs
	if len(branches) == 0 {
		ids, err := a.store.ListBranchIDs(ctx)
		if err != nil {
			return report, fmt.Errorf("list branches: %w", err)
		}
		branches = ids
	}

	results := make([]branchResult, len(branches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, branchID := range branches {
		g.Go(func() error {
			res, err := a.auditBranch(gctx, branchID, opts.RepairTotals)
			if err != nil {
				return fmt.Errorf("branch %d: %w", branchID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Branches = len(branches)
	for _, res := range results {
		report.Lots = append(report.Lots, res.lots...)
		report.Sales = append(report.Sales, res.sales...)
		report.LotsRead += res.lotsRead
		report.SalesRead += res.salesRead
	}
	for _, f := range report.Sales {
		if f.Repaired {
			report.Repaired++
		}
	}
	report.FinishedAt = a.now()

	a.logger.InfoContext(ctx, "reconcile finished",
		slog.Int("branches", report.Branches),
		slog.Int("lots_read", report.LotsRead),
		slog.Int("sales_read", report.SalesRead),
		slog.Int("lot_findings", len(report.Lots)),
		slog.Int("total_findings", len(report.Sales)),
		slog.Int("repaired", report.Repaired))
	return report, nil
}

func (a *Auditor) auditBranch(ctx context.Context, branchID int64, repair bool) (branchResult, error) {
	var res branchResult
	lots, err := a.store.ListLotsByBranch(ctx, branchID)
	if err != nil {
		return res, fmt.Errorf("list lots: %w", err)
	}
	res.lotsRead = len(lots)
	for _, lot := range lots {
		soldUnits, err := a.store.CountUnitsByStatus(ctx, lot.ID, domain.UnitSold)
		if err != nil {
			return res, fmt.Errorf("count sold units for lot %d: %w", lot.ID, err)
		}
		if !lot.Balanced() {
			res.lots = append(res.lots, lotFinding(KindUnbalanced, lot, soldUnits))
		}
		if soldUnits > lot.SoldQty {
			res.lots = append(res.lots, lotFinding(KindSoldUnitsExceed, lot, soldUnits))
		}
	}
	for _, f := range res.lots {
		a.logger.WarnContext(ctx, "lot counters out of balance",
			slog.String("kind", string(f.Kind)),
			slog.Int64("branch_id", f.BranchID),
			slog.Int64("lot_id", f.LotID),
			slog.Int("ending_qty", f.Ending),
			slog.Int("expected_ending", f.Expected),
			slog.Int("sold_qty", f.Sold),
			slog.Int("sold_units", f.SoldUnits))
	}

	saleList, err := a.store.ListSalesByBranch(ctx, branchID)
	if err != nil {
		return res, fmt.Errorf("list sales: %w", err)
	}
	res.salesRead = len(saleList)
	for _, sale := range saleList {
		derived := sales.DeriveTotal(sale.Lines)
		if sale.SuppliedTotal.Equal(derived) {
			continue
		}
		finding := TotalFinding{
			BranchID:  branchID,
			SaleID:    sale.ID,
			Reference: sale.Reference,
			Supplied:  sale.SuppliedTotal,
			Derived:   derived,
		}
		if repair {
			repaired, found, err := a.repairTotals(ctx, sale.ID)
			if err != nil {
				return res, err
			}
			if !found {
				a.logger.InfoContext(ctx, "sale removed before repair",
					slog.Int64("branch_id", branchID),
					slog.Int64("sale_id", sale.ID))
				continue
			}
			finding.Derived = repaired
			finding.Repaired = true
		}
		a.logger.WarnContext(ctx, "sale total mismatch",
			slog.Int64("branch_id", branchID),
			slog.Int64("sale_id", sale.ID),
			slog.String("supplied_total", finding.Supplied.StringFixed(2)),
			slog.String("derived_total", finding.Derived.StringFixed(2)),
			slog.Bool("repaired", finding.Repaired))
		res.sales = append(res.sales, finding)
	}
	return res, nil
}

// repairTotals makes the line-derived total authoritative for every total column.
// The total is derived from the lines read under the sale lock. found is false
// when the sale no longer exists.
func (a *Auditor) repairTotals(ctx context.Context, saleID int64) (derived decimal.Decimal, found bool, err error) {
	err = a.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if errors.Is(err, store.ErrNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock sale %d: %w", saleID, err)
		}
		found = true
		derived = sales.DeriveTotal(sale.Lines)
		if err := tx.UpdateSaleTotals(ctx, saleID, derived, derived, derived); err != nil {
			return fmt.Errorf("repair sale %d: %w", saleID, err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	return derived, found, nil
}

func lotFinding(kind FindingKind, lot domain.InventoryLot, soldUnits int) LotFinding {
	return LotFinding{
		Kind:        kind,
		BranchID:    lot.BranchID,
		LotID:       lot.ID,
		ItemID:      lot.ItemID,
		Beginning:   lot.BeginningQty,
		Purchased:   lot.PurchasedQty,
		Transferred: lot.TransferredQty,
		Sold:        lot.SoldQty,
		Ending:      lot.EndingQty,
		Expected:    lot.ExpectedEnding(),
		SoldUnits:   soldUnits,
	}
}
