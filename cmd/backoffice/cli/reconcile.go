package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/motodesk/backoffice/internal/reconcile"
)

// ReconcileRunner runs one audit; *reconcile.Auditor satisfies it.
type ReconcileRunner interface {
	Run(ctx context.Context, opts reconcile.Options) (reconcile.Report, error)
}

// ReconcileOptions configures an in-process audit.
type ReconcileOptions struct {
	BranchIDs    []int64
	RepairTotals bool
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// ReconcileCommand runs the auditor in process and exits ExitFindings when anything was found.
func ReconcileCommand(ctx context.Context, auditor ReconcileRunner, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if auditor == nil {
		fmt.Fprintln(opts.Stderr, "reconcile: auditor not configured")
		return ExitError
	}
	report, err := auditor.Run(ctx, reconcile.Options{BranchIDs: opts.BranchIDs, RepairTotals: opts.RepairTotals})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(report); err != nil {
			fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
			return ExitError
		}
	} else {
		renderReconcileHuman(opts.Stdout, report)
	}
	if report.Clean() {
		return ExitOK
	}
	return ExitFindings
}

func renderReconcileHuman(out io.Writer, report reconcile.Report) {
	fmt.Fprintf(out, "Reconcile: %d branch(es), %d lot(s), %d sale(s)\n", report.Branches, report.LotsRead, report.SalesRead)
	if report.Clean() {
		fmt.Fprintln(out, "No findings.")
		return
	}
	for _, f := range report.Lots {
		fmt.Fprintf(out, " - lot %d (branch %d) %s: beginning %d purchased %d transferred %d sold %d ending %d, expected %d, sold units %d\n",
			f.LotID, f.BranchID, f.Kind, f.Beginning, f.Purchased, f.Transferred, f.Sold, f.Ending, f.Expected, f.SoldUnits)
	}
	for _, f := range report.Sales {
		status := "open"
		if f.Repaired {
			status = "repaired"
		}
		fmt.Fprintf(out, " - sale %d %s (branch %d) total mismatch: supplied %s derived %s [%s]\n",
			f.SaleID, f.Reference, f.BranchID, f.Supplied.StringFixed(2), f.Derived.StringFixed(2), status)
	}
}
