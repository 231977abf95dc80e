package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/motodesk/backoffice/cmd/backoffice/cli"
	"github.com/motodesk/backoffice/internal/app"
	"github.com/motodesk/backoffice/internal/platform/db"
	pgstore "github.com/motodesk/backoffice/internal/store/postgres"
)

// branchList accepts --branch repeatedly or as a comma separated list.
type branchList []int64

func (b *branchList) String() string {
	parts := make([]string, len(*b))
	for i, id := range *b {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func (b *branchList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid branch id %q", part)
		}
		*b = append(*b, id)
	}
	return nil
}

func runImport(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file := fs.String("file", "", "ledger file to import (csv or xlsx, - for stdin)")
	sheet := fs.String("sheet", "", "worksheet name for xlsx input (default first sheet)")
	format := fs.String("format", "", "input format: csv or xlsx (default from extension)")
	mode := fs.String("mode", string(cli.ImportModeDry), "dry or apply")
	policy := fs.String("total-policy", "", "override SALE_TOTAL_POLICY: supplied or derived")
	yes := fs.Bool("yes", false, "skip the confirmation prompt in apply mode (required with --file -)")
	asJSON := fs.Bool("json", false, "print the summary as JSON")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}

	logger := app.NewLoggerTo(cfg, os.Stderr)
	svc, err := app.BuildServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		return cli.ExitError
	}
	defer svc.Close()

	return cli.NewImportCLI(svc.Importer).ImportCommand(ctx, cli.ImportOptions{
		File:        *file,
		Sheet:       *sheet,
		Format:      *format,
		Mode:        cli.ImportMode(*mode),
		TotalPolicy: *policy,
		Yes:         *yes,
		JSONOutput:  *asJSON,
	})
}

func runReconcile(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	var branches branchList
	fs.Var(&branches, "branch", "branch id to audit (repeatable, default all)")
	repair := fs.Bool("repair-totals", cfg.ReconcileRepairTotals, "rewrite sale totals to the derived line sum")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}

	logger := app.NewLoggerTo(cfg, os.Stderr)
	svc, err := app.BuildServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		return cli.ExitError
	}
	defer svc.Close()

	return cli.ReconcileCommand(ctx, svc.Auditor, cli.ReconcileOptions{
		BranchIDs:    branches,
		RepairTotals: *repair,
		JSONOutput:   *asJSON,
	})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: backoffice jobs trigger|inspect [flags]")
		return cli.ExitError
	}
	action, args := args[0], args[1:]

	fs := flag.NewFlagSet("jobs "+action, flag.ContinueOnError)
	name := fs.String("job", cli.JobReconcile, "job to trigger: reconcile or idempotency-cleanup")
	var branches branchList
	fs.Var(&branches, "branch", "branch id for reconcile (repeatable, default all)")
	repair := fs.Bool("repair-totals", cfg.ReconcileRepairTotals, "reconcile: rewrite sale totals")
	retention := fs.Int("retention-days", cfg.IdempotencyRetentionDays, "idempotency-cleanup: keep keys newer than this")
	dry := fs.Bool("dry", false, "print the task instead of enqueueing it")
	scheduled := fs.Int("scheduled", 0, "inspect: also list this many scheduled tasks")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}
	opts := cli.TriggerOptions{BranchIDs: branches, RepairTotals: *repair, RetentionDays: *retention}

	if action == "trigger" && *dry {
		task, err := cli.TaskFor(*name, opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return cli.ExitError
		}
		fmt.Fprintf(os.Stdout, "%s %s\n", task.Type(), task.Payload())
		return cli.ExitOK
	}

	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "jobs: close: %v\n", err)
		}
	}()

	switch action {
	case "trigger":
		info, err := jobsCLI.Trigger(ctx, *name, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
			return cli.ExitError
		}
		fmt.Fprintf(os.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "inspect":
		status, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
			return cli.ExitError
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			return cli.ExitError
		}
		if *scheduled > 0 {
			tasks, err := jobsCLI.ListScheduled(ctx, *scheduled)
			if err != nil {
				fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
				return cli.ExitError
			}
			for _, t := range tasks {
				fmt.Fprintf(os.Stdout, "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00"))
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "jobs: unknown action %q\n", action)
		return cli.ExitError
	}
	return cli.ExitOK
}

func runMigrate(ctx context.Context, cfg *app.Config) int {
	logger := app.NewLoggerTo(cfg, os.Stderr)
	if cfg.StoreDriver == app.StoreDriverMemory {
		logger.Info("memory store has no schema to migrate")
		return cli.ExitOK
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return cli.ExitError
	}
	defer pool.Close()
	if err := pgstore.New(pool, db.TxOptions{MaxRetries: cfg.TxMaxRetries}).Migrate(ctx); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return cli.ExitError
	}
	logger.Info("schema applied")
	return cli.ExitOK
}
