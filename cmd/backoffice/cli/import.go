// Package cli holds the operational subcommands of the backoffice binary.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/motodesk/backoffice/internal/backfill"
	"github.com/motodesk/backoffice/internal/sales"
)

// ImportMode enumerates supported execution strategies.
type ImportMode string

const (
	// ImportModeDry resolves and de-duplicates rows without writing.
	ImportModeDry ImportMode = "dry"
	// ImportModeApply records every importable row as a backfill sale.
	ImportModeApply ImportMode = "apply"
)

// Exit codes shared by the subcommands.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitPartial  = 2
	ExitFindings = 10
)

// ImportRunner runs a batch; *backfill.Importer satisfies it.
type ImportRunner interface {
	Run(ctx context.Context, rows []backfill.Row, opts backfill.Options) (backfill.Summary, error)
}

// ImportOptions configures the import command execution.
type ImportOptions struct {
	File         string
	Sheet        string
	Format       string
	Mode         ImportMode
	TotalPolicy  string
	Yes          bool
	JSONOutput   bool
	SourceReader io.Reader
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// ImportCLI replays branch ledgers through the importer.
type ImportCLI struct {
	importer ImportRunner
}

// NewImportCLI constructs the command.
func NewImportCLI(importer ImportRunner) *ImportCLI {
	return &ImportCLI{importer: importer}
}

// ImportCommand executes the import workflow and returns a process exit code.
// Dry runs exit ExitFindings when any row would fail; applied runs exit ExitPartial.
func (c *ImportCLI) ImportCommand(ctx context.Context, opts ImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = ImportModeDry
	}
	mode := ImportMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case ImportModeDry, ImportModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return ExitError
	}
	var policy sales.TotalPolicy
	if strings.TrimSpace(opts.TotalPolicy) != "" {
		p, err := sales.ParseTotalPolicy(opts.TotalPolicy)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "import: %v\n", err)
			return ExitError
		}
		policy = p
	}
	if c == nil || c.importer == nil {
		fmt.Fprintln(opts.Stderr, "import: importer not configured")
		return ExitError
	}

	if mode == ImportModeApply && !opts.Yes && opts.SourceReader == nil && opts.File == "-" {
		fmt.Fprintln(opts.Stderr, "import: --yes is required when rows are read from stdin")
		return ExitError
	}

	rows, err := loadRows(opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "import: %v\n", err)
		return ExitError
	}
	if len(rows) == 0 {
		fmt.Fprintln(opts.Stderr, "import: no rows found")
		return ExitError
	}

	if mode == ImportModeApply && !opts.Yes {
		confirm := opts.Confirm
		if confirm == nil {
			confirm = defaultImportConfirm(len(rows))
		}
		ok, err := confirm(opts.Stdin, opts.Stderr)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "import: confirmation failed: %v\n", err)
			return ExitError
		}
		if !ok {
			fmt.Fprintln(opts.Stderr, "import: cancelled by user")
			return ExitError
		}
	}

	summary, err := c.importer.Run(ctx, rows, backfill.Options{DryRun: mode == ImportModeDry, TotalPolicy: policy})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "import: %v\n", err)
		return ExitError
	}
	if err := writeImportOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "import: %v\n", err)
		return ExitError
	}
	if summary.Failed > 0 {
		if mode == ImportModeDry {
			return ExitFindings
		}
		return ExitPartial
	}
	return ExitOK
}

func loadRows(opts ImportOptions) ([]backfill.Row, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		switch strings.ToLower(filepath.Ext(opts.File)) {
		case ".xlsx", ".xlsm":
			format = "xlsx"
		default:
			format = "csv"
		}
	}

	var source io.Reader
	switch {
	case opts.SourceReader != nil:
		source = opts.SourceReader
	case opts.File == "-":
		source = opts.Stdin
	case strings.TrimSpace(opts.File) == "":
		return nil, errors.New("--file is required")
	default:
		f, err := os.Open(opts.File)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		source = f
	}

	switch format {
	case "csv":
		return backfill.ReadCSV(source)
	case "xlsx":
		return backfill.ReadXLSX(source, opts.Sheet)
	default:
		return nil, fmt.Errorf("unsupported format %q (expected csv or xlsx)", format)
	}
}

func writeImportOutput(opts ImportOptions, summary backfill.Summary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	renderImportHuman(opts.Stdout, summary)
	return nil
}

func renderImportHuman(out io.Writer, summary backfill.Summary) {
	mode := ImportModeApply
	if summary.DryRun {
		mode = ImportModeDry
	}
	fmt.Fprintf(out, "Backfill import (%s) batch %s\n", mode, summary.BatchID)
	created := "created"
	if summary.DryRun {
		created = "importable"
	}
	fmt.Fprintf(out, "%d row(s): %d %s, %d skipped, %d failed\n", summary.Total, summary.Created, created, summary.Skipped, summary.Failed)
	for _, o := range summary.Outcomes {
		switch o.Status {
		case backfill.StatusSkipped, backfill.StatusFailed:
			fmt.Fprintf(out, " - line %d %s: %s\n", o.Line, o.Status, o.Reason)
		}
	}
}

func defaultImportConfirm(rows int) func(io.Reader, io.Writer) (bool, error) {
	return func(r io.Reader, w io.Writer) (bool, error) {
		fmt.Fprintf(w, "Import %d row(s) as backfill sales? Type YES to confirm: ", rows)
		reader := bufio.NewReader(r)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
	}
}
