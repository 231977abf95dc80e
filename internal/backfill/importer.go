// Package backfill imports historical branch sale ledgers through the sales service.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/motodesk/backoffice/internal/allocation"
	"github.com/motodesk/backoffice/internal/catalog"
	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/sales"
	"github.com/motodesk/backoffice/internal/shared"
	"github.com/motodesk/backoffice/internal/store"
)

// Status is the per-row result of an import.
type Status string

const (
	StatusCreated     Status = "created"
	StatusWouldCreate Status = "would_create"
	StatusSkipped     Status = "skipped"
	StatusFailed      Status = "failed"
)

// Outcome reports what happened to one row.
type Outcome struct {
	Line   int    `json:"line"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	SaleID int64  `json:"sale_id,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Summary aggregates a run.
type Summary struct {
	BatchID    string        `json:"batch_id"`
	DryRun     bool          `json:"dry_run"`
	Total      int           `json:"total"`
	Created    int           `json:"created"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Outcomes   []Outcome     `json:"outcomes"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"-"`
}

// Options tunes one run.
type Options struct {
	DryRun      bool
	TotalPolicy sales.TotalPolicy
}

// SaleRecorder records one sale; *sales.Service satisfies it.
type SaleRecorder interface {
	RecordSale(ctx context.Context, req sales.RecordSaleRequest, opts sales.Options) (domain.Sale, error)
}

// AllocationLookup answers whether an identity was already sold; *allocation.Service satisfies it.
type AllocationLookup interface {
	IsAlreadyAllocated(ctx context.Context, engineNo, chassisNo string) (bool, error)
}

// KeyStore claims import keys; shared.IdempotencyStore and memory.Store satisfy it.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Importer replays historical rows as backfill sales.
type Importer struct {
	sales   SaleRecorder
	reader  store.Reader
	catalog *catalog.Service
	units   AllocationLookup
	keys    KeyStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewImporter wires the importer. keys may be nil, in which case only the
// already-allocated check guards against re-imports.
func NewImporter(recorder SaleRecorder, reader store.Reader, cat *catalog.Service, units AllocationLookup, keys KeyStore, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		sales:   recorder,
		reader:  reader,
		catalog: cat,
		units:   units,
		keys:    keys,
		logger:  logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Run processes rows in order. A failing row never stops the batch.
func (im *Importer) Run(ctx context.Context, rows []Row, opts Options) (Summary, error) {
	summary := Summary{
		BatchID:   uuid.NewString(),
		DryRun:    opts.DryRun,
		Total:     len(rows),
		Outcomes:  make([]Outcome, 0, len(rows)),
		StartedAt: im.now(),
	}
	logger := im.logger.With(slog.String("batch_id", summary.BatchID), slog.Bool("dry_run", opts.DryRun))
	seen := make(map[string]int)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outcome := im.process(ctx, row, opts, seen)
		switch outcome.Status {
		case StatusCreated, StatusWouldCreate:
			summary.Created++
		case StatusSkipped:
			summary.Skipped++
		case StatusFailed:
			summary.Failed++
		}
		if outcome.Status == StatusFailed {
			logger.WarnContext(ctx, "backfill row failed", slog.Int("line", row.Line), slog.String("reason", outcome.Reason))
		} else {
			logger.DebugContext(ctx, "backfill row processed", slog.Int("line", row.Line), slog.String("status", string(outcome.Status)))
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	summary.FinishedAt = im.now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	logger.InfoContext(ctx, "backfill finished",
		slog.Int("total", summary.Total),
		slog.Int("created", summary.Created),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

func (im *Importer) process(ctx context.Context, row Row, opts Options, seen map[string]int) Outcome {
	outcome := Outcome{Line: row.Line, Model: row.ModelText}
	if row.Err != nil {
		return outcome.fail(row.Err.Error())
	}

	key := importKey(row)
	if key != "" {
		if first, dup := seen[key]; dup {
			return outcome.skip(fmt.Sprintf("duplicate of line %d", first))
		}
		seen[key] = row.Line
	}

	engineNo := catalog.NormalizeIdentity(row.EngineNo)
	chassisNo := catalog.NormalizeIdentity(row.ChassisNo)
	if engineNo != "" || chassisNo != "" {
		allocated, err := im.units.IsAlreadyAllocated(ctx, engineNo, chassisNo)
		if err != nil {
			return outcome.fail(err.Error())
		}
		if allocated {
			return outcome.skip("unit already allocated")
		}
	}

	if opts.DryRun {
		match, err := im.catalog.ResolveItem(ctx, im.reader, row.Brand, row.ModelText)
		if errors.Is(err, catalog.ErrItemNotFound) {
			return outcome.skip("item not found")
		}
		if err != nil {
			return outcome.fail(err.Error())
		}
		outcome.Model = match.Item.Model
		outcome.Status = StatusWouldCreate
		return outcome
	}

	if key != "" && im.keys != nil {
		err := im.keys.CheckAndInsert(ctx, key, shared.ModuleBackfill)
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return outcome.skip("already imported")
		}
		if err != nil {
			return outcome.fail(err.Error())
		}
	}

	sale, err := im.sales.RecordSale(ctx, toRequest(row), sales.Options{
		Mode:        allocation.ModeHistoricalBackfill,
		TotalPolicy: opts.TotalPolicy,
	})
	if err != nil {
		if key != "" && im.keys != nil {
			if delErr := im.keys.Delete(ctx, key); delErr != nil {
				im.logger.WarnContext(ctx, "release import key failed", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		if errors.Is(err, allocation.ErrItemNotFound) {
			return outcome.skip("item not found")
		}
		return outcome.fail(err.Error())
	}
	outcome.Status = StatusCreated
	outcome.SaleID = sale.ID
	return outcome
}

func (o Outcome) skip(reason string) Outcome {
	o.Status = StatusSkipped
	o.Reason = reason
	return o
}

func (o Outcome) fail(reason string) Outcome {
	o.Status = StatusFailed
	o.Reason = reason
	return o
}

// importKey is blank for rows carrying neither document numbers nor unit identity.
func importKey(row Row) string {
	parts := []string{row.DRNo, row.SINo, row.EngineNo, row.ChassisNo}
	if strings.TrimSpace(strings.Join(parts, "")) == "" {
		return ""
	}
	return shared.ImportKey(append([]string{strconv.FormatInt(row.BranchID, 10)}, parts...)...)
}

func toRequest(row Row) sales.RecordSaleRequest {
	return sales.RecordSaleRequest{
		BranchID:      row.BranchID,
		DateSold:      row.DateSold,
		Buyer:         domain.Buyer{Name: row.BuyerName, Address: row.BuyerAddress},
		DRNo:          row.DRNo,
		SINo:          row.SINo,
		PaymentMethod: row.PaymentMethod,
		Category:      row.Category,
		Total:         row.Total,
		Lines: []sales.LineRequest{{
			Brand:     row.Brand,
			ModelText: row.ModelText,
			EngineNo:  row.EngineNo,
			ChassisNo: row.ChassisNo,
			Color:     row.Color,
			UnitPrice: row.UnitPrice,
		}},
	}
}
