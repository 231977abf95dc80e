package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/motodesk/backoffice/internal/jobs"
	"github.com/motodesk/backoffice/internal/reconcile"
)

// Auditor runs one reconciliation pass; *reconcile.Auditor satisfies it.
type Auditor interface {
	Run(ctx context.Context, opts reconcile.Options) (reconcile.Report, error)
}

// ReconcileJob handles TaskReconcileRun.
type ReconcileJob struct {
	Auditor Auditor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(auditor Auditor, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Auditor: auditor,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one reconcile run and exports its findings as metrics.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Auditor == nil {
		return errors.New("reconcile: auditor not configured")
	}
	var payload ReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskReconcileRun)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.log().With(slog.Int("branches_requested", len(payload.BranchIDs)), slog.Bool("repair_totals", payload.RepairTotals))
	logger.Info("starting reconcile")

	report, err := j.Auditor.Run(ctx, reconcile.Options{BranchIDs: payload.BranchIDs, RepairTotals: payload.RepairTotals})
	if err != nil {
		resultErr = err
		logger.Error("reconcile failed", slog.Any("error", err))
		return resultErr
	}

	for key, count := range countFindings(report) {
		j.Metrics.AddFindings(string(key.kind), key.branchID, count)
	}
	logger.Info("completed reconcile",
		slog.Int("branches", report.Branches),
		slog.Int("lot_findings", len(report.Lots)),
		slog.Int("total_findings", len(report.Sales)),
		slog.Int("repaired", report.Repaired),
		slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

type findingKey struct {
	kind     reconcile.FindingKind
	branchID int64
}

func countFindings(report reconcile.Report) map[findingKey]int {
	counts := make(map[findingKey]int)
	for _, f := range report.Lots {
		counts[findingKey{kind: f.Kind, branchID: f.BranchID}]++
	}
	for _, f := range report.Sales {
		counts[findingKey{kind: reconcile.KindTotalMismatch, branchID: f.BranchID}]++
	}
	return counts
}

func (j *ReconcileJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileRun))
	}
	return slog.Default().With(slog.String("job", TaskReconcileRun))
}

func (j *ReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
