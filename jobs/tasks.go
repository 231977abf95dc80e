package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileRun audits lot counters and sale totals.
	TaskReconcileRun = "reconcile:run"
	// TaskIdempotencyCleanup prunes old backfill import keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReconcilePayload scopes a reconcile run. Empty BranchIDs means every branch.
type ReconcilePayload struct {
	BranchIDs    []int64 `json:"branch_ids,omitempty"`
	RepairTotals bool    `json:"repair_totals"`
}

// IdempotencyCleanupPayload sets how long import keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// DefaultRetentionDays keeps import keys for a year so re-imports of old ledgers stay idempotent.
const DefaultRetentionDays = 365

// NewReconcileTask builds a reconcile task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode reconcile payload: %w", err)
	}
	return asynq.NewTask(TaskReconcileRun, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask builds a cleanup task. Non-positive retention uses DefaultRetentionDays.
func NewIdempotencyCleanupTask(retentionDays int) (*asynq.Task, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, fmt.Errorf("encode cleanup payload: %w", err)
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
