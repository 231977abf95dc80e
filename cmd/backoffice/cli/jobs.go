package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/motodesk/backoffice/jobs"
)

// Job names accepted by Trigger.
const (
	JobReconcile          = "reconcile"
	JobIdempotencyCleanup = "idempotency-cleanup"
)

// TriggerOptions carries optional payload fields for Trigger.
type TriggerOptions struct {
	BranchIDs     []int64
	RepairTotals  bool
	RetentionDays int
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TaskFor builds the task Trigger would enqueue for a job name.
func TaskFor(name string, opts TriggerOptions) (*asynq.Task, error) {
	switch name {
	case JobReconcile, jobs.TaskReconcileRun:
		return jobs.NewReconcileTask(jobs.ReconcilePayload{BranchIDs: opts.BranchIDs, RepairTotals: opts.RepairTotals})
	case JobIdempotencyCleanup, jobs.TaskIdempotencyCleanup:
		return jobs.NewIdempotencyCleanupTask(opts.RetentionDays)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case JobReconcile, jobs.TaskReconcileRun:
		return c.client.EnqueueReconcile(ctx, jobs.ReconcilePayload{BranchIDs: opts.BranchIDs, RepairTotals: opts.RepairTotals})
	case JobIdempotencyCleanup, jobs.TaskIdempotencyCleanup:
		return c.client.EnqueueIdempotencyCleanup(ctx, opts.RetentionDays)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// InspectQueue reports the default queue's counters.
func (c *JobsCLI) InspectQueue(ctx context.Context) (jobs.QueueStatus, error) {
	if c == nil || c.inspector == nil {
		return jobs.QueueStatus{}, errors.New("jobs cli: inspector not configured")
	}
	return jobs.Status(c.inspector)
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
