// Package persistence provides the storage abstraction for workflows,
// notification jobs and the delivery log.
package persistence

import (
	"context"
	"time"

	"github.com/gestium/flowmail/pkg/models"
)

// Persistence bundles the repositories one storage backend provides.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	JobRepository() JobRepository
	DeliveryLogRepository() DeliveryLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow configuration. The engine only uses
// the read path; writes come from the configuration API.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	// ActiveByTrigger returns the active workflows for the trigger kind
	// ordered by Order ascending, ties broken by creation time.
	ActiveByTrigger(ctx context.Context, kind models.TriggerKind) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// JobFilter narrows job listings.
type JobFilter struct {
	State      models.JobState
	WorkflowID string
	Limit      int
}

// JobRepository owns notification job records. Claiming and rescheduling
// are compare-and-swap operations: they only succeed from the states the
// job model permits, so concurrent workers never double-send.
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.NotificationJob) error
	JobByID(ctx context.Context, id string) (*models.NotificationJob, error)
	Jobs(ctx context.Context, filter JobFilter) ([]*models.NotificationJob, error)

	// ClaimDueJob atomically moves at most one due job (PENDING, or
	// SCHEDULED with an elapsed timestamp) to SENDING on behalf of the
	// worker. Returns nil when no job is due.
	ClaimDueJob(ctx context.Context, workerID string, now time.Time) (*models.NotificationJob, error)

	// UpdateJob persists the outcome of a claimed job (SENT, ERROR, or a
	// retry re-entry).
	UpdateJob(ctx context.Context, job *models.NotificationJob) error

	// RescheduleJob moves a not-yet-sending job to SCHEDULED at the given
	// time. Fails with ErrJobNotReschedulable once the job entered
	// SENDING.
	RescheduleJob(ctx context.Context, id string, at time.Time) error

	// DeleteJob removes a job prior to claim (the only cancellation
	// path besides rescheduling).
	DeleteJob(ctx context.Context, id string) error

	// ReclaimStuck returns jobs stuck in SENDING since before the cutoff
	// to a retryable state, counting each as a failed attempt. Returns
	// the number of reclaimed jobs.
	ReclaimStuck(ctx context.Context, cutoff time.Time, maxAttempts int) (int, error)
}

// DeliveryLogRepository records delivery attempts. Append-only and safe
// for concurrent writers.
type DeliveryLogRepository interface {
	Append(ctx context.Context, entry *models.DeliveryLogEntry) error
	ByJob(ctx context.Context, jobID string) ([]*models.DeliveryLogEntry, error)
	// PurgeOlderThan removes entries older than the cutoff (retention
	// sweep). Returns the number of removed entries.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
