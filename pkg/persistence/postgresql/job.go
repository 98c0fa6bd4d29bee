package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gestium/flowmail/pkg/models"
	"github.com/gestium/flowmail/pkg/persistence"
)

// JobRepository handles notification job database operations.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sql.DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

const jobColumns = `
	id
  , workflow_id
  , event_id
  , to_addresses
  , cc_addresses
  , subject
  , body
  , attachments
  , state
  , scheduled_at
  , sent_at
  , success_count
  , error_count
  , last_error
  , log
  , claimed_by
  , claimed_at
  , created_at
  , updated_at
`

// CreateJob inserts a new notification job.
func (r *JobRepository) CreateJob(ctx context.Context, job *models.NotificationJob) error {
	now := time.Now().UTC()

	if job.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate job ID: %w", err)
		}

		job.ID = id.String()
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}

	job.UpdatedAt = now

	toJSON, ccJSON, attachmentsJSON, err := marshalJobLists(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_jobs (
			id, workflow_id, event_id, to_addresses, cc_addresses, subject, body,
			attachments, state, scheduled_at, sent_at, success_count, error_count,
			last_error, log, claimed_by, claimed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.WorkflowID, job.EventID, toJSON, ccJSON, job.Subject, job.Body,
		attachmentsJSON, string(job.State), job.ScheduledAt, job.SentAt,
		job.SuccessCount, job.ErrorCount, job.LastError, job.Log,
		job.ClaimedBy, job.ClaimedAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return persistence.NewJobError("Create", job.ID, err)
	}

	return nil
}

// JobByID returns a job by its ID.
func (r *JobRepository) JobByID(ctx context.Context, id string) (*models.NotificationJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM notification_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJobError("GetByID", id, persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	return job, nil
}

// Jobs lists jobs, newest first, honoring the filter.
func (r *JobRepository) Jobs(ctx context.Context, filter persistence.JobFilter) ([]*models.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs WHERE 1=1`

	args := make([]any, 0, 3)

	if filter.State != "" {
		args = append(args, string(filter.State))
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	jobs := make([]*models.NotificationJob, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// ClaimDueJob atomically claims at most one due job for the worker.
// SKIP LOCKED keeps concurrent workers from ever claiming the same row.
func (r *JobRepository) ClaimDueJob(ctx context.Context, workerID string, now time.Time) (*models.NotificationJob, error) {
	query := `
		UPDATE notification_jobs
		SET state = $1, claimed_by = $2, claimed_at = $3, updated_at = $3
		WHERE id = (
			SELECT id FROM notification_jobs
			WHERE state = $4 OR (state = $5 AND scheduled_at <= $3)
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	row := r.db.QueryRowContext(ctx, query,
		string(models.JobStateSending), workerID, now.UTC(),
		string(models.JobStatePending), string(models.JobStateScheduled),
	)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

// UpdateJob persists a claimed job's outcome. The state guard keeps a
// reclaimed job from being finalized twice.
func (r *JobRepository) UpdateJob(ctx context.Context, job *models.NotificationJob) error {
	job.UpdatedAt = time.Now().UTC()

	toJSON, ccJSON, attachmentsJSON, err := marshalJobLists(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE notification_jobs SET
			to_addresses = $2, cc_addresses = $3, subject = $4, body = $5,
			attachments = $6, state = $7, scheduled_at = $8, sent_at = $9,
			success_count = $10, error_count = $11, last_error = $12, log = $13,
			claimed_by = $14, claimed_at = $15, updated_at = $16
		WHERE id = $1 AND state NOT IN ($17, $18)
	`

	result, err := r.db.ExecContext(ctx, query,
		job.ID, toJSON, ccJSON, job.Subject, job.Body,
		attachmentsJSON, string(job.State), job.ScheduledAt, job.SentAt,
		job.SuccessCount, job.ErrorCount, job.LastError, job.Log,
		job.ClaimedBy, job.ClaimedAt, job.UpdatedAt,
		string(models.JobStateSent), string(models.JobStateError),
	)
	if err != nil {
		return persistence.NewJobError("Update", job.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError("Update", job.ID, err)
	}

	if affected == 0 {
		return persistence.NewJobError("Update", job.ID, persistence.ErrJobNotFound)
	}

	return nil
}

// RescheduleJob moves a not-yet-sending job to SCHEDULED at the given
// time. CAS on state: fails once the job entered SENDING or a terminal
// state.
func (r *JobRepository) RescheduleJob(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE notification_jobs
		SET state = $2, scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND state IN ($4, $5)
	`

	result, err := r.db.ExecContext(ctx, query, id,
		string(models.JobStateScheduled), at.UTC(),
		string(models.JobStatePending), string(models.JobStateScheduled),
	)
	if err != nil {
		return persistence.NewJobError("Reschedule", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError("Reschedule", id, err)
	}

	if affected == 0 {
		return persistence.NewJobError("Reschedule", id, persistence.ErrJobNotReschedulable)
	}

	return nil
}

// DeleteJob removes an unclaimed job.
func (r *JobRepository) DeleteJob(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notification_jobs WHERE id = $1 AND state IN ($2, $3)`,
		id, string(models.JobStatePending), string(models.JobStateScheduled),
	)
	if err != nil {
		return persistence.NewJobError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewJobError("Delete", id, persistence.ErrJobNotDeletable)
	}

	return nil
}

// ReclaimStuck returns jobs stuck in SENDING since before the cutoff to
// a retryable state, counting the lost attempt. Jobs out of attempts go
// terminally to ERROR.
func (r *JobRepository) ReclaimStuck(ctx context.Context, cutoff time.Time, maxAttempts int) (int, error) {
	query := `
		UPDATE notification_jobs
		SET state = CASE WHEN error_count + 1 >= $1 THEN $2 ELSE $3 END,
			error_count = error_count + 1,
			last_error = 'delivery attempt timed out',
			claimed_by = '',
			claimed_at = NULL,
			updated_at = NOW()
		WHERE state = $4 AND claimed_at < $5
	`

	result, err := r.db.ExecContext(ctx, query,
		maxAttempts, string(models.JobStateError), string(models.JobStatePending),
		string(models.JobStateSending), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stuck jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reclaimed jobs: %w", err)
	}

	return int(affected), nil
}

func marshalJobLists(job *models.NotificationJob) (to, cc, attachments []byte, err error) {
	to, err = json.Marshal(emptyIfNil(job.To))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal to addresses: %w", err)
	}

	cc, err = json.Marshal(emptyIfNil(job.Cc))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal cc addresses: %w", err)
	}

	if job.Attachments == nil {
		job.Attachments = []models.Attachment{}
	}

	attachments, err = json.Marshal(job.Attachments)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal attachments: %w", err)
	}

	return to, cc, attachments, nil
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}

	return list
}

func scanJob(row rowScanner) (*models.NotificationJob, error) {
	var (
		job             models.NotificationJob
		state           string
		toJSON          []byte
		ccJSON          []byte
		attachmentsJSON []byte
	)

	err := row.Scan(
		&job.ID, &job.WorkflowID, &job.EventID, &toJSON, &ccJSON, &job.Subject, &job.Body,
		&attachmentsJSON, &state, &job.ScheduledAt, &job.SentAt,
		&job.SuccessCount, &job.ErrorCount, &job.LastError, &job.Log,
		&job.ClaimedBy, &job.ClaimedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.State = models.JobState(state)

	err = json.Unmarshal(toJSON, &job.To)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal to addresses: %w", err)
	}

	err = json.Unmarshal(ccJSON, &job.Cc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal cc addresses: %w", err)
	}

	err = json.Unmarshal(attachmentsJSON, &job.Attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
	}

	return &job, nil
}
