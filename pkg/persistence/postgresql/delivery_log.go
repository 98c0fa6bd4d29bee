package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gestium/flowmail/pkg/models"
)

// DeliveryLogRepository appends and reads delivery attempt records. The
// log is append-only: entries are never updated, and the retention
// sweep is the only removal path.
type DeliveryLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDeliveryLogRepository creates a new delivery log repository.
func NewDeliveryLogRepository(db *sql.DB, logger *slog.Logger) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db, logger: logger}
}

// Append records one delivery attempt.
func (r *DeliveryLogRepository) Append(ctx context.Context, entry *models.DeliveryLogEntry) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate log entry ID: %w", err)
		}

		entry.ID = id.String()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO delivery_log (id, job_id, attempt, outcome, detail, worker_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.JobID, entry.Attempt, string(entry.Outcome),
		entry.Detail, entry.WorkerID, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append delivery log entry: %w", err)
	}

	return nil
}

// ByJob returns a job's delivery attempts in chronological order.
func (r *DeliveryLogRepository) ByJob(ctx context.Context, jobID string) ([]*models.DeliveryLogEntry, error) {
	query := `
		SELECT id, job_id, attempt, outcome, detail, worker_id, created_at
		FROM delivery_log
		WHERE job_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery log: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.DeliveryLogEntry, 0)

	for rows.Next() {
		var (
			entry   models.DeliveryLogEntry
			outcome string
		)

		err := rows.Scan(&entry.ID, &entry.JobID, &entry.Attempt, &outcome,
			&entry.Detail, &entry.WorkerID, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery log entry: %w", err)
		}

		entry.Outcome = models.DeliveryOutcome(outcome)
		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating delivery log: %w", err)
	}

	return entries, nil
}

// PurgeOlderThan removes entries older than the cutoff.
func (r *DeliveryLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM delivery_log WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge delivery log: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged entries: %w", err)
	}

	return int(affected), nil
}
