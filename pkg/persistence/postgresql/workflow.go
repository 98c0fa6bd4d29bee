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

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , name
  , description
  , trigger
  , active
  , eval_order
  , stop_on_match
  , template_id
  , custom_subject
  , cc_jefe_proyecto_1
  , cc_jefe_proyecto_2
  , delay_minutes
  , conditions
  , recipients
  , actions
  , created_at
  , updated_at
  , deleted_at
`

// Workflows returns all non-deleted workflows.
func (r *WorkflowRepository) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY eval_order ASC, created_at ASC`

	return r.queryWorkflows(ctx, query)
}

// ActiveByTrigger returns the active workflows for the trigger kind in
// dispatch order.
func (r *WorkflowRepository) ActiveByTrigger(ctx context.Context, kind models.TriggerKind) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE trigger = $1 AND active AND deleted_at IS NULL
		ORDER BY eval_order ASC, created_at ASC`

	return r.queryWorkflows(ctx, query, string(kind))
}

// WorkflowByID returns a workflow by its ID.
func (r *WorkflowRepository) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// SaveWorkflow inserts or updates a workflow aggregate.
func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	conditionsJSON, err := json.Marshal(workflow.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	recipientsJSON, err := json.Marshal(workflow.Recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}

	actionsJSON, err := json.Marshal(workflow.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO workflows (
			id, name, description, trigger, active, eval_order, stop_on_match,
			template_id, custom_subject, cc_jefe_proyecto_1, cc_jefe_proyecto_2,
			delay_minutes, conditions, recipients, actions, created_at, updated_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			trigger = EXCLUDED.trigger,
			active = EXCLUDED.active,
			eval_order = EXCLUDED.eval_order,
			stop_on_match = EXCLUDED.stop_on_match,
			template_id = EXCLUDED.template_id,
			custom_subject = EXCLUDED.custom_subject,
			cc_jefe_proyecto_1 = EXCLUDED.cc_jefe_proyecto_1,
			cc_jefe_proyecto_2 = EXCLUDED.cc_jefe_proyecto_2,
			delay_minutes = EXCLUDED.delay_minutes,
			conditions = EXCLUDED.conditions,
			recipients = EXCLUDED.recipients,
			actions = EXCLUDED.actions,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID, workflow.Name, workflow.Description, string(workflow.Trigger),
		workflow.Active, workflow.Order, workflow.StopOnMatch,
		workflow.TemplateID, workflow.CustomSubject,
		workflow.CcJefeProyecto1, workflow.CcJefeProyecto2, workflow.DelayMinutes,
		conditionsJSON, recipientsJSON, actionsJSON,
		workflow.CreatedAt, workflow.UpdatedAt, workflow.DeletedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// DeleteWorkflow soft deletes a workflow by setting deleted_at.
func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow       models.Workflow
		trigger        string
		conditionsJSON []byte
		recipientsJSON []byte
		actionsJSON    []byte
	)

	err := row.Scan(
		&workflow.ID, &workflow.Name, &workflow.Description, &trigger,
		&workflow.Active, &workflow.Order, &workflow.StopOnMatch,
		&workflow.TemplateID, &workflow.CustomSubject,
		&workflow.CcJefeProyecto1, &workflow.CcJefeProyecto2, &workflow.DelayMinutes,
		&conditionsJSON, &recipientsJSON, &actionsJSON,
		&workflow.CreatedAt, &workflow.UpdatedAt, &workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.Trigger = models.TriggerKind(trigger)

	err = json.Unmarshal(conditionsJSON, &workflow.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}

	err = json.Unmarshal(recipientsJSON, &workflow.Recipients)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
	}

	err = json.Unmarshal(actionsJSON, &workflow.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	return &workflow, nil
}
