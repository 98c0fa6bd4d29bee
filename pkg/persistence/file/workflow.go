package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gestium/flowmail/pkg/models"
	"github.com/gestium/flowmail/pkg/persistence"
)

// WorkflowRepository stores one JSON document per workflow under
// <root>/workflows.
type WorkflowRepository struct {
	persistence *Persistence
}

func (r *WorkflowRepository) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.loadAll()
}

func (r *WorkflowRepository) ActiveByTrigger(_ context.Context, kind models.TriggerKind) ([]*models.Workflow, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	matching := make([]*models.Workflow, 0)

	for _, w := range all {
		if w.Trigger == kind && w.Active && w.DeletedAt == nil {
			matching = append(matching, w)
		}
	}

	return matching, nil
}

func (r *WorkflowRepository) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.load(id)
}

func (r *WorkflowRepository) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	dir, err := r.persistence.dir("workflows")
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	err = os.WriteFile(filepath.Join(dir, workflow.ID+".json"), data, 0o644)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	workflow, err := r.load(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now
	workflow.UpdatedAt = now
	workflow.Active = false

	dir, err := r.persistence.dir("workflows")
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	err = os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

func (r *WorkflowRepository) load(id string) (*models.Workflow, error) {
	dir, err := r.persistence.dir("workflows")
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return unmarshalWorkflow(data)
}

// loadAll reads every workflow document, sorted for dispatch: order
// ascending, creation time breaking ties.
func (r *WorkflowRepository) loadAll() ([]*models.Workflow, error) {
	dir, err := r.persistence.dir("workflows")
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow file %s: %w", entry.Name(), err)
		}

		workflow, err := unmarshalWorkflow(data)
		if err != nil {
			return nil, fmt.Errorf("workflow file %s: %w", entry.Name(), err)
		}

		workflows = append(workflows, workflow)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		if workflows[i].Order != workflows[j].Order {
			return workflows[i].Order < workflows[j].Order
		}

		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func unmarshalWorkflow(data []byte) (*models.Workflow, error) {
	err := validateWorkflowDocument(data)
	if err != nil {
		return nil, err
	}

	var workflow models.Workflow

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	return &workflow, nil
}
