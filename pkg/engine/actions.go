package engine

import (
	"context"
	"fmt"

	"github.com/gestium/flowmail/pkg/models"
)

// EntityStore is the narrow mutation surface the engine needs from the
// external entity store. ApplyMutations must persist the whole set and
// its provenance tag atomically, or nothing.
type EntityStore interface {
	ApplyMutations(ctx context.Context, set models.MutationSet) error
}

// ApplyActions maps a workflow's action list to a mutation set, strictly
// in list order, values taken verbatim. An unknown action type aborts
// the whole set (execution errors are per-workflow, per the error
// taxonomy).
func ApplyActions(workflowID string, actions []models.Action, task *models.Task) (models.MutationSet, error) {
	set := models.MutationSet{
		TaskID:     task.ID,
		WorkflowID: workflowID,
		Provenance: models.ProvenanceAutomation,
	}

	for _, action := range actions {
		field, ok := models.ActionFields[action.Type]
		if !ok {
			return models.MutationSet{}, fmt.Errorf("unknown action type %q", action.Type)
		}

		set.Mutations = append(set.Mutations, models.Mutation{Field: field, Value: action.Value})
	}

	return set, nil
}
