package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gestium/flowmail/pkg/models"
)

func updateEventContext() *models.EventContext {
	return models.NewEventContext(&models.DomainEvent{
		ID:      "evt-1",
		Trigger: models.TriggerTaskUpdated,
		Task: models.Task{
			ID:              "task-1",
			Title:           "Cannot export report",
			Description:     "Export button does nothing",
			StateID:         "state-accepted",
			PriorityID:      "prio-high",
			TypeID:          "type-bug",
			AssignedAgentID: "agent-7",
			ClientID:        "client-3",
			CreatorID:       "agent-1",
		},
		Changes: []models.FieldChange{
			{Field: models.FieldEstado, Before: "state-pending", After: "state-accepted"},
		},
		Provenance: models.ProvenanceUser,
	})
}

func TestEvaluateConditions(t *testing.T) {
	t.Parallel()

	ec := updateEventContext()

	tests := []struct {
		name       string
		conditions []models.Condition
		want       bool
	}{
		{
			name:       "empty set matches",
			conditions: nil,
			want:       true,
		},
		{
			name: "equals on current value",
			conditions: []models.Condition{
				{Field: models.CondEstadoID, Operator: models.OperatorEquals, Value: "state-accepted", OrGroup: 1},
			},
			want: true,
		},
		{
			name: "equals on diff after value",
			conditions: []models.Condition{
				{Field: models.CondEstadoNuevoID, Operator: models.OperatorEquals, Value: "state-accepted", OrGroup: 1},
			},
			want: true,
		},
		{
			name: "not equals on diff before value",
			conditions: []models.Condition{
				{Field: models.CondEstadoAnteriorID, Operator: models.OperatorNotEquals, Value: "state-accepted", OrGroup: 1},
			},
			want: true,
		},
		{
			name: "same group combines with OR",
			conditions: []models.Condition{
				{Field: models.CondPrioridadID, Operator: models.OperatorEquals, Value: "prio-low", OrGroup: 1},
				{Field: models.CondPrioridadID, Operator: models.OperatorEquals, Value: "prio-high", OrGroup: 1},
			},
			want: true,
		},
		{
			name: "distinct groups combine with AND",
			conditions: []models.Condition{
				{Field: models.CondPrioridadID, Operator: models.OperatorEquals, Value: "prio-high", OrGroup: 1},
				{Field: models.CondTipoID, Operator: models.OperatorEquals, Value: "type-feature", OrGroup: 2},
			},
			want: false,
		},
		{
			name: "all groups satisfied",
			conditions: []models.Condition{
				{Field: models.CondPrioridadID, Operator: models.OperatorEquals, Value: "prio-high", OrGroup: 1},
				{Field: models.CondTipoID, Operator: models.OperatorEquals, Value: "type-bug", OrGroup: 2},
			},
			want: true,
		},
		{
			name: "contains on text field is case insensitive",
			conditions: []models.Condition{
				{Field: models.CondTitulo, Operator: models.OperatorContains, Value: "EXPORT", OrGroup: 1},
			},
			want: true,
		},
		{
			name: "contains on identifier field never matches",
			conditions: []models.Condition{
				{Field: models.CondEstadoID, Operator: models.OperatorContains, Value: "state", OrGroup: 1},
			},
			want: false,
		},
		{
			name: "not contains on text field",
			conditions: []models.Condition{
				{Field: models.CondDescripcion, Operator: models.OperatorNotContains, Value: "crash", OrGroup: 1},
			},
			want: true,
		},
		{
			name: "is null on unset field",
			conditions: []models.Condition{
				{Field: models.CondModuloID, Operator: models.OperatorIsNull, OrGroup: 1},
			},
			want: true,
		},
		{
			name: "is not null on set field",
			conditions: []models.Condition{
				{Field: models.CondAgenteAsignadoID, Operator: models.OperatorIsNotNull, OrGroup: 1},
			},
			want: true,
		},
		{
			name: "comment text inapplicable outside comment events",
			conditions: []models.Condition{
				{Field: models.CondComentarioTexto, Operator: models.OperatorIsNotNull, OrGroup: 1},
			},
			want: false,
		},
		{
			name: "diff field without matching change is inapplicable even for is null",
			conditions: []models.Condition{
				{Field: models.CondPrioridadNuevoID, Operator: models.OperatorIsNull, OrGroup: 1},
			},
			want: false,
		},
		{
			name: "unknown field is false",
			conditions: []models.Condition{
				{Field: models.ConditionField("INVENTED"), Operator: models.OperatorEquals, Value: "x", OrGroup: 1},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, EvaluateConditions(tt.conditions, ec))
		})
	}
}

func TestEvaluateConditionsCommentEvent(t *testing.T) {
	t.Parallel()

	ec := models.NewEventContext(&models.DomainEvent{
		ID:          "evt-2",
		Trigger:     models.TriggerCommentCreated,
		Task:        models.Task{ID: "task-1", StateID: "state-pending"},
		CommentText: "Please prioritize this one",
		Provenance:  models.ProvenanceUser,
	})

	matched := EvaluateConditions([]models.Condition{
		{Field: models.CondComentarioTexto, Operator: models.OperatorContains, Value: "prioritize", OrGroup: 1},
	}, ec)
	assert.True(t, matched)

	matched = EvaluateConditions([]models.Condition{
		{Field: models.CondEstadoNuevoID, Operator: models.OperatorEquals, Value: "state-pending", OrGroup: 1},
	}, ec)
	assert.False(t, matched, "diff fields do not apply to comment events")
}
