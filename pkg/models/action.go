package models

// ActionType is the closed set of automated field mutations. Each type
// maps to exactly one entity field; the configured value is applied
// verbatim.
type ActionType string

const (
	ActionChangeState    ActionType = "CAMBIAR_ESTADO"
	ActionChangePriority ActionType = "CAMBIAR_PRIORIDAD"
	ActionChangeType     ActionType = "CAMBIAR_TIPO"
	ActionChangeModule   ActionType = "CAMBIAR_MODULO"
	ActionChangeRelease  ActionType = "CAMBIAR_RELEASE"
	ActionChangeAgent    ActionType = "CAMBIAR_AGENTE"
)

// ActionFields maps each action type to the entity field it mutates.
var ActionFields = map[ActionType]EntityField{
	ActionChangeState:    FieldEstado,
	ActionChangePriority: FieldPrioridad,
	ActionChangeType:     FieldTipo,
	ActionChangeModule:   FieldModulo,
	ActionChangeRelease:  FieldRelease,
	ActionChangeAgent:    FieldAgente,
}

func (t ActionType) Valid() bool {
	_, ok := ActionFields[t]

	return ok
}

// Action is one automated mutation of a workflow, executed in list order.
type Action struct {
	ID    string     `json:"id"`
	Type  ActionType `json:"type"  validate:"required"`
	Value string     `json:"value" validate:"required"`
}

// Mutation is one resolved field change produced by an action.
type Mutation struct {
	Field EntityField `json:"field"`
	Value string      `json:"value"`
}

// MutationSet is the ordered, atomic outcome of one workflow's action
// list. Provenance is always automation: the tag travels with the
// persisted update so the entity store can mark any re-emitted event.
type MutationSet struct {
	TaskID     string     `json:"task_id"`
	WorkflowID string     `json:"workflow_id"`
	Mutations  []Mutation `json:"mutations"`
	Provenance Provenance `json:"provenance"`
}

// Empty reports whether the set carries no mutations.
func (s MutationSet) Empty() bool {
	return len(s.Mutations) == 0
}

// ApplyTo applies the mutations to a task snapshot in order. Used by the
// dispatcher to make one workflow's mutations visible to workflows
// evaluated later in the same cycle.
func (s MutationSet) ApplyTo(task *Task) {
	for _, m := range s.Mutations {
		switch m.Field {
		case FieldEstado:
			task.StateID = m.Value
		case FieldPrioridad:
			task.PriorityID = m.Value
		case FieldTipo:
			task.TypeID = m.Value
		case FieldModulo:
			task.ModuleID = m.Value
		case FieldRelease:
			task.ReleaseID = m.Value
		case FieldAgente:
			task.AssignedAgentID = m.Value
		}
	}
}
