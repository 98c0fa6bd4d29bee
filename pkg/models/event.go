package models

import "time"

// TriggerKind is the closed set of event kinds a workflow can react to.
// Values are the wire names used by the ticket system.
type TriggerKind string

const (
	TriggerTaskCreated    TriggerKind = "TAREA_CREADA"
	TriggerTaskUpdated    TriggerKind = "TAREA_MODIFICADA"
	TriggerCommentCreated TriggerKind = "COMENTARIO_CREADO"
	TriggerTaskAssigned   TriggerKind = "TAREA_ASIGNADA"
)

var triggerKinds = []TriggerKind{
	TriggerTaskCreated,
	TriggerTaskUpdated,
	TriggerCommentCreated,
	TriggerTaskAssigned,
}

func (k TriggerKind) Valid() bool {
	for _, kind := range triggerKinds {
		if kind == k {
			return true
		}
	}

	return false
}

// TriggerKinds returns every trigger kind, in declaration order.
func TriggerKinds() []TriggerKind {
	out := make([]TriggerKind, len(triggerKinds))
	copy(out, triggerKinds)

	return out
}

// Provenance marks who caused a domain event. Automation-originated
// events never re-enter the dispatcher.
type Provenance string

const (
	ProvenanceUser       Provenance = "user"
	ProvenanceAutomation Provenance = "automation"
)

// EntityField names a mutable field of a task. Used by field changes,
// diff conditions and action targets.
type EntityField string

const (
	FieldEstado    EntityField = "estado"
	FieldPrioridad EntityField = "prioridad"
	FieldTipo      EntityField = "tipo"
	FieldModulo    EntityField = "modulo"
	FieldRelease   EntityField = "release"
	FieldAgente    EntityField = "agente"
)

// Task is the snapshot of a ticket as carried by a domain event.
// Relation fields hold identifiers; "" means unset.
type Task struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	StateID         string `json:"state_id"`
	PriorityID      string `json:"priority_id"`
	TypeID          string `json:"type_id"`
	ModuleID        string `json:"module_id"`
	ReleaseID       string `json:"release_id"`
	AssignedAgentID string `json:"assigned_agent_id"`
	ClientID        string `json:"client_id"`
	CreatorID       string `json:"creator_id"`
}

// FieldChange records one field transition carried by a modification
// event. Before or After may be "" when the field was unset on that
// side.
type FieldChange struct {
	Field  EntityField `json:"field"`
	Before string      `json:"before"`
	After  string      `json:"after"`
}

// DomainEvent is one occurrence the dispatcher reacts to: a task
// snapshot plus what happened to it.
type DomainEvent struct {
	ID          string        `json:"id"`
	Trigger     TriggerKind   `json:"trigger"`
	Task        Task          `json:"task"`
	Changes     []FieldChange `json:"changes,omitempty"`
	CommentText string        `json:"comment_text,omitempty"`
	Provenance  Provenance    `json:"provenance"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// EventContext carries one event through a dispatch cycle. Task is a
// mutable working copy: action mutations applied mid-cycle land here so
// later workflows see them, while the event's own snapshot stays intact.
type EventContext struct {
	Event *DomainEvent
	Task  *Task
}

func NewEventContext(event *DomainEvent) *EventContext {
	task := event.Task

	return &EventContext{Event: event, Task: &task}
}

// Change returns the event's field change for the given field, if any.
func (ec *EventContext) Change(field EntityField) (FieldChange, bool) {
	for _, change := range ec.Event.Changes {
		if change.Field == field {
			return change, true
		}
	}

	return FieldChange{}, false
}
