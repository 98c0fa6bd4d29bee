// Package models defines the core domain model for the workflow
// notification engine: workflows with their condition, recipient and
// action lists, the domain events they react to, and the notification
// jobs they produce.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Save-time validation errors (configuration errors per the error
// taxonomy: rejected when a workflow is saved, never at dispatch time).
var (
	ErrWorkflowDoesNothing    = errors.New("workflow must define at least one recipient or one action")
	ErrUnknownTrigger         = errors.New("unknown trigger kind")
	ErrUnknownConditionField  = errors.New("unknown condition field")
	ErrUnknownOperator        = errors.New("unknown condition operator")
	ErrConditionValueRequired = errors.New("condition operator requires a value")
	ErrUnknownRecipientType   = errors.New("unknown recipient type")
	ErrRecipientValueRequired = errors.New("recipient type requires a value")
	ErrUnknownActionType      = errors.New("unknown action type")
	ErrActionValueRequired    = errors.New("action requires a target value")
)

// Workflow is a named automation rule: when a domain event of the
// configured trigger kind arrives and the condition set matches, the
// engine applies the actions to the task and notifies the resolved
// recipients.
type Workflow struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"        validate:"required,min=3"`
	Description string      `json:"description"`
	Trigger     TriggerKind `json:"trigger"     validate:"required"`
	Active      bool        `json:"active"`

	// Order drives dispatch ordering, lower first; ties break by
	// creation time (stable).
	Order       int  `json:"order"`
	StopOnMatch bool `json:"stop_on_match"`

	TemplateID    string `json:"template_id,omitempty"`
	CustomSubject string `json:"custom_subject,omitempty"`

	// Cc flags for the two fixed client stakeholder roles.
	CcJefeProyecto1 bool `json:"cc_jefe_proyecto_1"`
	CcJefeProyecto2 bool `json:"cc_jefe_proyecto_2"`

	// DelayMinutes defers delivery: 0 enqueues PENDING, >0 enqueues
	// SCHEDULED at event time plus the delay.
	DelayMinutes int `json:"delay_minutes"`

	Conditions []Condition `json:"conditions"`
	Recipients []Recipient `json:"recipients"`
	Actions    []Action    `json:"actions"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Validate enforces the save-time invariants: a rule that does nothing
// is invalid, enum values must belong to their closed sets, and
// value-carrying operators and types must have a value.
func (w *Workflow) Validate() error {
	if !w.Trigger.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, w.Trigger)
	}

	if len(w.Recipients) == 0 && len(w.Actions) == 0 {
		return ErrWorkflowDoesNothing
	}

	for _, c := range w.Conditions {
		if _, ok := ConditionFieldCategories[c.Field]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownConditionField, c.Field)
		}

		if !c.Operator.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
		}

		if c.Operator.TakesValue() && c.Value == "" {
			return fmt.Errorf("%w: field %s operator %s", ErrConditionValueRequired, c.Field, c.Operator)
		}
	}

	for _, r := range w.Recipients {
		if !r.Type.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownRecipientType, r.Type)
		}

		if r.Type.RequiresValue() && r.Value == "" {
			return fmt.Errorf("%w: %s", ErrRecipientValueRequired, r.Type)
		}
	}

	for _, a := range w.Actions {
		if !a.Type.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownActionType, a.Type)
		}

		if a.Value == "" {
			return fmt.Errorf("%w: %s", ErrActionValueRequired, a.Type)
		}
	}

	return nil
}

// Duplicate returns a deep copy with fresh identifiers and the copy
// suffix on the name. The copy starts inactive so it cannot fire until
// reviewed.
func (w *Workflow) Duplicate() *Workflow {
	now := time.Now().UTC()

	dup := *w
	dup.ID = uuid.NewString()
	dup.Name = w.Name + " (copia)"
	dup.Active = false
	dup.CreatedAt = now
	dup.UpdatedAt = now
	dup.DeletedAt = nil

	dup.Conditions = make([]Condition, len(w.Conditions))
	for i, c := range w.Conditions {
		c.ID = uuid.NewString()
		dup.Conditions[i] = c
	}

	dup.Recipients = make([]Recipient, len(w.Recipients))
	for i, r := range w.Recipients {
		r.ID = uuid.NewString()
		dup.Recipients[i] = r
	}

	dup.Actions = make([]Action, len(w.Actions))
	for i, a := range w.Actions {
		a.ID = uuid.NewString()
		dup.Actions[i] = a
	}

	return &dup
}
