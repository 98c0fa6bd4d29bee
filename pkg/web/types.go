// Package web provides the HTTP surface for workflow configuration and
// queue inspection.
package web

import (
	"time"

	"github.com/gestium/flowmail/pkg/models"
)

// SaveWorkflowRequest is the request body for creating or replacing a
// workflow. Enum and value invariants are enforced by the model's own
// validation, so bad configurations are rejected at save time.
type SaveWorkflowRequest struct {
	Name        string             `json:"name"        validate:"required,min=3"`
	Description string             `json:"description"`
	Trigger     models.TriggerKind `json:"trigger"     validate:"required"`
	Active      bool               `json:"active"`

	Order       int  `json:"order"`
	StopOnMatch bool `json:"stop_on_match"`

	TemplateID    string `json:"template_id,omitempty"`
	CustomSubject string `json:"custom_subject,omitempty"`

	CcJefeProyecto1 bool `json:"cc_jefe_proyecto_1"`
	CcJefeProyecto2 bool `json:"cc_jefe_proyecto_2"`

	DelayMinutes int `json:"delay_minutes" validate:"gte=0"`

	Conditions []models.Condition `json:"conditions"`
	Recipients []models.Recipient `json:"recipients"`
	Actions    []models.Action    `json:"actions"`
}

// ToWorkflow builds the model carrying the request's configuration.
func (r *SaveWorkflowRequest) ToWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:            r.Name,
		Description:     r.Description,
		Trigger:         r.Trigger,
		Active:          r.Active,
		Order:           r.Order,
		StopOnMatch:     r.StopOnMatch,
		TemplateID:      r.TemplateID,
		CustomSubject:   r.CustomSubject,
		CcJefeProyecto1: r.CcJefeProyecto1,
		CcJefeProyecto2: r.CcJefeProyecto2,
		DelayMinutes:    r.DelayMinutes,
		Conditions:      r.Conditions,
		Recipients:      r.Recipients,
		Actions:         r.Actions,
	}
}

// ToggleWorkflowRequest is the request body for activating or
// deactivating a workflow without touching the rest of its
// configuration.
type ToggleWorkflowRequest struct {
	Active bool `json:"active"`
}

// RescheduleJobRequest is the request body for moving a queued job's
// delivery time.
type RescheduleJobRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// JobResponse is the queue inspection view of a notification job. The
// rendered body is included; attachment contents are not.
type JobResponse struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	EventID    string `json:"event_id"`

	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`

	State       models.JobState `json:"state"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	SentAt      *time.Time      `json:"sent_at,omitempty"`

	SuccessCount int    `json:"success_count"`
	ErrorCount   int    `json:"error_count"`
	LastError    string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func TransformJobResponse(job *models.NotificationJob) JobResponse {
	return JobResponse{
		ID:           job.ID,
		WorkflowID:   job.WorkflowID,
		EventID:      job.EventID,
		To:           job.To,
		Cc:           job.Cc,
		Subject:      job.Subject,
		Body:         job.Body,
		State:        job.State,
		ScheduledAt:  job.ScheduledAt,
		SentAt:       job.SentAt,
		SuccessCount: job.SuccessCount,
		ErrorCount:   job.ErrorCount,
		LastError:    job.LastError,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}
