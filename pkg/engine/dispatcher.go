// Package engine implements the workflow automation engine: the trigger
// dispatcher and its condition evaluation, recipient resolution and
// action execution stages.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gestium/flowmail/pkg/models"
	"github.com/gestium/flowmail/pkg/otelhelper"
	"github.com/gestium/flowmail/pkg/template"
)

// WorkflowSource yields the active workflow set for a trigger kind,
// ordered by Order ascending with ties broken by creation time. The
// persistence repository satisfies it directly; the redis cache wraps
// it.
type WorkflowSource interface {
	ActiveByTrigger(ctx context.Context, kind models.TriggerKind) ([]*models.Workflow, error)
}

// JobStore is the enqueue surface of the notification job store.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.NotificationJob) error
}

// TemplateSource resolves message templates owned by the external
// template editor. TemplateBody returns "" for an unknown identifier.
type TemplateSource interface {
	TemplateBody(ctx context.Context, templateID string) (string, error)
}

// JobHandle identifies one notification job produced by a dispatch
// cycle.
type JobHandle struct {
	JobID      string
	WorkflowID string
}

// Dispatcher runs one dispatch cycle per domain event: it loads the
// active workflows for the event's trigger, evaluates each in order,
// applies matched workflows' actions, and enqueues one notification job
// per matched workflow with resolved recipients. Execution is
// synchronous; the dispatch queue is the only asynchronous boundary.
type Dispatcher struct {
	workflows WorkflowSource
	jobs      JobStore
	entities  EntityStore
	templates TemplateSource
	directory Directory
	resolver  *Resolver
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewDispatcher(
	workflows WorkflowSource,
	jobs JobStore,
	entities EntityStore,
	templates TemplateSource,
	directory Directory,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		workflows: workflows,
		jobs:      jobs,
		entities:  entities,
		templates: templates,
		directory: directory,
		resolver:  NewResolver(directory),
		logger:    logger.With("module", "dispatcher"),
		tracer:    noop.NewTracerProvider().Tracer("flowmail"),
		now:       time.Now,
	}
}

// WithTracer enables span emission for dispatch cycles.
func (d *Dispatcher) WithTracer(tracer trace.Tracer) *Dispatcher {
	d.tracer = tracer

	return d
}

// Dispatch processes one domain event against all active workflows for
// its trigger kind. Per-workflow failures are isolated and logged; only
// workflow-set or job-store unavailability aborts the cycle.
//
// Automation-originated events are refused here: this is the loop guard
// that keeps a workflow's own mutations from re-firing the engine.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.DomainEvent) ([]JobHandle, error) {
	logger := d.logger.With("event_id", event.ID, "trigger", string(event.Trigger), "task_id", event.Task.ID)

	if event.Provenance == models.ProvenanceAutomation {
		logger.InfoContext(ctx, "Suppressed automation-originated event (cycle guard)")

		return nil, nil
	}

	if !event.Trigger.Valid() {
		logger.WarnContext(ctx, "Dropping event with unknown trigger kind")

		return nil, nil
	}

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "engine.dispatch",
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.TriggerKindKey, string(event.Trigger)),
	)
	defer span.End()

	workflows, err := d.workflows.ActiveByTrigger(ctx, event.Trigger)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load workflows for trigger %s: %w", event.Trigger, err)
	}

	ec := models.NewEventContext(event)

	var handles []JobHandle

	for _, w := range workflows {
		wfLogger := logger.With("workflow_id", w.ID, "workflow", w.Name)

		if !EvaluateConditions(w.Conditions, ec) {
			continue
		}

		wfLogger.InfoContext(ctx, "Workflow matched event")

		if len(w.Actions) > 0 {
			d.runActions(ctx, w, ec, wfLogger)
		}

		handle, err := d.enqueueNotification(ctx, w, ec, wfLogger)
		if err != nil {
			otelhelper.SetError(span, err)

			return handles, err
		}

		if handle != nil {
			handles = append(handles, *handle)
		}

		if w.StopOnMatch {
			wfLogger.InfoContext(ctx, "Workflow stops evaluation of further workflows")

			break
		}
	}

	span.SetAttributes(attribute.Int("flowmail.jobs.enqueued", len(handles)))

	return handles, nil
}

// runActions applies one workflow's action set. Execution errors abort
// only this workflow's mutations and never the cycle.
func (d *Dispatcher) runActions(ctx context.Context, w *models.Workflow, ec *models.EventContext, logger *slog.Logger) {
	set, err := ApplyActions(w.ID, w.Actions, ec.Task)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to build mutation set, skipping workflow actions", "error", err)

		return
	}

	if set.Empty() {
		return
	}

	err = d.entities.ApplyMutations(ctx, set)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to apply mutations, skipping workflow actions", "error", err)

		return
	}

	// Visible to workflows evaluated later in this cycle.
	set.ApplyTo(ec.Task)

	logger.InfoContext(ctx, "Applied automation mutations", "mutations", len(set.Mutations))
}

// enqueueNotification resolves recipients and, when any resolve, renders
// the message and persists a notification job. Job-store failures are
// fatal for the cycle; resolution failures are isolated.
func (d *Dispatcher) enqueueNotification(ctx context.Context, w *models.Workflow, ec *models.EventContext, logger *slog.Logger) (*JobHandle, error) {
	addresses, diag, err := d.resolver.Resolve(ctx, w, ec)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to resolve recipients, skipping notification", "error", err)

		return nil, nil
	}

	if diag.DroppedEmails > 0 {
		logger.WarnContext(ctx, "Dropped malformed manual addresses", "dropped", diag.DroppedEmails)
	}

	if len(addresses) == 0 {
		return nil, nil
	}

	tmplCtx := d.templateContext(ctx, ec)

	body, err := d.renderBody(ctx, w, tmplCtx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load template, skipping notification", "error", err)

		return nil, nil
	}

	job := d.newJob(w, ec, addresses, template.SubjectOrDefault(w.CustomSubject, tmplCtx), body)

	err = d.jobs.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue notification job: %w", err)
	}

	logger.InfoContext(ctx, "Enqueued notification job", "job_id", job.ID, "state", string(job.State),
		"to", len(job.To), "cc", len(job.Cc))

	return &JobHandle{JobID: job.ID, WorkflowID: w.ID}, nil
}

// templateContext assembles the token context, including the directory
// lookups only the dispatcher can resolve. The assignee token is always
// defined so its documented fallback applies when the task is
// unassigned.
func (d *Dispatcher) templateContext(ctx context.Context, ec *models.EventContext) template.Context {
	agentEmail := ""

	if ec.Task.AssignedAgentID != "" {
		email, err := d.directory.AgentEmail(ctx, ec.Task.AssignedAgentID)
		if err == nil {
			agentEmail = email
		}
	}

	return template.NewContext(ec).With(map[string]string{"agente.email": agentEmail})
}

func (d *Dispatcher) renderBody(ctx context.Context, w *models.Workflow, tmplCtx template.Context) (string, error) {
	tmpl := defaultBodyTemplate

	if w.TemplateID != "" {
		body, err := d.templates.TemplateBody(ctx, w.TemplateID)
		if err != nil {
			return "", err
		}

		if body != "" {
			tmpl = body
		}
	}

	return template.Render(tmpl, tmplCtx), nil
}

func (d *Dispatcher) newJob(w *models.Workflow, ec *models.EventContext, addresses []models.Address, subject, body string) *models.NotificationJob {
	now := d.now().UTC()

	job := &models.NotificationJob{
		ID:         uuid.NewString(),
		WorkflowID: w.ID,
		EventID:    ec.Event.ID,
		Subject:    subject,
		Body:       body,
		State:      models.JobStatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, a := range addresses {
		if a.Cc {
			job.Cc = append(job.Cc, a.Email)
		} else {
			job.To = append(job.To, a.Email)
		}
	}

	if w.DelayMinutes > 0 {
		at := ec.Event.OccurredAt.Add(time.Duration(w.DelayMinutes) * time.Minute)
		job.State = models.JobStateScheduled
		job.ScheduledAt = &at
	}

	return job
}

const defaultBodyTemplate = `<p>{{tarea.titulo}}</p>
<p>{{tarea.descripcion}}</p>
<p>Estado: {{tarea.estado}} / Prioridad: {{tarea.prioridad}}</p>
<p>Agente: {{agente.email}}</p>`
