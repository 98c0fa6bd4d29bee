package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/gestium/flowmail/pkg/eventbus"
	"github.com/gestium/flowmail/pkg/events"
	"github.com/gestium/flowmail/pkg/log"
	"github.com/gestium/flowmail/pkg/models"
	"github.com/gestium/flowmail/pkg/persistence"
)

type APIHandlers struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	p persistence.Persistence,
	publisher eventbus.EventPublisher,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		publisher:   publisher,
		validator:   validate,
		logger:      log.WithModule(logger, "api"),
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.WorkflowRepository().Workflows(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows, "total_count": len(workflows)})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowRepository().WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := req.ToWorkflow()
	if err := workflow.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.WorkflowRepository().SaveWorkflow(c.Context(), workflow); err != nil {
		return handlePersistenceError(c, err)
	}

	h.publishConfigChange(c.Context(), workflow, "created")

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	existing, err := h.persistence.WorkflowRepository().WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	previousTrigger := existing.Trigger

	workflow := req.ToWorkflow()
	workflow.ID = existing.ID
	workflow.CreatedAt = existing.CreatedAt

	if err := workflow.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.WorkflowRepository().SaveWorkflow(c.Context(), workflow); err != nil {
		return handlePersistenceError(c, err)
	}

	h.publishConfigChange(c.Context(), workflow, "updated")

	// Moving a workflow to another trigger also invalidates the old set.
	if previousTrigger != workflow.Trigger {
		h.publishConfigChange(c.Context(), existing, "updated")
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowRepository().WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if err := h.persistence.WorkflowRepository().DeleteWorkflow(c.Context(), id); err != nil {
		return handlePersistenceError(c, err)
	}

	h.publishConfigChange(c.Context(), workflow, "deleted")

	return c.SendStatus(fiber.StatusNoContent)
}

// DuplicateWorkflow deep-copies a workflow under a new identity. The
// copy starts inactive.
func (h *APIHandlers) DuplicateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowRepository().WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	dup := workflow.Duplicate()

	if err := h.persistence.WorkflowRepository().SaveWorkflow(c.Context(), dup); err != nil {
		return handlePersistenceError(c, err)
	}

	h.publishConfigChange(c.Context(), dup, "duplicated")

	return c.Status(fiber.StatusCreated).JSON(dup)
}

// ToggleWorkflow flips a workflow's active flag without touching its
// configuration.
func (h *APIHandlers) ToggleWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ToggleWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	workflow, err := h.persistence.WorkflowRepository().WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	workflow.Active = req.Active

	if err := h.persistence.WorkflowRepository().SaveWorkflow(c.Context(), workflow); err != nil {
		return handlePersistenceError(c, err)
	}

	h.publishConfigChange(c.Context(), workflow, "toggled")

	return c.JSON(workflow)
}

func (h *APIHandlers) GetJobs(c fiber.Ctx) error {
	filter := persistence.JobFilter{
		State:      models.JobState(c.Query("state")),
		WorkflowID: c.Query("workflow_id"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit: "+limitStr)
		}

		filter.Limit = limit
	}

	jobs, err := h.persistence.JobRepository().Jobs(c.Context(), filter)
	if err != nil {
		return internalError(c, err)
	}

	out := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, TransformJobResponse(job))
	}

	return c.JSON(fiber.Map{"jobs": out, "total_count": len(out)})
}

func (h *APIHandlers) GetJob(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Job ID is required")
	}

	job, err := h.persistence.JobRepository().JobByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(TransformJobResponse(job))
}

// GetJobLog returns a job's delivery attempts in chronological order.
func (h *APIHandlers) GetJobLog(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Job ID is required")
	}

	if _, err := h.persistence.JobRepository().JobByID(c.Context(), id); err != nil {
		return handlePersistenceError(c, err)
	}

	entries, err := h.persistence.DeliveryLogRepository().ByJob(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"entries": entries, "total_count": len(entries)})
}

// RescheduleJob moves a queued job's delivery time. Refused once the
// job has entered delivery.
func (h *APIHandlers) RescheduleJob(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Job ID is required")
	}

	var req RescheduleJobRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.JobRepository().RescheduleJob(c.Context(), id, req.ScheduledAt.UTC()); err != nil {
		return handlePersistenceError(c, err)
	}

	job, err := h.persistence.JobRepository().JobByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(TransformJobResponse(job))
}

// DeleteJob removes a job that has not entered delivery.
func (h *APIHandlers) DeleteJob(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Job ID is required")
	}

	if err := h.persistence.JobRepository().DeleteJob(c.Context(), id); err != nil {
		return handlePersistenceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	message := "Flowmail API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "Flowmail API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

// publishConfigChange announces a workflow configuration change so
// dispatcher caches drop the affected trigger set. Publish failures are
// logged, not surfaced: the store is the source of truth.
func (h *APIHandlers) publishConfigChange(ctx context.Context, workflow *models.Workflow, change string) {
	if h.publisher == nil {
		return
	}

	event := events.WorkflowConfigChanged{
		BaseEvent:  events.NewBaseEvent(events.WorkflowConfigChangedEvent),
		WorkflowID: workflow.ID,
		Trigger:    workflow.Trigger,
		Change:     change,
	}

	err := h.publisher.Publish(ctx, workflow.ID, event)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to publish workflow config change", "workflow_id", workflow.ID, "error", err)
	}
}
