package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestium/flowmail/pkg/models"
	"github.com/gestium/flowmail/pkg/persistence"
	"github.com/gestium/flowmail/pkg/persistence/file"
)

func newTestApp(t *testing.T) (*fiber.App, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	handlers := NewAPIHandlers(p, nil, validator.New(), slog.Default())

	app := fiber.New()

	workflows := app.Group("/workflows")
	workflows.Get("/", handlers.GetWorkflows)
	workflows.Post("/", handlers.CreateWorkflow)
	workflows.Get("/:id", handlers.GetWorkflow)
	workflows.Put("/:id", handlers.UpdateWorkflow)
	workflows.Delete("/:id", handlers.DeleteWorkflow)
	workflows.Post("/:id/duplicate", handlers.DuplicateWorkflow)
	workflows.Post("/:id/toggle", handlers.ToggleWorkflow)

	jobs := app.Group("/jobs")
	jobs.Get("/", handlers.GetJobs)
	jobs.Get("/:id", handlers.GetJob)
	jobs.Get("/:id/log", handlers.GetJobLog)
	jobs.Post("/:id/reschedule", handlers.RescheduleJob)
	jobs.Delete("/:id", handlers.DeleteJob)

	return app, p
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	return req
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()

	defer resp.Body.Close()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func validCreateRequest() SaveWorkflowRequest {
	return SaveWorkflowRequest{
		Name:    "notify assigned agent",
		Trigger: models.TriggerTaskCreated,
		Active:  true,
		Recipients: []models.Recipient{
			{Type: models.RecipientAssignedAgent},
		},
	}
}

func TestCreateWorkflow(t *testing.T) {
	t.Parallel()

	app, p := newTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows/", validCreateRequest()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "notify assigned agent", created.Name)

	stored, err := p.WorkflowRepository().WorkflowByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestCreateWorkflowValidation(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t)

	tests := []struct {
		name   string
		mutate func(r *SaveWorkflowRequest)
	}{
		{
			name:   "name too short",
			mutate: func(r *SaveWorkflowRequest) { r.Name = "ab" },
		},
		{
			name:   "missing trigger",
			mutate: func(r *SaveWorkflowRequest) { r.Trigger = "" },
		},
		{
			name:   "unknown trigger",
			mutate: func(r *SaveWorkflowRequest) { r.Trigger = "TAREA_EXPLOTADA" },
		},
		{
			name: "no recipients and no actions",
			mutate: func(r *SaveWorkflowRequest) {
				r.Recipients = nil
				r.Actions = nil
			},
		},
		{
			name:   "negative delay",
			mutate: func(r *SaveWorkflowRequest) { r.DelayMinutes = -5 },
		},
		{
			name: "condition operator without value",
			mutate: func(r *SaveWorkflowRequest) {
				r.Conditions = []models.Condition{
					{Field: models.CondEstadoID, Operator: models.OperatorEquals, OrGroup: 1},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := validCreateRequest()
			tt.mutate(&req)

			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows/", req))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/workflows/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateWorkflowPreservesIdentity(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows/", validCreateRequest()))
	require.NoError(t, err)

	var created models.Workflow
	decodeBody(t, resp, &created)

	update := validCreateRequest()
	update.Name = "renamed workflow"

	resp, err = app.Test(jsonRequest(t, http.MethodPut, "/workflows/"+created.ID, update))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Workflow
	decodeBody(t, resp, &updated)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "renamed workflow", updated.Name)
	assert.Equal(t, created.CreatedAt.UTC(), updated.CreatedAt.UTC())
}

func TestDuplicateWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows/", validCreateRequest()))
	require.NoError(t, err)

	var created models.Workflow
	decodeBody(t, resp, &created)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+created.ID+"/duplicate", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var dup models.Workflow
	decodeBody(t, resp, &dup)
	assert.NotEqual(t, created.ID, dup.ID)
	assert.Equal(t, "notify assigned agent (copia)", dup.Name)
	assert.False(t, dup.Active)
}

func TestToggleWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows/", validCreateRequest()))
	require.NoError(t, err)

	var created models.Workflow
	decodeBody(t, resp, &created)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+created.ID+"/toggle", ToggleWorkflowRequest{Active: false}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var toggled models.Workflow
	decodeBody(t, resp, &toggled)
	assert.False(t, toggled.Active)
}

func TestDeleteWorkflow(t *testing.T) {
	t.Parallel()

	app, p := newTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows/", validCreateRequest()))
	require.NoError(t, err)

	var created models.Workflow
	decodeBody(t, resp, &created)

	resp, err = app.Test(jsonRequest(t, http.MethodDelete, "/workflows/"+created.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	stored, err := p.WorkflowRepository().WorkflowByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.DeletedAt)
}

func TestGetJobAndLog(t *testing.T) {
	t.Parallel()

	app, p := newTestApp(t)
	ctx := context.Background()

	job := &models.NotificationJob{
		ID:         "job-1",
		WorkflowID: "wf-1",
		State:      models.JobStatePending,
		To:         []string{"a@example.com"},
		Subject:    "subject",
	}
	require.NoError(t, p.JobRepository().CreateJob(ctx, job))
	require.NoError(t, p.DeliveryLogRepository().Append(ctx, &models.DeliveryLogEntry{
		JobID: "job-1", Attempt: 1, Outcome: models.OutcomeError, Detail: "timeout",
	}))

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/jobs/job-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var jobResp JobResponse
	decodeBody(t, resp, &jobResp)
	assert.Equal(t, "job-1", jobResp.ID)
	assert.Equal(t, models.JobStatePending, jobResp.State)

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/jobs/job-1/log", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var logResp struct {
		Entries    []models.DeliveryLogEntry `json:"entries"`
		TotalCount int                       `json:"total_count"`
	}
	decodeBody(t, resp, &logResp)
	assert.Equal(t, 1, logResp.TotalCount)
	require.Len(t, logResp.Entries, 1)
	assert.Equal(t, models.OutcomeError, logResp.Entries[0].Outcome)

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/jobs/missing/log", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetJobsFiltered(t *testing.T) {
	t.Parallel()

	app, p := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, p.JobRepository().CreateJob(ctx, &models.NotificationJob{
		ID: "job-1", WorkflowID: "wf-1", State: models.JobStatePending,
	}))
	require.NoError(t, p.JobRepository().CreateJob(ctx, &models.NotificationJob{
		ID: "job-2", WorkflowID: "wf-2", State: models.JobStateError,
	}))

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/jobs/?state=PENDING", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listResp struct {
		Jobs       []JobResponse `json:"jobs"`
		TotalCount int           `json:"total_count"`
	}
	decodeBody(t, resp, &listResp)
	assert.Equal(t, 1, listResp.TotalCount)
	require.Len(t, listResp.Jobs, 1)
	assert.Equal(t, "job-1", listResp.Jobs[0].ID)
}

func TestRescheduleJob(t *testing.T) {
	t.Parallel()

	app, p := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, p.JobRepository().CreateJob(ctx, &models.NotificationJob{
		ID: "job-1", State: models.JobStatePending,
	}))

	at := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/jobs/job-1/reschedule", RescheduleJobRequest{ScheduledAt: at}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var jobResp JobResponse
	decodeBody(t, resp, &jobResp)
	assert.Equal(t, models.JobStateScheduled, jobResp.State)
	require.NotNil(t, jobResp.ScheduledAt)
	assert.Equal(t, at, jobResp.ScheduledAt.UTC())
}

func TestRescheduleClaimedJobConflicts(t *testing.T) {
	t.Parallel()

	app, p := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, p.JobRepository().CreateJob(ctx, &models.NotificationJob{
		ID: "job-1", State: models.JobStatePending,
	}))

	_, err := p.JobRepository().ClaimDueJob(ctx, "worker-1", time.Now().UTC())
	require.NoError(t, err)

	at := time.Now().UTC().Add(time.Hour)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/jobs/job-1/reschedule", RescheduleJobRequest{ScheduledAt: at}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteClaimedJobConflicts(t *testing.T) {
	t.Parallel()

	app, p := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, p.JobRepository().CreateJob(ctx, &models.NotificationJob{
		ID: "job-1", State: models.JobStatePending,
	}))

	_, err := p.JobRepository().ClaimDueJob(ctx, "worker-1", time.Now().UTC())
	require.NoError(t, err)

	resp, err := app.Test(jsonRequest(t, http.MethodDelete, "/jobs/job-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
