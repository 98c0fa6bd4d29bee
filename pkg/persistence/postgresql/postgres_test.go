package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/gestium/flowmail/pkg/models"
	"github.com/gestium/flowmail/pkg/persistence"
	"github.com/gestium/flowmail/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"delivery_log", "notification_jobs", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowmail_test"),
			postgres.WithUsername("flowmail"),
			postgres.WithPassword("flowmail"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func TestHealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))
}

func TestSaveAndRetrieveWorkflow(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := &models.Workflow{
		ID:      uuid.New().String(),
		Name:    "notify assigned",
		Trigger: models.TriggerTaskUpdated,
		Active:  true,
		Order:   3,
		Conditions: []models.Condition{
			{ID: uuid.New().String(), Field: models.CondEstadoNuevoID, Operator: models.OperatorEquals, Value: "state-closed", OrGroup: 1},
		},
		Recipients: []models.Recipient{
			{ID: uuid.New().String(), Type: models.RecipientAssignedAgent},
			{ID: uuid.New().String(), Type: models.RecipientManualEmails, Value: "ops@example.com", IsCc: true},
		},
		Actions: []models.Action{
			{ID: uuid.New().String(), Type: models.ActionChangePriority, Value: "prio-low"},
		},
	}

	require.NoError(t, p.WorkflowRepository().SaveWorkflow(ctx, workflow))

	loaded, err := p.WorkflowRepository().WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)

	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Equal(t, workflow.Trigger, loaded.Trigger)
	assert.Equal(t, 3, loaded.Order)
	require.Len(t, loaded.Conditions, 1)
	assert.Equal(t, models.CondEstadoNuevoID, loaded.Conditions[0].Field)
	require.Len(t, loaded.Recipients, 2)
	assert.True(t, loaded.Recipients[1].IsCc)
	require.Len(t, loaded.Actions, 1)
}

func TestWorkflowNotFound(t *testing.T) {
	p, ctx := setupTestDB(t)

	_, err := p.WorkflowRepository().WorkflowByID(ctx, uuid.New().String())
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestActiveByTriggerOrdering(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.WorkflowRepository()

	for _, w := range []*models.Workflow{
		{ID: "wf-second", Name: "second", Trigger: models.TriggerTaskCreated, Active: true, Order: 2},
		{ID: "wf-first", Name: "first", Trigger: models.TriggerTaskCreated, Active: true, Order: 1},
		{ID: "wf-inactive", Name: "inactive", Trigger: models.TriggerTaskCreated, Active: false},
		{ID: "wf-other", Name: "other", Trigger: models.TriggerTaskAssigned, Active: true},
	} {
		require.NoError(t, repo.SaveWorkflow(ctx, w))
	}

	require.NoError(t, repo.DeleteWorkflow(ctx, "wf-other"))

	active, err := repo.ActiveByTrigger(ctx, models.TriggerTaskCreated)
	require.NoError(t, err)

	require.Len(t, active, 2)
	assert.Equal(t, "wf-first", active[0].ID)
	assert.Equal(t, "wf-second", active[1].ID)

	active, err = repo.ActiveByTrigger(ctx, models.TriggerTaskAssigned)
	require.NoError(t, err)
	assert.Empty(t, active, "deleted workflows never dispatch")
}

func TestJobLifecycle(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.JobRepository()

	job := &models.NotificationJob{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		EventID:    "evt-1",
		To:         []string{"a@example.com"},
		Subject:    "subject",
		Body:       "body",
		State:      models.JobStatePending,
	}
	require.NoError(t, repo.CreateJob(ctx, job))

	now := time.Now().UTC()

	claimed, err := repo.ClaimDueJob(ctx, "worker-1", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, models.JobStateSending, claimed.State)
	assert.Equal(t, "worker-1", claimed.ClaimedBy)

	// No second claim while the job is in flight.
	second, err := repo.ClaimDueJob(ctx, "worker-2", now)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, claimed.MarkSent(now))
	require.NoError(t, repo.UpdateJob(ctx, claimed))

	loaded, err := repo.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSent, loaded.State)
	assert.Equal(t, 1, loaded.SuccessCount)
	require.NotNil(t, loaded.SentAt)
}

func TestJobRescheduleAndDeleteGuards(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.JobRepository()

	job := &models.NotificationJob{
		ID:    uuid.New().String(),
		To:    []string{"a@example.com"},
		State: models.JobStatePending,
	}
	require.NoError(t, repo.CreateJob(ctx, job))

	at := time.Now().UTC().Add(time.Hour)
	require.NoError(t, repo.RescheduleJob(ctx, job.ID, at))

	loaded, err := repo.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateScheduled, loaded.State)
	require.NotNil(t, loaded.ScheduledAt)
	assert.WithinDuration(t, at, *loaded.ScheduledAt, time.Second)

	_, err = repo.ClaimDueJob(ctx, "worker-1", at)
	require.NoError(t, err)

	err = repo.RescheduleJob(ctx, job.ID, at.Add(time.Hour))
	require.ErrorIs(t, err, persistence.ErrJobNotReschedulable)

	err = repo.DeleteJob(ctx, job.ID)
	require.ErrorIs(t, err, persistence.ErrJobNotDeletable)
}

func TestReclaimStuckJobs(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.JobRepository()

	job := &models.NotificationJob{
		ID:    uuid.New().String(),
		To:    []string{"a@example.com"},
		State: models.JobStatePending,
	}
	require.NoError(t, repo.CreateJob(ctx, job))

	staleClaim := time.Now().UTC().Add(-time.Hour)

	_, err := repo.ClaimDueJob(ctx, "worker-gone", staleClaim)
	require.NoError(t, err)

	reclaimed, err := repo.ReclaimStuck(ctx, time.Now().UTC().Add(-10*time.Minute), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	loaded, err := repo.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePending, loaded.State)
	assert.Equal(t, 1, loaded.ErrorCount)
	assert.Empty(t, loaded.ClaimedBy)
}

func TestDeliveryLogAppendByJobPurge(t *testing.T) {
	p, ctx := setupTestDB(t)
	logs := p.DeliveryLogRepository()

	jobID := uuid.New().String()

	require.NoError(t, logs.Append(ctx, &models.DeliveryLogEntry{
		JobID: jobID, Attempt: 1, Outcome: models.OutcomeError, Detail: "timeout", WorkerID: "worker-1",
	}))
	require.NoError(t, logs.Append(ctx, &models.DeliveryLogEntry{
		JobID: jobID, Attempt: 2, Outcome: models.OutcomeSent, WorkerID: "worker-1",
	}))

	entries, err := logs.ByJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Attempt)
	assert.Equal(t, models.OutcomeError, entries[0].Outcome)
	assert.Equal(t, 2, entries[1].Attempt)

	purged, err := logs.PurgeOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, purged)

	purged, err = logs.PurgeOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, purged)
}
