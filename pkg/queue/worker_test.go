package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestium/flowmail/pkg/mailer"
	"github.com/gestium/flowmail/pkg/models"
	"github.com/gestium/flowmail/pkg/persistence"
)

// memoryJobRepo is a minimal in-memory JobRepository for worker tests.
type memoryJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.NotificationJob
}

func newMemoryJobRepo(jobs ...*models.NotificationJob) *memoryJobRepo {
	repo := &memoryJobRepo{jobs: make(map[string]*models.NotificationJob)}
	for _, job := range jobs {
		copied := *job
		repo.jobs[job.ID] = &copied
	}

	return repo
}

func (r *memoryJobRepo) CreateJob(_ context.Context, job *models.NotificationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *job
	r.jobs[job.ID] = &copied

	return nil
}

func (r *memoryJobRepo) JobByID(_ context.Context, id string) (*models.NotificationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, persistence.NewJobError("GetByID", id, persistence.ErrJobNotFound)
	}

	copied := *job

	return &copied, nil
}

func (r *memoryJobRepo) Jobs(_ context.Context, _ persistence.JobFilter) ([]*models.NotificationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.NotificationJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		copied := *job
		out = append(out, &copied)
	}

	return out, nil
}

func (r *memoryJobRepo) ClaimDueJob(_ context.Context, workerID string, now time.Time) (*models.NotificationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, job := range r.jobs {
		if !job.Due(now) {
			continue
		}

		err := job.Claim(workerID, now)
		if err != nil {
			return nil, err
		}

		copied := *job

		return &copied, nil
	}

	return nil, nil
}

func (r *memoryJobRepo) UpdateJob(_ context.Context, job *models.NotificationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *job
	r.jobs[job.ID] = &copied

	return nil
}

func (r *memoryJobRepo) RescheduleJob(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return persistence.NewJobError("Reschedule", id, persistence.ErrJobNotFound)
	}

	return job.Reschedule(at, time.Now().UTC())
}

func (r *memoryJobRepo) DeleteJob(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, id)

	return nil
}

func (r *memoryJobRepo) ReclaimStuck(_ context.Context, cutoff time.Time, maxAttempts int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, job := range r.jobs {
		if job.State != models.JobStateSending || job.ClaimedAt == nil || !job.ClaimedAt.Before(cutoff) {
			continue
		}

		err := job.MarkError(errors.New("delivery attempt timed out"), maxAttempts, 0, time.Now().UTC())
		if err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}

type memoryDeliveryLog struct {
	mu      sync.Mutex
	entries []*models.DeliveryLogEntry
}

func (l *memoryDeliveryLog) Append(_ context.Context, entry *models.DeliveryLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := *entry
	l.entries = append(l.entries, &copied)

	return nil
}

func (l *memoryDeliveryLog) ByJob(_ context.Context, jobID string) ([]*models.DeliveryLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*models.DeliveryLogEntry, 0)

	for _, entry := range l.entries {
		if entry.JobID == jobID {
			out = append(out, entry)
		}
	}

	return out, nil
}

func (l *memoryDeliveryLog) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	purged := 0

	for _, entry := range l.entries {
		if entry.CreatedAt.Before(cutoff) {
			purged++

			continue
		}

		kept = append(kept, entry)
	}

	l.entries = kept

	return purged, nil
}

// fakeTransport records sent messages and fails on demand.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []*mailer.Message
	failures int
}

func (t *fakeTransport) Send(_ context.Context, msg *mailer.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failures > 0 {
		t.failures--

		return errors.New("connection refused")
	}

	t.sent = append(t.sent, msg)

	return nil
}

var workerNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestWorker(repo *memoryJobRepo, transport *fakeTransport, config WorkerConfig) (*Worker, *memoryDeliveryLog) {
	deliveryLog := &memoryDeliveryLog{}

	worker := NewWorker("worker-test", repo, deliveryLog, transport, config, slog.Default())
	worker.now = func() time.Time { return workerNow }

	return worker, deliveryLog
}

func TestWorkerDeliversPendingJob(t *testing.T) {
	t.Parallel()

	repo := newMemoryJobRepo(&models.NotificationJob{
		ID:      "job-1",
		State:   models.JobStatePending,
		To:      []string{"a@example.com"},
		Cc:      []string{"b@example.com"},
		Subject: "subject",
		Body:    "body",
	})
	transport := &fakeTransport{}
	worker, deliveryLog := newTestWorker(repo, transport, WorkerConfig{})

	processed, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	require.Len(t, transport.sent, 1)
	assert.Equal(t, []string{"a@example.com"}, transport.sent[0].To)

	job, err := repo.JobByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSent, job.State)
	assert.Equal(t, 1, job.SuccessCount)

	entries, err := deliveryLog.ByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutcomeSent, entries[0].Outcome)
	assert.Equal(t, 1, entries[0].Attempt)
	assert.Equal(t, "worker-test", entries[0].WorkerID)
}

func TestWorkerRetriesFailedDelivery(t *testing.T) {
	t.Parallel()

	repo := newMemoryJobRepo(&models.NotificationJob{
		ID:    "job-1",
		State: models.JobStatePending,
		To:    []string{"a@example.com"},
	})
	transport := &fakeTransport{failures: 1}
	worker, deliveryLog := newTestWorker(repo, transport, WorkerConfig{MaxAttempts: 3, Backoff: time.Minute})

	processed, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	job, err := repo.JobByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateScheduled, job.State)
	assert.Equal(t, 1, job.ErrorCount)
	require.NotNil(t, job.ScheduledAt)
	assert.Equal(t, workerNow.Add(time.Minute), *job.ScheduledAt)

	entries, err := deliveryLog.ByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutcomeError, entries[0].Outcome)
	assert.Equal(t, "connection refused", entries[0].Detail)
}

func TestWorkerExhaustsAttempts(t *testing.T) {
	t.Parallel()

	repo := newMemoryJobRepo(&models.NotificationJob{
		ID:         "job-1",
		State:      models.JobStatePending,
		To:         []string{"a@example.com"},
		ErrorCount: 2,
	})
	transport := &fakeTransport{failures: 1}
	worker, deliveryLog := newTestWorker(repo, transport, WorkerConfig{MaxAttempts: 3, Backoff: time.Minute})

	processed, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	job, err := repo.JobByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateError, job.State)
	assert.Equal(t, 3, job.ErrorCount)

	entries, err := deliveryLog.ByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].Attempt)
}

func TestWorkerSkipsFutureScheduledJob(t *testing.T) {
	t.Parallel()

	future := workerNow.Add(time.Hour)
	repo := newMemoryJobRepo(&models.NotificationJob{
		ID:          "job-1",
		State:       models.JobStateScheduled,
		ScheduledAt: &future,
		To:          []string{"a@example.com"},
	})
	transport := &fakeTransport{}
	worker, _ := newTestWorker(repo, transport, WorkerConfig{})

	processed, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Empty(t, transport.sent)
}

func TestWorkerDeliversDueScheduledJob(t *testing.T) {
	t.Parallel()

	past := workerNow.Add(-time.Minute)
	repo := newMemoryJobRepo(&models.NotificationJob{
		ID:          "job-1",
		State:       models.JobStateScheduled,
		ScheduledAt: &past,
		To:          []string{"a@example.com"},
	})
	transport := &fakeTransport{}
	worker, _ := newTestWorker(repo, transport, WorkerConfig{})

	processed, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	job, err := repo.JobByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSent, job.State)
}

func TestWorkerConfigDefaults(t *testing.T) {
	t.Parallel()

	config := WorkerConfig{}.withDefaults()

	assert.Equal(t, 5*time.Second, config.PollInterval)
	assert.Equal(t, 5, config.MaxAttempts)
	assert.Equal(t, time.Minute, config.Backoff)
}
