package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gestium/flowmail/pkg/models"
	"github.com/gestium/flowmail/pkg/persistence"
)

// JobRepository stores one JSON document per notification job under
// <root>/jobs. The persistence-wide mutex makes claim and reschedule
// atomic within the process.
type JobRepository struct {
	persistence *Persistence
}

func (r *JobRepository) CreateJob(_ context.Context, job *models.NotificationJob) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	now := time.Now().UTC()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}

	job.UpdatedAt = now

	return r.write(job)
}

func (r *JobRepository) JobByID(_ context.Context, id string) (*models.NotificationJob, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.load(id)
}

func (r *JobRepository) Jobs(_ context.Context, filter persistence.JobFilter) ([]*models.NotificationJob, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	jobs := make([]*models.NotificationJob, 0, len(all))

	for _, job := range all {
		if filter.State != "" && job.State != filter.State {
			continue
		}

		if filter.WorkflowID != "" && job.WorkflowID != filter.WorkflowID {
			continue
		}

		jobs = append(jobs, job)

		if filter.Limit > 0 && len(jobs) >= filter.Limit {
			break
		}
	}

	return jobs, nil
}

func (r *JobRepository) ClaimDueJob(_ context.Context, workerID string, now time.Time) (*models.NotificationJob, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	// loadAll returns newest first; claim the oldest due job.
	for i := len(all) - 1; i >= 0; i-- {
		job := all[i]
		if !job.Due(now) {
			continue
		}

		err = job.Claim(workerID, now)
		if err != nil {
			return nil, err
		}

		err = r.write(job)
		if err != nil {
			return nil, err
		}

		return job, nil
	}

	return nil, nil
}

func (r *JobRepository) UpdateJob(_ context.Context, job *models.NotificationJob) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	existing, err := r.load(job.ID)
	if err != nil {
		return err
	}

	if existing.State.Terminal() {
		return persistence.NewJobError("Update", job.ID, models.ErrJobImmutable)
	}

	job.UpdatedAt = time.Now().UTC()

	return r.write(job)
}

func (r *JobRepository) RescheduleJob(_ context.Context, id string, at time.Time) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	job, err := r.load(id)
	if err != nil {
		return err
	}

	err = job.Reschedule(at, time.Now().UTC())
	if err != nil {
		return persistence.NewJobError("Reschedule", id, persistence.ErrJobNotReschedulable)
	}

	return r.write(job)
}

func (r *JobRepository) DeleteJob(_ context.Context, id string) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	job, err := r.load(id)
	if err != nil {
		return err
	}

	if job.State != models.JobStatePending && job.State != models.JobStateScheduled {
		return persistence.NewJobError("Delete", id, persistence.ErrJobNotDeletable)
	}

	dir, err := r.persistence.dir("jobs")
	if err != nil {
		return persistence.NewJobError("Delete", id, err)
	}

	err = os.Remove(filepath.Join(dir, id+".json"))
	if err != nil {
		return persistence.NewJobError("Delete", id, err)
	}

	return nil
}

func (r *JobRepository) ReclaimStuck(_ context.Context, cutoff time.Time, maxAttempts int) (int, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	reclaimed := 0

	for _, job := range all {
		if job.State != models.JobStateSending || job.ClaimedAt == nil || !job.ClaimedAt.Before(cutoff) {
			continue
		}

		err = job.MarkError(errStuckDelivery, maxAttempts, 0, now)
		if err != nil {
			return reclaimed, err
		}

		err = r.write(job)
		if err != nil {
			return reclaimed, err
		}

		reclaimed++
	}

	return reclaimed, nil
}

var errStuckDelivery = fmt.Errorf("delivery attempt timed out")

func (r *JobRepository) write(job *models.NotificationJob) error {
	dir, err := r.persistence.dir("jobs")
	if err != nil {
		return persistence.NewJobError("Save", job.ID, err)
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return persistence.NewJobError("Save", job.ID, err)
	}

	err = os.WriteFile(filepath.Join(dir, job.ID+".json"), data, 0o644)
	if err != nil {
		return persistence.NewJobError("Save", job.ID, err)
	}

	return nil
}

func (r *JobRepository) load(id string) (*models.NotificationJob, error) {
	dir, err := r.persistence.dir("jobs")
	if err != nil {
		return nil, persistence.NewJobError("GetByID", id, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewJobError("GetByID", id, persistence.ErrJobNotFound)
		}

		return nil, persistence.NewJobError("GetByID", id, err)
	}

	var job models.NotificationJob

	err = json.Unmarshal(data, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	return &job, nil
}

// loadAll returns every job, newest first.
func (r *JobRepository) loadAll() ([]*models.NotificationJob, error) {
	dir, err := r.persistence.dir("jobs")
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	jobs := make([]*models.NotificationJob, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		job, err := r.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs, nil
}
