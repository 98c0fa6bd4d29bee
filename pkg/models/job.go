package models

import (
	"errors"
	"fmt"
	"time"
)

// JobState is the delivery state of a notification job.
type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateScheduled JobState = "SCHEDULED"
	JobStateSending   JobState = "SENDING"
	JobStateSent      JobState = "SENT"
	JobStateError     JobState = "ERROR"
)

var (
	ErrJobNotClaimable     = errors.New("job is not in a claimable state")
	ErrJobNotReschedulable = errors.New("job cannot be rescheduled once sending has started")
	ErrJobImmutable        = errors.New("job is immutable once sent")
)

// jobTransitions enumerates the legal state transitions. ERROR from a
// non-terminal state is always reachable via MarkError; SENT is
// terminal; ERROR past the retry bound is terminal.
var jobTransitions = map[JobState][]JobState{
	JobStatePending:   {JobStateSending, JobStateScheduled},
	JobStateScheduled: {JobStateSending, JobStateScheduled},
	JobStateSending:   {JobStateSent, JobStatePending, JobStateScheduled, JobStateError},
	JobStateError:     {},
	JobStateSent:      {},
}

// CanTransition reports whether moving from s to next is legal.
func (s JobState) CanTransition(next JobState) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return len(jobTransitions[s]) == 0
}

// Attachment is an optional file carried by a notification job.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// NotificationJob is one queued unit of outbound delivery, produced per
// matched workflow per event. Created by the dispatcher; mutated only by
// the dispatch queue worker; immutable once SENT.
type NotificationJob struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	EventID    string `json:"event_id"`

	To          []string     `json:"to"`
	Cc          []string     `json:"cc,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`

	State       JobState   `json:"state"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`

	SuccessCount int    `json:"success_count"`
	ErrorCount   int    `json:"error_count"`
	LastError    string `json:"last_error,omitempty"`
	Log          string `json:"log,omitempty"`

	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Due reports whether a worker may claim the job at the given instant:
// PENDING always, SCHEDULED once its timestamp has elapsed.
func (j *NotificationJob) Due(now time.Time) bool {
	switch j.State {
	case JobStatePending:
		return true
	case JobStateScheduled:
		return j.ScheduledAt != nil && !j.ScheduledAt.After(now)
	default:
		return false
	}
}

// Claim transitions the job to SENDING on behalf of a worker.
func (j *NotificationJob) Claim(workerID string, now time.Time) error {
	if !j.Due(now) {
		return fmt.Errorf("%w: state %s", ErrJobNotClaimable, j.State)
	}

	j.State = JobStateSending
	j.ClaimedBy = workerID
	j.ClaimedAt = &now
	j.UpdatedAt = now

	return nil
}

// Reschedule moves the scheduled timestamp. Legal only before the job
// has entered SENDING; never creates a duplicate job.
func (j *NotificationJob) Reschedule(at, now time.Time) error {
	if j.State != JobStatePending && j.State != JobStateScheduled {
		return fmt.Errorf("%w: state %s", ErrJobNotReschedulable, j.State)
	}

	j.State = JobStateScheduled
	j.ScheduledAt = &at
	j.UpdatedAt = now

	return nil
}

// MarkSent finalizes a successful delivery. The job is immutable
// afterwards.
func (j *NotificationJob) MarkSent(now time.Time) error {
	if !j.State.CanTransition(JobStateSent) {
		return fmt.Errorf("cannot mark job %s sent from state %s", j.ID, j.State)
	}

	j.State = JobStateSent
	j.SentAt = &now
	j.SuccessCount++
	j.ClaimedBy = ""
	j.ClaimedAt = nil
	j.UpdatedAt = now
	j.appendLog(now, "sent")

	return nil
}

// MarkError records a failed attempt. While attempts remain the job
// re-enters SCHEDULED with the given backoff; past the bound it stays
// terminally in ERROR, visible to operators.
func (j *NotificationJob) MarkError(sendErr error, maxAttempts int, backoff time.Duration, now time.Time) error {
	if j.State == JobStateSent {
		return ErrJobImmutable
	}

	j.ErrorCount++
	j.LastError = sendErr.Error()
	j.ClaimedBy = ""
	j.ClaimedAt = nil
	j.UpdatedAt = now
	j.appendLog(now, "error: "+sendErr.Error())

	if j.ErrorCount >= maxAttempts {
		j.State = JobStateError

		return nil
	}

	retryAt := now.Add(backoff * time.Duration(j.ErrorCount))
	j.State = JobStateScheduled
	j.ScheduledAt = &retryAt

	return nil
}

func (j *NotificationJob) appendLog(now time.Time, line string) {
	entry := now.UTC().Format(time.RFC3339) + " " + line + "\n"
	j.Log += entry
}

// DeliveryOutcome classifies one delivery attempt.
type DeliveryOutcome string

const (
	OutcomeSent  DeliveryOutcome = "sent"
	OutcomeError DeliveryOutcome = "error"
)

// DeliveryLogEntry is one append-only record per job per attempt. Never
// mutated or deleted by the engine; retention sweeps are the only
// removal path.
type DeliveryLogEntry struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Attempt   int             `json:"attempt"`
	Outcome   DeliveryOutcome `json:"outcome"`
	Detail    string          `json:"detail,omitempty"`
	WorkerID  string          `json:"worker_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
