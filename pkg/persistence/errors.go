// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrJobNotFound indicates a notification job was not found by the given identifier.
	ErrJobNotFound = errors.New("notification job not found")

	// ErrJobNotReschedulable indicates the job already entered SENDING (or a terminal state).
	ErrJobNotReschedulable = errors.New("job cannot be rescheduled")

	// ErrJobNotDeletable indicates the job was already claimed or finished.
	ErrJobNotDeletable = errors.New("job cannot be deleted")

	// ErrInvalidWorkflow indicates a workflow failed its save-time invariants.
	ErrInvalidWorkflow = errors.New("invalid workflow")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	WorkflowID string // Workflow ID if applicable
	Err        error  // Underlying error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// JobError wraps notification-job errors with additional context.
type JobError struct {
	Op    string // Operation being performed
	JobID string // Job ID
	Err   error  // Underlying error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s operation failed for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func (e *JobError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewJobError creates a new job error with context.
func NewJobError(op, jobID string, err error) *JobError {
	return &JobError{Op: op, JobID: jobID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
