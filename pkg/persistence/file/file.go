// Package file provides a file-based persistence implementation:
// workflows, jobs and delivery log entries stored as JSON documents
// under a root directory. Suitable for development and tests; claim
// semantics are guarded by an in-process mutex, so it supports
// concurrent workers within one process only.
package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gestium/flowmail/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root         string
	mu           sync.Mutex
	workflowRepo *WorkflowRepository
	jobRepo      *JobRepository
	logRepo      *DeliveryLogRepository
}

// NewPersistence creates a file persistence rooted at the given
// directory (a leading "file://" prefix is stripped).
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflowRepo = &WorkflowRepository{persistence: p}
	p.jobRepo = &JobRepository{persistence: p}
	p.logRepo = &DeliveryLogRepository{persistence: p}

	return p
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) JobRepository() persistence.JobRepository {
	return p.jobRepo
}

func (p *Persistence) DeliveryLogRepository() persistence.DeliveryLogRepository {
	return p.logRepo
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to do for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) dir(name string) (string, error) {
	path := filepath.Join(p.root, name)

	err := os.MkdirAll(path, 0o755)
	if err != nil {
		return "", err
	}

	return path, nil
}
