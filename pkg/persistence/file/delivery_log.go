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
)

// DeliveryLogRepository stores one JSON document per delivery attempt
// under <root>/delivery_log. Entries are never rewritten; PurgeOlderThan
// is the only removal path.
type DeliveryLogRepository struct {
	persistence *Persistence
}

func (r *DeliveryLogRepository) Append(_ context.Context, entry *models.DeliveryLogEntry) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	dir, err := r.persistence.dir("delivery_log")
	if err != nil {
		return fmt.Errorf("failed to open delivery log directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal delivery log entry: %w", err)
	}

	err = os.WriteFile(filepath.Join(dir, entry.ID+".json"), data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write delivery log entry: %w", err)
	}

	return nil
}

func (r *DeliveryLogRepository) ByJob(_ context.Context, jobID string) ([]*models.DeliveryLogEntry, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	entries := make([]*models.DeliveryLogEntry, 0)

	for _, entry := range all {
		if entry.JobID == jobID {
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

func (r *DeliveryLogRepository) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return 0, err
	}

	dir, err := r.persistence.dir("delivery_log")
	if err != nil {
		return 0, err
	}

	purged := 0

	for _, entry := range all {
		if !entry.CreatedAt.Before(cutoff) {
			continue
		}

		err = os.Remove(filepath.Join(dir, entry.ID+".json"))
		if err != nil {
			return purged, fmt.Errorf("failed to purge delivery log entry %s: %w", entry.ID, err)
		}

		purged++
	}

	return purged, nil
}

// loadAll returns every entry in chronological order.
func (r *DeliveryLogRepository) loadAll() ([]*models.DeliveryLogEntry, error) {
	dir, err := r.persistence.dir("delivery_log")
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery log directory: %w", err)
	}

	entries := make([]*models.DeliveryLogEntry, 0, len(dirEntries))

	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, dirEntry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read delivery log file %s: %w", dirEntry.Name(), err)
		}

		var entry models.DeliveryLogEntry

		err = json.Unmarshal(data, &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal delivery log file %s: %w", dirEntry.Name(), err)
		}

		entries = append(entries, &entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}
