package file

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

// ExecutionLogRepository stores one file per log entry.
type ExecutionLogRepository struct {
	mu        sync.RWMutex
	entries   collection[models.ExecutionLogEntry]
	retention int
}

// NewExecutionLogRepository creates a repository keeping the newest retention entries per automation.
func NewExecutionLogRepository(root string, retention int) *ExecutionLogRepository {
	return &ExecutionLogRepository{
		entries:   newCollection[models.ExecutionLogEntry](root, "execution_logs"),
		retention: retention,
	}
}

func (r *ExecutionLogRepository) Append(_ context.Context, entry *models.ExecutionLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate log entry ID: %w", err)
		}

		entry.ID = id.String()
	}

	err := r.entries.write(entry.ID, entry)
	if err != nil {
		return err
	}

	if r.retention <= 0 {
		return nil
	}

	entries, err := r.byAutomation(entry.AutomationID)
	if err != nil {
		return err
	}

	for _, stale := range entries[min(r.retention, len(entries)):] {
		err = r.entries.remove(stale.ID)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *ExecutionLogRepository) ByAutomation(_ context.Context, automationID string, limit int) ([]*models.ExecutionLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := r.byAutomation(automationID)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

func (r *ExecutionLogRepository) ByEnrollment(_ context.Context, enrollmentID string) ([]*models.ExecutionLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.entries.all()
	if err != nil {
		return nil, err
	}

	entries := slices.DeleteFunc(all, func(e *models.ExecutionLogEntry) bool { return e.EnrollmentID != enrollmentID })
	slices.SortStableFunc(entries, compareEntries)

	return entries, nil
}

// byAutomation returns the newest entries first.
func (r *ExecutionLogRepository) byAutomation(automationID string) ([]*models.ExecutionLogEntry, error) {
	all, err := r.entries.all()
	if err != nil {
		return nil, err
	}

	entries := slices.DeleteFunc(all, func(e *models.ExecutionLogEntry) bool { return e.AutomationID != automationID })
	slices.SortStableFunc(entries, func(a, b *models.ExecutionLogEntry) int { return compareEntries(b, a) })

	return entries, nil
}

func compareEntries(a, b *models.ExecutionLogEntry) int {
	return cmp.Or(a.ExecutedAt.Compare(b.ExecutedAt), cmp.Compare(a.ID, b.ID))
}
