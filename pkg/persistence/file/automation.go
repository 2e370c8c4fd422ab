package file

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
)

// AutomationRepository handles automation-related file operations.
type AutomationRepository struct {
	mu          sync.RWMutex
	automations collection[models.Automation]
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(root string) *AutomationRepository {
	return &AutomationRepository{automations: newCollection[models.Automation](root, "automations")}
}

// Save inserts or replaces an automation definition. Counters are never overwritten.
func (r *AutomationRepository) Save(_ context.Context, automation *models.Automation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
	}

	stored := *automation

	existing, err := r.automations.read(automation.ID)
	switch {
	case err == nil:
		stored.ExecutionCount = existing.ExecutionCount
		stored.LastExecutedAt = existing.LastExecutedAt
	case errors.Is(err, os.ErrNotExist):
		stored.ExecutionCount = 0
		stored.LastExecutedAt = nil
	default:
		return err
	}

	return r.automations.write(stored.ID, &stored)
}

func (r *AutomationRepository) ByID(_ context.Context, id string) (*models.Automation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byID(id)
}

func (r *AutomationRepository) byID(id string) (*models.Automation, error) {
	automation, err := r.automations.read(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("automation %s: %w", id, persistence.ErrAutomationNotFound)
		}

		return nil, err
	}

	return automation, nil
}

func (r *AutomationRepository) ByUser(_ context.Context, userID string) ([]*models.Automation, error) {
	return r.filter(func(a *models.Automation) bool {
		return a.UserID == userID
	})
}

func (r *AutomationRepository) ActiveByTrigger(_ context.Context, userID string, trigger models.TriggerType) ([]*models.Automation, error) {
	return r.filter(func(a *models.Automation) bool {
		return a.UserID == userID && a.IsActive && a.Trigger.Type == trigger
	})
}

// RecordExecution increments the completion counter of an automation.
func (r *AutomationRepository) RecordExecution(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	automation, err := r.byID(id)
	if err != nil {
		return err
	}

	at = at.UTC()
	automation.ExecutionCount++
	automation.LastExecutedAt = &at

	return r.automations.write(id, automation)
}

func (r *AutomationRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.automations.remove(id)
}

func (r *AutomationRepository) filter(keep func(*models.Automation) bool) ([]*models.Automation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.automations.all()
	if err != nil {
		return nil, err
	}

	matched := slices.DeleteFunc(all, func(a *models.Automation) bool { return !keep(a) })
	slices.SortStableFunc(matched, func(a, b *models.Automation) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	return matched, nil
}
