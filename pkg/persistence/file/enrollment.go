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

// EnrollmentRepository keeps one file per enrollment. A single mutex serialises every write,
// which is what makes Create and ClaimDue atomic within one process.
type EnrollmentRepository struct {
	mu          sync.RWMutex
	enrollments collection[models.Enrollment]
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(root string) *EnrollmentRepository {
	return &EnrollmentRepository{enrollments: newCollection[models.Enrollment](root, "enrollments")}
}

func (r *EnrollmentRepository) Create(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.enrollments.all()
	if err != nil {
		return err
	}

	if enrollment.Status == models.EnrollmentActive {
		for _, existing := range all {
			if existing.Status == models.EnrollmentActive &&
				existing.AutomationID == enrollment.AutomationID &&
				existing.EntityType == enrollment.EntityType &&
				existing.EntityID == enrollment.EntityID {
				return &persistence.EnrollmentError{Op: "Create", AutomationID: enrollment.AutomationID, Err: persistence.ErrActiveEnrollmentExists}
			}
		}
	}

	if enrollment.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate enrollment ID: %w", err)
		}

		enrollment.ID = id.String()
	}

	stored := *enrollment
	stored.Metadata = cloneMetadata(enrollment.Metadata)

	return r.enrollments.write(stored.ID, &stored)
}

func (r *EnrollmentRepository) ByID(_ context.Context, id string) (*models.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byID(id)
}

func (r *EnrollmentRepository) byID(id string) (*models.Enrollment, error) {
	enrollment, err := r.enrollments.read(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewEnrollmentError("ByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, err
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) ByAutomation(_ context.Context, automationID string) ([]*models.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.enrollments.all()
	if err != nil {
		return nil, err
	}

	matched := slices.DeleteFunc(all, func(e *models.Enrollment) bool { return e.AutomationID != automationID })
	slices.SortStableFunc(matched, func(a, b *models.Enrollment) int {
		return cmp.Or(a.EnrolledAt.Compare(b.EnrolledAt), cmp.Compare(a.ID, b.ID))
	})

	return matched, nil
}

func (r *EnrollmentRepository) ActiveFor(_ context.Context, automationID string, entityType models.EntityType, entityID string) (*models.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.enrollments.all()
	if err != nil {
		return nil, err
	}

	for _, e := range all {
		if e.Status == models.EnrollmentActive && e.AutomationID == automationID &&
			e.EntityType == entityType && e.EntityID == entityID {
			return e, nil
		}
	}

	return nil, &persistence.EnrollmentError{Op: "ActiveFor", AutomationID: automationID, Err: persistence.ErrEnrollmentNotFound}
}

func (r *EnrollmentRepository) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.enrollments.all()
	if err != nil {
		return nil, err
	}

	due := slices.DeleteFunc(all, func(e *models.Enrollment) bool { return !e.IsDue(now) })
	slices.SortStableFunc(due, func(a, b *models.Enrollment) int {
		return a.NextStepAt.Compare(*b.NextStepAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimedUntil := now.Add(lease).UTC()

	for _, e := range due {
		e.ClaimedUntil = &claimedUntil
		e.UpdatedAt = now.UTC()

		err = r.enrollments.write(e.ID, e)
		if err != nil {
			return nil, err
		}
	}

	return due, nil
}

func (r *EnrollmentRepository) SaveProgress(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.byID(enrollment.ID)
	if err != nil {
		return err
	}

	if stored.Status != models.EnrollmentActive {
		return persistence.NewEnrollmentError("SaveProgress", enrollment.ID, persistence.ErrEnrollmentNotActive)
	}

	stored.Status = enrollment.Status
	stored.CurrentStepIndex = enrollment.CurrentStepIndex
	stored.NextStepAt = enrollment.NextStepAt
	stored.CompletedAt = enrollment.CompletedAt
	stored.ExitReason = enrollment.ExitReason
	stored.Error = enrollment.Error
	stored.Metadata = cloneMetadata(enrollment.Metadata)
	stored.ClaimedUntil = nil
	stored.UpdatedAt = enrollment.UpdatedAt

	err = r.enrollments.write(stored.ID, stored)
	if err != nil {
		return err
	}

	enrollment.ClaimedUntil = nil

	return nil
}

func (r *EnrollmentRepository) Unenroll(_ context.Context, id string, at time.Time) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, err := r.byID(id)
	if err != nil {
		return nil, err
	}

	if enrollment.Status != models.EnrollmentActive {
		return enrollment, nil
	}

	enrollment.Terminate(models.EnrollmentUnenrolled, at.UTC(), "unenrolled")
	enrollment.UpdatedAt = at.UTC()

	err = r.enrollments.write(id, enrollment)
	if err != nil {
		return nil, err
	}

	return enrollment, nil
}

func cloneMetadata(metadata map[string]any) map[string]any {
	clone := make(map[string]any, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}

	return clone
}
