// Package persistence provides the storage abstraction of the automation engine.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// DefaultLogRetention is the number of execution log entries kept per automation.
const DefaultLogRetention = 500

// Persistence groups the repositories the engine needs.
type Persistence interface {
	Automations() AutomationRepository
	Enrollments() EnrollmentRepository
	ExecutionLogs() ExecutionLogRepository
	Records() RecordRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// AutomationRepository stores automation definitions. The engine only reads them and
// bumps the execution counter.
type AutomationRepository interface {
	Save(ctx context.Context, automation *models.Automation) error
	ByID(ctx context.Context, id string) (*models.Automation, error)
	ByUser(ctx context.Context, userID string) ([]*models.Automation, error)
	ActiveByTrigger(ctx context.Context, userID string, trigger models.TriggerType) ([]*models.Automation, error)
	RecordExecution(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// EnrollmentRepository is the durable enrollment state machine.
type EnrollmentRepository interface {
	// Create inserts a new active enrollment. It returns ErrActiveEnrollmentExists when the
	// (automation, entity) pair already has one.
	Create(ctx context.Context, enrollment *models.Enrollment) error
	ByID(ctx context.Context, id string) (*models.Enrollment, error)
	ByAutomation(ctx context.Context, automationID string) ([]*models.Enrollment, error)
	// ActiveFor returns the active enrollment of the pair, or ErrEnrollmentNotFound.
	ActiveFor(ctx context.Context, automationID string, entityType models.EntityType, entityID string) (*models.Enrollment, error)
	// ClaimDue atomically selects up to limit active enrollments with nextStepAt <= now whose
	// claim is absent or expired and leases them until now+lease.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Enrollment, error)
	// SaveProgress writes the cursor, status and metadata of an enrollment and releases its
	// claim. The write only applies while the stored row is still active; otherwise
	// ErrEnrollmentNotActive is returned.
	SaveProgress(ctx context.Context, enrollment *models.Enrollment) error
	// Unenroll moves an active enrollment to unenrolled. Terminal enrollments are returned unchanged.
	Unenroll(ctx context.Context, id string, at time.Time) (*models.Enrollment, error)
}

// ExecutionLogRepository is the append-only execution trace.
type ExecutionLogRepository interface {
	Append(ctx context.Context, entry *models.ExecutionLogEntry) error
	// ByAutomation returns the newest entries first, at most limit when limit > 0.
	ByAutomation(ctx context.Context, automationID string, limit int) ([]*models.ExecutionLogEntry, error)
	// ByEnrollment returns entries in execution order.
	ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.ExecutionLogEntry, error)
}

// RecordRepository is the CRM collaborator: entity snapshots, stages and positions.
type RecordRepository interface {
	FindRecord(ctx context.Context, entityType models.EntityType, id string) (models.Record, error)
	// UpdateRecord merges changes into the top level of the stored record and returns the result.
	UpdateRecord(ctx context.Context, entityType models.EntityType, id string, changes models.Record) (models.Record, error)
	SaveRecord(ctx context.Context, entityType models.EntityType, record models.Record) error
	StageByID(ctx context.Context, id string) (*models.Stage, error)
	SaveStage(ctx context.Context, stage *models.Stage) error
	PositionByID(ctx context.Context, id string) (*models.Position, error)
	SavePosition(ctx context.Context, position *models.Position) error
}
