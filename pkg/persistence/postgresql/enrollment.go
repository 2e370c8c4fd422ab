package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const enrollmentColumns = `
	id, automation_id, user_id, entity_type, entity_id, status, current_step_index,
	next_step_at, enrolled_at, completed_at, exit_reason, error, metadata, claimed_until, updated_at
`

// EnrollmentRepository handles enrollment-related database operations.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

// Create inserts an active enrollment. The partial unique index on active pairs turns a
// concurrent duplicate into ErrActiveEnrollmentExists.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate enrollment ID: %w", err)
		}

		enrollment.ID = id.String()
	}

	metadata, err := json.Marshal(metadataOrEmpty(enrollment.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO enrollments (id, automation_id, user_id, entity_type, entity_id, status,
			current_step_index, next_step_at, enrolled_at, completed_at, exit_reason, error, metadata,
			claimed_until, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.AutomationID,
		enrollment.UserID,
		enrollment.EntityType,
		enrollment.EntityID,
		enrollment.Status,
		enrollment.CurrentStepIndex,
		utcPtr(enrollment.NextStepAt),
		enrollment.EnrolledAt.UTC(),
		utcPtr(enrollment.CompletedAt),
		enrollment.ExitReason,
		enrollment.Error,
		metadata,
		utcPtr(enrollment.ClaimedUntil),
		enrollment.UpdatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return &persistence.EnrollmentError{Op: "Create", AutomationID: enrollment.AutomationID, Err: persistence.ErrActiveEnrollmentExists}
		}

		return fmt.Errorf("failed to insert enrollment: %w", err)
	}

	return nil
}

func (r *EnrollmentRepository) ByID(ctx context.Context, id string) (*models.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("ByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) ByAutomation(ctx context.Context, automationID string) ([]*models.Enrollment, error) {
	return r.query(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE automation_id = $1 ORDER BY enrolled_at, id`, automationID)
}

func (r *EnrollmentRepository) ActiveFor(ctx context.Context, automationID string, entityType models.EntityType, entityID string) (*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE automation_id = $1 AND entity_type = $2 AND entity_id = $3 AND status = 'active'
	`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, automationID, entityType, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.EnrollmentError{Op: "ActiveFor", AutomationID: automationID, Err: persistence.ErrEnrollmentNotFound}
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

// ClaimDue leases due enrollments in one statement. Rows locked by another claimer are
// skipped, so concurrent schedulers never receive the same enrollment.
func (r *EnrollmentRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Enrollment, error) {
	query := `
		UPDATE enrollments
		SET claimed_until = $2, updated_at = $1
		WHERE id IN (
			SELECT id FROM enrollments
			WHERE status = 'active'
				AND next_step_at IS NOT NULL
				AND next_step_at <= $1
				AND (claimed_until IS NULL OR claimed_until < $1)
			ORDER BY next_step_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + enrollmentColumns

	return r.query(ctx, query, now.UTC(), now.Add(lease).UTC(), limit)
}

// SaveProgress is a conditional update on status = 'active'.
func (r *EnrollmentRepository) SaveProgress(ctx context.Context, enrollment *models.Enrollment) error {
	metadata, err := json.Marshal(metadataOrEmpty(enrollment.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE enrollments SET
			status = $2,
			current_step_index = $3,
			next_step_at = $4,
			completed_at = $5,
			exit_reason = $6,
			error = $7,
			metadata = $8,
			claimed_until = NULL,
			updated_at = $9
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.Status,
		enrollment.CurrentStepIndex,
		utcPtr(enrollment.NextStepAt),
		utcPtr(enrollment.CompletedAt),
		enrollment.ExitReason,
		enrollment.Error,
		metadata,
		enrollment.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 1 {
		enrollment.ClaimedUntil = nil

		return nil
	}

	_, err = r.ByID(ctx, enrollment.ID)
	if err != nil {
		return err
	}

	return persistence.NewEnrollmentError("SaveProgress", enrollment.ID, persistence.ErrEnrollmentNotActive)
}

func (r *EnrollmentRepository) Unenroll(ctx context.Context, id string, at time.Time) (*models.Enrollment, error) {
	query := `
		UPDATE enrollments SET
			status = 'unenrolled',
			completed_at = $2,
			next_step_at = NULL,
			claimed_until = NULL,
			exit_reason = 'unenrolled',
			updated_at = $2
		WHERE id = $1 AND status = 'active'
	`

	_, err := r.db.ExecContext(ctx, query, id, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to unenroll: %w", err)
	}

	return r.ByID(ctx, id)
}

func (r *EnrollmentRepository) query(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func scanEnrollment(row scanner) (*models.Enrollment, error) {
	var (
		enrollment   models.Enrollment
		nextStepAt   sql.NullTime
		completedAt  sql.NullTime
		claimedUntil sql.NullTime
		metadata     []byte
	)

	err := row.Scan(
		&enrollment.ID,
		&enrollment.AutomationID,
		&enrollment.UserID,
		&enrollment.EntityType,
		&enrollment.EntityID,
		&enrollment.Status,
		&enrollment.CurrentStepIndex,
		&nextStepAt,
		&enrollment.EnrolledAt,
		&completedAt,
		&enrollment.ExitReason,
		&enrollment.Error,
		&metadata,
		&claimedUntil,
		&enrollment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		err = json.Unmarshal(metadata, &enrollment.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	enrollment.NextStepAt = nullTime(nextStepAt)
	enrollment.CompletedAt = nullTime(completedAt)
	enrollment.ClaimedUntil = nullTime(claimedUntil)
	enrollment.EnrolledAt = enrollment.EnrolledAt.UTC()
	enrollment.UpdatedAt = enrollment.UpdatedAt.UTC()

	return &enrollment, nil
}

func metadataOrEmpty(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}

	return metadata
}
