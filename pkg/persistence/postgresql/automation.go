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
)

// AutomationRepository handles automation-related database operations. The definition is
// stored as JSONB; counters and the columns used for matching live in their own columns.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

const automationColumns = `definition, is_active, execution_count, last_executed_at, created_at, updated_at`

// Save inserts or replaces an automation definition. Counters are never overwritten.
func (r *AutomationRepository) Save(ctx context.Context, automation *models.Automation) error {
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

	definition, err := json.Marshal(automation)
	if err != nil {
		return fmt.Errorf("failed to marshal automation: %w", err)
	}

	query := `
		INSERT INTO automations (id, user_id, name, trigger_type, definition, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			trigger_type = EXCLUDED.trigger_type,
			definition = EXCLUDED.definition,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		automation.ID,
		automation.UserID,
		automation.Name,
		automation.Trigger.Type,
		definition,
		automation.IsActive,
		automation.CreatedAt,
		automation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save automation: %w", err)
	}

	return nil
}

func (r *AutomationRepository) ByID(ctx context.Context, id string) (*models.Automation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = $1`, id)

	automation, err := scanAutomation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("automation %s: %w", id, persistence.ErrAutomationNotFound)
		}

		return nil, fmt.Errorf("failed to scan automation: %w", err)
	}

	return automation, nil
}

func (r *AutomationRepository) ByUser(ctx context.Context, userID string) ([]*models.Automation, error) {
	return r.query(ctx, `SELECT `+automationColumns+` FROM automations WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (r *AutomationRepository) ActiveByTrigger(ctx context.Context, userID string, trigger models.TriggerType) ([]*models.Automation, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM automations
		WHERE user_id = $1 AND trigger_type = $2 AND is_active
		ORDER BY created_at
	`

	return r.query(ctx, query, userID, trigger)
}

// RecordExecution increments the completion counter of an automation.
func (r *AutomationRepository) RecordExecution(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE automations SET execution_count = execution_count + 1, last_executed_at = $2 WHERE id = $1`,
		id, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record automation execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("automation %s: %w", id, persistence.ErrAutomationNotFound)
	}

	return nil
}

func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM automations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete automation: %w", err)
	}

	return nil
}

func (r *AutomationRepository) query(ctx context.Context, query string, args ...any) ([]*models.Automation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

func scanAutomation(row scanner) (*models.Automation, error) {
	var (
		definition     []byte
		isActive       bool
		executionCount int64
		lastExecutedAt sql.NullTime
		createdAt      time.Time
		updatedAt      time.Time
	)

	err := row.Scan(&definition, &isActive, &executionCount, &lastExecutedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var automation models.Automation

	err = json.Unmarshal(definition, &automation)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal automation definition: %w", err)
	}

	automation.IsActive = isActive
	automation.ExecutionCount = executionCount
	automation.LastExecutedAt = nullTime(lastExecutedAt)
	automation.CreatedAt = createdAt.UTC()
	automation.UpdatedAt = updatedAt.UTC()

	return &automation, nil
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}

	t := value.Time.UTC()

	return &t
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}

	t := value.UTC()

	return &t
}
