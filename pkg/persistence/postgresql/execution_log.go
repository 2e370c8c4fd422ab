package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

const executionLogColumns = `
	id, automation_id, enrollment_id, session_id, trigger_type, step_index, step_type, outcome,
	conditions_evaluated, actions_executed, status, error, exit_reason, executed_at
`

// ExecutionLogRepository handles execution log database operations.
type ExecutionLogRepository struct {
	db        *sql.DB
	logger    *slog.Logger
	retention int
}

// NewExecutionLogRepository creates a repository keeping the newest retention entries per automation.
func NewExecutionLogRepository(db *sql.DB, logger *slog.Logger, retention int) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db, logger: logger, retention: retention}
}

// Append inserts an entry and trims the automation's log to the retention size.
func (r *ExecutionLogRepository) Append(ctx context.Context, entry *models.ExecutionLogEntry) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate log entry ID: %w", err)
		}

		entry.ID = id.String()
	}

	conditionsJSON, err := json.Marshal(nonNil(entry.ConditionsEvaluated))
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	actionsJSON, err := json.Marshal(nonNil(entry.ActionsExecuted))
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_logs (`+executionLogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		entry.ID,
		entry.AutomationID,
		entry.EnrollmentID,
		entry.SessionID,
		entry.TriggerType,
		entry.StepIndex,
		entry.StepType,
		entry.Outcome,
		conditionsJSON,
		actionsJSON,
		entry.Status,
		entry.Error,
		entry.ExitReason,
		entry.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution log: %w", err)
	}

	if r.retention > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM execution_logs
			WHERE automation_id = $1 AND id NOT IN (
				SELECT id FROM execution_logs
				WHERE automation_id = $1
				ORDER BY executed_at DESC, id DESC
				LIMIT $2
			)
		`, entry.AutomationID, r.retention)
		if err != nil {
			return fmt.Errorf("failed to trim execution log: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit execution log: %w", err)
	}

	return nil
}

func (r *ExecutionLogRepository) ByAutomation(ctx context.Context, automationID string, limit int) ([]*models.ExecutionLogEntry, error) {
	query := `SELECT ` + executionLogColumns + ` FROM execution_logs WHERE automation_id = $1 ORDER BY executed_at DESC, id DESC`
	if limit > 0 {
		return r.query(ctx, query+` LIMIT $2`, automationID, limit)
	}

	return r.query(ctx, query, automationID)
}

func (r *ExecutionLogRepository) ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.ExecutionLogEntry, error) {
	return r.query(ctx,
		`SELECT `+executionLogColumns+` FROM execution_logs WHERE enrollment_id = $1 ORDER BY executed_at, id`,
		enrollmentID)
}

func (r *ExecutionLogRepository) query(ctx context.Context, query string, args ...any) ([]*models.ExecutionLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.ExecutionLogEntry, 0)

	for rows.Next() {
		var (
			entry          models.ExecutionLogEntry
			stepIndex      sql.NullInt64
			conditionsJSON []byte
			actionsJSON    []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.AutomationID,
			&entry.EnrollmentID,
			&entry.SessionID,
			&entry.TriggerType,
			&stepIndex,
			&entry.StepType,
			&entry.Outcome,
			&conditionsJSON,
			&actionsJSON,
			&entry.Status,
			&entry.Error,
			&entry.ExitReason,
			&entry.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		if stepIndex.Valid {
			index := int(stepIndex.Int64)
			entry.StepIndex = &index
		}

		err = json.Unmarshal(conditionsJSON, &entry.ConditionsEvaluated)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}

		err = json.Unmarshal(actionsJSON, &entry.ActionsExecuted)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}

		entry.ExecutedAt = entry.ExecutedAt.UTC()
		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}

	return entries, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}

	return items
}
