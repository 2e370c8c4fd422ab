package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// RecordRepository stores contacts and deals as JSONB documents, plus stages and positions.
type RecordRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *sql.DB, logger *slog.Logger) *RecordRepository {
	return &RecordRepository{db: db, logger: logger}
}

func (r *RecordRepository) FindRecord(ctx context.Context, entityType models.EntityType, id string) (models.Record, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, `SELECT data FROM records WHERE entity_type = $1 AND id = $2`, entityType, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRecordError("FindRecord", string(entityType), id, persistence.ErrRecordNotFound)
		}

		return nil, fmt.Errorf("failed to query record: %w", err)
	}

	return decodeRecord(data)
}

// UpdateRecord merges changes with the JSONB concatenation operator, which replaces top-level keys.
func (r *RecordRepository) UpdateRecord(ctx context.Context, entityType models.EntityType, id string, changes models.Record) (models.Record, error) {
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal changes: %w", err)
	}

	var data []byte

	err = r.db.QueryRowContext(ctx, `
		UPDATE records SET data = data || $3::jsonb, updated_at = NOW()
		WHERE entity_type = $1 AND id = $2
		RETURNING data
	`, entityType, id, changesJSON).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRecordError("UpdateRecord", string(entityType), id, persistence.ErrRecordNotFound)
		}

		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	return decodeRecord(data)
}

func (r *RecordRepository) SaveRecord(ctx context.Context, entityType models.EntityType, record models.Record) error {
	id := record.ID()
	if id == "" {
		return fmt.Errorf("record without %q field", models.FieldID)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO records (entity_type, id, user_id, data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (entity_type, id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`, entityType, id, record.String(models.FieldUserID), data)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

func (r *RecordRepository) StageByID(ctx context.Context, id string) (*models.Stage, error) {
	var stage models.Stage

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, pipeline_type, position FROM stages WHERE id = $1`, id,
	).Scan(&stage.ID, &stage.UserID, &stage.Name, &stage.PipelineType, &stage.Position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRecordError("StageByID", "stage", id, persistence.ErrStageNotFound)
		}

		return nil, fmt.Errorf("failed to query stage: %w", err)
	}

	return &stage, nil
}

func (r *RecordRepository) SaveStage(ctx context.Context, stage *models.Stage) error {
	pipelineType := stage.PipelineType
	if pipelineType == "" {
		pipelineType = models.PipelineSales
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stages (id, user_id, name, pipeline_type, position)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			pipeline_type = EXCLUDED.pipeline_type,
			position = EXCLUDED.position
	`, stage.ID, stage.UserID, stage.Name, pipelineType, stage.Position)
	if err != nil {
		return fmt.Errorf("failed to save stage: %w", err)
	}

	return nil
}

func (r *RecordRepository) PositionByID(ctx context.Context, id string) (*models.Position, error) {
	var position models.Position

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM positions WHERE id = $1`, id,
	).Scan(&position.ID, &position.UserID, &position.Title, &position.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRecordError("PositionByID", "position", id, persistence.ErrPositionNotFound)
		}

		return nil, fmt.Errorf("failed to query position: %w", err)
	}

	position.CreatedAt = position.CreatedAt.UTC()

	return &position, nil
}

func (r *RecordRepository) SavePosition(ctx context.Context, position *models.Position) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions (id, user_id, title, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			title = EXCLUDED.title
	`, position.ID, position.UserID, position.Title, position.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}

	return nil
}

func decodeRecord(data []byte) (models.Record, error) {
	var record models.Record

	err := json.Unmarshal(data, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return record, nil
}
