package file

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// RecordRepository stores CRM records under records/<entity type>/ next to stages and positions.
type RecordRepository struct {
	mu        sync.RWMutex
	root      string
	stages    collection[models.Stage]
	positions collection[models.Position]
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(root string) *RecordRepository {
	return &RecordRepository{
		root:      root,
		stages:    newCollection[models.Stage](root, "stages"),
		positions: newCollection[models.Position](root, "positions"),
	}
}

func (r *RecordRepository) records(entityType models.EntityType) (collection[models.Record], error) {
	if !entityType.IsValid() {
		return collection[models.Record]{}, fmt.Errorf("unknown entity type %q", entityType)
	}

	return newCollection[models.Record](r.root, "records/"+string(entityType)), nil
}

func (r *RecordRepository) FindRecord(_ context.Context, entityType models.EntityType, id string) (models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.find("FindRecord", entityType, id)
}

func (r *RecordRepository) find(op string, entityType models.EntityType, id string) (models.Record, error) {
	records, err := r.records(entityType)
	if err != nil {
		return nil, err
	}

	record, err := records.read(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewRecordError(op, string(entityType), id, persistence.ErrRecordNotFound)
		}

		return nil, err
	}

	return *record, nil
}

// UpdateRecord replaces the top-level keys named in changes.
func (r *RecordRepository) UpdateRecord(_ context.Context, entityType models.EntityType, id string, changes models.Record) (models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.find("UpdateRecord", entityType, id)
	if err != nil {
		return nil, err
	}

	maps.Copy(record, changes)

	records, _ := r.records(entityType)

	err = records.write(id, &record)
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *RecordRepository) SaveRecord(_ context.Context, entityType models.EntityType, record models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := record.ID()
	if id == "" {
		return fmt.Errorf("record without %q field", models.FieldID)
	}

	records, err := r.records(entityType)
	if err != nil {
		return err
	}

	return records.write(id, &record)
}

func (r *RecordRepository) StageByID(_ context.Context, id string) (*models.Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stage, err := r.stages.read(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewRecordError("StageByID", "stage", id, persistence.ErrStageNotFound)
		}

		return nil, err
	}

	return stage, nil
}

func (r *RecordRepository) SaveStage(_ context.Context, stage *models.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *stage
	if stored.PipelineType == "" {
		stored.PipelineType = models.PipelineSales
	}

	return r.stages.write(stored.ID, &stored)
}

func (r *RecordRepository) PositionByID(_ context.Context, id string) (*models.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	position, err := r.positions.read(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewRecordError("PositionByID", "position", id, persistence.ErrPositionNotFound)
		}

		return nil, err
	}

	return position, nil
}

func (r *RecordRepository) SavePosition(_ context.Context, position *models.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.positions.write(position.ID, position)
}
