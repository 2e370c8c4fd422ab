package actions_test

import (
	"context"
	"sync"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

type memoryStore struct {
	mu        sync.Mutex
	records   map[models.EntityType]map[string]models.Record
	stages    map[string]*models.Stage
	positions map[string]*models.Position
	updates   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: map[models.EntityType]map[string]models.Record{
			models.EntityContact: {},
			models.EntityDeal:    {},
		},
		stages:    map[string]*models.Stage{},
		positions: map[string]*models.Position{},
	}
}

func (s *memoryStore) put(entityType models.EntityType, record models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[entityType][record.ID()] = record
}

func (s *memoryStore) get(entityType models.EntityType, id string) models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.records[entityType][id].Clone()
}

func (s *memoryStore) FindRecord(_ context.Context, entityType models.EntityType, id string) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[entityType][id]
	if !ok {
		return nil, persistence.NewRecordError("FindRecord", string(entityType), id, persistence.ErrRecordNotFound)
	}

	return record.Clone(), nil
}

func (s *memoryStore) UpdateRecord(_ context.Context, entityType models.EntityType, id string, changes models.Record) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[entityType][id]
	if !ok {
		return nil, persistence.NewRecordError("UpdateRecord", string(entityType), id, persistence.ErrRecordNotFound)
	}

	for k, v := range changes {
		record[k] = v
	}

	s.updates++

	return record.Clone(), nil
}

func (s *memoryStore) StageByID(_ context.Context, id string) (*models.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stage, ok := s.stages[id]
	if !ok {
		return nil, persistence.NewRecordError("StageByID", "stage", id, persistence.ErrStageNotFound)
	}

	return stage, nil
}

func (s *memoryStore) PositionByID(_ context.Context, id string) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	position, ok := s.positions[id]
	if !ok {
		return nil, persistence.NewRecordError("PositionByID", "position", id, persistence.ErrPositionNotFound)
	}

	return position, nil
}

func (s *memoryStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updates
}
