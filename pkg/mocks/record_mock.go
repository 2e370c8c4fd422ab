package mocks

import (
	"context"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockRecordRepository is a mock implementation of persistence.RecordRepository interface.
type MockRecordRepository struct {
	mock.Mock
}

func (m *MockRecordRepository) FindRecord(ctx context.Context, entityType models.EntityType, id string) (models.Record, error) {
	args := m.Called(ctx, entityType, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(models.Record), args.Error(1)
}

func (m *MockRecordRepository) UpdateRecord(ctx context.Context, entityType models.EntityType, id string, changes models.Record) (models.Record, error) {
	args := m.Called(ctx, entityType, id, changes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(models.Record), args.Error(1)
}

func (m *MockRecordRepository) SaveRecord(ctx context.Context, entityType models.EntityType, record models.Record) error {
	args := m.Called(ctx, entityType, record)

	return args.Error(0)
}

func (m *MockRecordRepository) StageByID(ctx context.Context, id string) (*models.Stage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Stage), args.Error(1)
}

func (m *MockRecordRepository) SaveStage(ctx context.Context, stage *models.Stage) error {
	args := m.Called(ctx, stage)

	return args.Error(0)
}

func (m *MockRecordRepository) PositionByID(ctx context.Context, id string) (*models.Position, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Position), args.Error(1)
}

func (m *MockRecordRepository) SavePosition(ctx context.Context, position *models.Position) error {
	args := m.Called(ctx, position)

	return args.Error(0)
}
