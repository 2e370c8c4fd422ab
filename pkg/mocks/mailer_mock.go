package mocks

import (
	"context"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/suppression"
	"github.com/stretchr/testify/mock"
)

// MockMailer is a mock implementation of actions.Mailer interface.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, email actions.Email) (actions.DeliveryStatus, error) {
	args := m.Called(ctx, email)

	return args.Get(0).(actions.DeliveryStatus), args.Error(1)
}

// MockSuppressionChecker is a mock implementation of suppression.Checker interface.
type MockSuppressionChecker struct {
	mock.Mock
}

func (m *MockSuppressionChecker) IsSuppressed(ctx context.Context, email string, reason suppression.Reason) (bool, error) {
	args := m.Called(ctx, email, reason)

	return args.Bool(0), args.Error(1)
}
