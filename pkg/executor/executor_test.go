package executor_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/debugger"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/executor"
	"github.com/dukex/crmflow/pkg/exitcriteria"
	"github.com/dukex/crmflow/pkg/mocks"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *file.Persistence
	clock    *clockwork.FakeClock
	bus      *mocks.MockEventBus
	executor *executor.Executor
}

// unreachableRecords fails every record lookup with err while err is set.
type unreachableRecords struct {
	persistence.RecordRepository
	err error
}

func (r *unreachableRecords) FindRecord(ctx context.Context, entityType models.EntityType, id string) (models.Record, error) {
	if r.err != nil {
		return nil, r.err
	}

	return r.RecordRepository.FindRecord(ctx, entityType, id)
}

type unreachableStore struct {
	*file.Persistence
	records *unreachableRecords
}

func (s *unreachableStore) Records() persistence.RecordRepository {
	return s.records
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(start)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, store.Records().SaveRecord(context.Background(), models.EntityContact,
		testutil.Contact("c1", map[string]any{"email": "ada@example.com", "value": 1500})))

	f := &fixture{store: store, clock: clock, bus: bus}
	f.executor = f.newExecutor(store)

	return f
}

func (f *fixture) newExecutor(store persistence.Persistence) *executor.Executor {
	logger := slog.New(slog.DiscardHandler)

	return executor.NewExecutor(
		store,
		actions.NewExecutor(store.Records(), actions.NewLogMailer(logger), time.Second, logger),
		exitcriteria.NewEvaluator(nil, f.clock, logger),
		f.bus,
		debugger.NewTracer(store.ExecutionLogs(), f.clock, logger, 0),
		otelhelper.NoopTracer(),
		f.clock,
		time.Minute,
		logger,
	)
}

func (f *fixture) enroll(t *testing.T, automation *models.Automation) *models.Enrollment {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, f.store.Automations().Save(ctx, automation))

	now := f.clock.Now()
	next := automation.DueAt(0, now)
	enrollment := &models.Enrollment{
		AutomationID: automation.ID,
		UserID:       automation.UserID,
		EntityType:   models.EntityContact,
		EntityID:     "c1",
		Status:       models.EnrollmentActive,
		NextStepAt:   &next,
		EnrolledAt:   now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.store.Enrollments().Create(ctx, enrollment))

	return enrollment
}

// process reloads the stored enrollment, as the scheduler would after claiming it, and runs one step.
func (f *fixture) process(t *testing.T, id string) *models.Enrollment {
	t.Helper()

	ctx := context.Background()

	enrollment, err := f.store.Enrollments().ByID(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.executor.Process(ctx, enrollment))

	stored, err := f.store.Enrollments().ByID(ctx, id)
	require.NoError(t, err)

	return stored
}

func (f *fixture) tags(t *testing.T) []string {
	t.Helper()

	contact, err := f.store.Records().FindRecord(context.Background(), models.EntityContact, "c1")
	require.NoError(t, err)

	return contact.Tags()
}

func TestProcess_ActionDelayAction(t *testing.T) {
	f := newFixture(t)
	automation := testutil.CreateTestAutomation(testutil.WithSteps(
		testutil.ActionStep(0, 1, testutil.AddTag("first")),
		testutil.DelayStep(1, 2, 1, models.DelayDays),
		testutil.ActionStep(2, -1, testutil.AddTag("second")),
	))
	enrollment := f.enroll(t, automation)

	stored := f.process(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentActive, stored.Status)
	assert.Equal(t, 1, stored.CurrentStepIndex)
	require.NotNil(t, stored.NextStepAt)
	assert.True(t, stored.NextStepAt.Equal(start.Add(24*time.Hour)))
	assert.Equal(t, []string{"first"}, f.tags(t))
	assert.Equal(t, 1, stored.Counter(models.MetadataActivityCount))

	f.clock.Advance(24 * time.Hour)

	stored = f.process(t, enrollment.ID)
	assert.Equal(t, 2, stored.CurrentStepIndex)
	assert.True(t, stored.NextStepAt.Equal(start.Add(24*time.Hour)))

	stored = f.process(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentCompleted, stored.Status)
	assert.Nil(t, stored.NextStepAt)
	assert.Equal(t, []string{"first", "second"}, f.tags(t))
	assert.Equal(t, 2, stored.Counter(models.MetadataActivityCount))

	saved, err := f.store.Automations().ByID(context.Background(), automation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.ExecutionCount)

	logs, err := f.store.ExecutionLogs().ByEnrollment(context.Background(), enrollment.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)

	for i, entry := range logs {
		require.NotNil(t, entry.StepIndex)
		assert.Equal(t, i, *entry.StepIndex)
		assert.Equal(t, models.LogStatusSuccess, entry.Status)
		assert.NotEmpty(t, entry.SessionID)
	}

	assert.Equal(t, []events.EventType{events.EnrollmentCompletedEvent}, f.bus.PublishedTypes())
}

func TestProcess_ConditionStep(t *testing.T) {
	t.Run("true continues", func(t *testing.T) {
		f := newFixture(t)
		automation := testutil.CreateTestAutomation(testutil.WithSteps(
			testutil.ConditionStep(0, 1, -1, testutil.Equals("email", "ada@example.com")),
			testutil.ActionStep(1, -1, testutil.AddTag("matched")),
		))
		enrollment := f.enroll(t, automation)

		stored := f.process(t, enrollment.ID)
		assert.Equal(t, models.EnrollmentActive, stored.Status)
		assert.Equal(t, 1, stored.CurrentStepIndex)
	})

	t.Run("false without route completes", func(t *testing.T) {
		f := newFixture(t)
		automation := testutil.CreateTestAutomation(testutil.WithSteps(
			testutil.ConditionStep(0, 1, -1, testutil.Equals("email", "other@example.com")),
			testutil.ActionStep(1, -1, testutil.AddTag("matched")),
		))
		enrollment := f.enroll(t, automation)

		stored := f.process(t, enrollment.ID)
		assert.Equal(t, models.EnrollmentCompleted, stored.Status)
		assert.Equal(t, executor.ReasonConditionsNotMet, stored.ExitReason)
		assert.Empty(t, f.tags(t))

		saved, err := f.store.Automations().ByID(context.Background(), automation.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), saved.ExecutionCount)
	})

	t.Run("false follows the false route", func(t *testing.T) {
		f := newFixture(t)
		automation := testutil.CreateTestAutomation(testutil.WithSteps(
			testutil.ConditionStep(0, 1, 2, testutil.Equals("email", "other@example.com")),
			testutil.ActionStep(1, -1, testutil.AddTag("matched")),
			testutil.ActionStep(2, -1, testutil.AddTag("unmatched")),
		))
		enrollment := f.enroll(t, automation)

		stored := f.process(t, enrollment.ID)
		assert.Equal(t, 2, stored.CurrentStepIndex)

		logs, err := f.store.ExecutionLogs().ByEnrollment(context.Background(), enrollment.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, models.BranchFalse, logs[0].Outcome)
		require.Len(t, logs[0].ConditionsEvaluated, 1)
		assert.False(t, logs[0].ConditionsEvaluated[0].Result)
	})
}

func TestProcess_BranchStep(t *testing.T) {
	config := &models.BranchConfig{
		Branches: []models.Branch{
			{Name: "high", Conditions: []models.Condition{{Field: "value", Operator: models.OperatorGreaterOrEqual, Value: 1000}}},
			{Name: "low", Conditions: []models.Condition{{Field: "value", Operator: models.OperatorLessThan, Value: 1000}}},
		},
	}

	f := newFixture(t)
	automation := testutil.CreateTestAutomation(testutil.WithSteps(
		testutil.BranchStep(0, config, map[string]int{"high": 1, "low": 2}),
		testutil.ActionStep(1, -1, testutil.AddTag("high")),
		testutil.ActionStep(2, -1, testutil.AddTag("low")),
	))
	enrollment := f.enroll(t, automation)

	stored := f.process(t, enrollment.ID)
	assert.Equal(t, 1, stored.CurrentStepIndex)
	assert.Equal(t, "high", stored.Metadata[models.MetadataBranch])

	stored = f.process(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentCompleted, stored.Status)
	assert.Equal(t, []string{"high"}, f.tags(t))
}

func TestProcess_BranchWithoutMatchCompletes(t *testing.T) {
	config := &models.BranchConfig{
		Branches: []models.Branch{
			{Name: "tiny", Conditions: []models.Condition{{Field: "value", Operator: models.OperatorLessThan, Value: 10}}},
		},
	}

	f := newFixture(t)
	automation := testutil.CreateTestAutomation(testutil.WithSteps(
		testutil.BranchStep(0, config, map[string]int{"tiny": 1}),
		testutil.ActionStep(1, -1, testutil.AddTag("tiny")),
	))
	enrollment := f.enroll(t, automation)

	stored := f.process(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentCompleted, stored.Status)
	assert.Equal(t, executor.ReasonNoBranchMatched, stored.ExitReason)
}

func TestProcess_ExitGoalBeforeStep(t *testing.T) {
	f := newFixture(t)
	automation := testutil.CreateTestAutomation(
		testutil.WithSteps(testutil.ActionStep(0, -1, testutil.AddTag("nurture"))),
		testutil.WithExitCriteria(&models.ExitCriteria{
			Goals: []models.Goal{{Name: "converted", Type: models.GoalFieldValue, Field: "email", Value: "ada@example.com"}},
		}),
	)
	enrollment := f.enroll(t, automation)

	stored := f.process(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentCompleted, stored.Status)
	assert.Equal(t, "goal_met:converted", stored.ExitReason)
	assert.Empty(t, f.tags(t))

	logs, err := f.store.ExecutionLogs().ByEnrollment(context.Background(), enrollment.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusSkipped, logs[0].Status)
	assert.Equal(t, "goal_met:converted", logs[0].ExitReason)
}

func TestProcess_ActionFailureFailsEnrollment(t *testing.T) {
	f := newFixture(t)
	automation := testutil.CreateTestAutomation(testutil.WithSteps(
		testutil.ActionStep(0, -1,
			testutil.AddTag("before"),
			models.Action{Type: models.ActionAddContactTag, Config: map[string]any{}},
		),
	))
	enrollment := f.enroll(t, automation)

	stored := f.process(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
	assert.Equal(t, 1, stored.Counter(models.MetadataErrorCount))
	assert.Empty(t, f.tags(t), "invalid config aborts the batch before any mutation")

	logs, err := f.store.ExecutionLogs().ByEnrollment(context.Background(), enrollment.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusFailed, logs[0].Status)
	require.Len(t, logs[0].ActionsExecuted, 2)
	assert.Equal(t, models.ActionStatusSkipped, logs[0].ActionsExecuted[0].Status)

	assert.Equal(t, []events.EventType{events.EnrollmentFailedEvent}, f.bus.PublishedTypes())
}

func TestProcess_DeactivatedAutomation(t *testing.T) {
	f := newFixture(t)
	automation := testutil.CreateTestAutomation()
	enrollment := f.enroll(t, automation)

	automation.IsActive = false
	require.NoError(t, f.store.Automations().Save(context.Background(), automation))

	stored := f.process(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentCompleted, stored.Status)
	assert.Equal(t, executor.ReasonAutomationDeactivated, stored.ExitReason)
	assert.Empty(t, f.tags(t))
}

func TestProcess_MissingRecordFails(t *testing.T) {
	f := newFixture(t)
	automation := testutil.CreateTestAutomation()
	enrollment := f.enroll(t, automation)

	enrollment.EntityID = "ghost"
	require.NoError(t, f.executor.Process(context.Background(), enrollment))

	stored, err := f.store.Enrollments().ByID(context.Background(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentFailed, stored.Status)
	assert.Contains(t, stored.Error, "not found")
}

func TestProcess_UnenrolledDuringPassKeepsUnenrolled(t *testing.T) {
	f := newFixture(t)
	automation := testutil.CreateTestAutomation()
	enrollment := f.enroll(t, automation)

	ctx := context.Background()

	claimed, err := f.store.Enrollments().ByID(ctx, enrollment.ID)
	require.NoError(t, err)

	_, err = f.store.Enrollments().Unenroll(ctx, enrollment.ID, f.clock.Now())
	require.NoError(t, err)

	require.NoError(t, f.executor.Process(ctx, claimed))

	stored, err := f.store.Enrollments().ByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentUnenrolled, stored.Status)
	assert.Empty(t, f.bus.PublishedTypes())
}

func TestProcess_SingleStepGuard(t *testing.T) {
	f := newFixture(t)
	automation := testutil.CreateTestAutomation(
		testutil.WithConditions(testutil.Equals("email", "nobody@example.com")),
	)
	enrollment := f.enroll(t, automation)

	stored := f.process(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentCompleted, stored.Status)
	assert.Equal(t, executor.ReasonConditionsNotMet, stored.ExitReason)
	assert.Empty(t, f.tags(t))
}

func TestFail(t *testing.T) {
	f := newFixture(t)
	automation := testutil.CreateTestAutomation()
	enrollment := f.enroll(t, automation)

	require.NoError(t, f.executor.Fail(context.Background(), enrollment, assert.AnError))

	stored, err := f.store.Enrollments().ByID(context.Background(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentFailed, stored.Status)
	assert.Contains(t, stored.Error, assert.AnError.Error())
}

func TestProcess_MissingAutomationFails(t *testing.T) {
	f := newFixture(t)
	automation := testutil.CreateTestAutomation()
	enrollment := f.enroll(t, automation)

	require.NoError(t, f.store.Automations().Delete(context.Background(), automation.ID))

	stored := f.process(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentFailed, stored.Status)
	assert.Contains(t, stored.Error, persistence.ErrAutomationNotFound.Error())
}

func TestProcess_StorageErrorRetries(t *testing.T) {
	f := newFixture(t)
	records := &unreachableRecords{RecordRepository: f.store.Records(), err: errors.New("connection reset")}
	exec := f.newExecutor(&unreachableStore{Persistence: f.store, records: records})

	automation := testutil.CreateTestAutomation(
		testutil.WithExitCriteria(&models.ExitCriteria{Safety: models.SafetyConfig{MaxErrors: 2}}),
	)
	automation.SafetyExitEnabled = true
	enrollment := f.enroll(t, automation)

	ctx := context.Background()

	pass := func() *models.Enrollment {
		current, err := f.store.Enrollments().ByID(ctx, enrollment.ID)
		require.NoError(t, err)

		err = exec.Process(ctx, current)

		stored, loadErr := f.store.Enrollments().ByID(ctx, enrollment.ID)
		require.NoError(t, loadErr)

		if records.err != nil {
			require.ErrorIs(t, err, records.err)
		} else {
			require.NoError(t, err)
		}

		return stored
	}

	stored := pass()
	assert.Equal(t, models.EnrollmentActive, stored.Status)
	assert.Equal(t, 1, stored.Counter(models.MetadataErrorCount))
	assert.Contains(t, stored.Metadata[models.MetadataLastError], "connection reset")
	require.NotNil(t, stored.NextStepAt)
	assert.True(t, stored.NextStepAt.Equal(start.Add(executor.DefaultRetryDelay)))

	logs, err := f.store.ExecutionLogs().ByEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusFailed, logs[0].Status)
	assert.Contains(t, logs[0].Error, "connection reset")

	f.clock.Advance(time.Minute)

	stored = pass()
	assert.Equal(t, models.EnrollmentActive, stored.Status)
	assert.Equal(t, 2, stored.Counter(models.MetadataErrorCount))
	assert.True(t, stored.NextStepAt.Equal(start.Add(2*executor.DefaultRetryDelay)))

	records.err = nil
	f.clock.Advance(time.Minute)

	stored = pass()
	assert.Equal(t, models.EnrollmentCompleted, stored.Status)
	assert.Equal(t, exitcriteria.ReasonSafetyMaxErrors, stored.ExitReason)
	assert.Empty(t, f.tags(t))

	logs, err = f.store.ExecutionLogs().ByEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
	assert.Equal(t, []events.EventType{events.EnrollmentCompletedEvent}, f.bus.PublishedTypes())
}
