package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/debugger"
	"github.com/dukex/crmflow/pkg/executor"
	"github.com/dukex/crmflow/pkg/exitcriteria"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/scheduler"
	"github.com/dukex/crmflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type stubProcessor struct {
	mu        sync.Mutex
	processed []string
	failed    map[string]error
	process   func(enrollment *models.Enrollment) error
}

func (p *stubProcessor) Process(_ context.Context, enrollment *models.Enrollment) error {
	p.mu.Lock()
	p.processed = append(p.processed, enrollment.ID)
	p.mu.Unlock()

	if p.process != nil {
		return p.process(enrollment)
	}

	return nil
}

func (p *stubProcessor) Fail(_ context.Context, enrollment *models.Enrollment, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed == nil {
		p.failed = make(map[string]error)
	}

	p.failed[enrollment.ID] = cause

	return nil
}

func seedDue(t *testing.T, store *file.Persistence, count int) {
	t.Helper()

	now := start

	for i := range count {
		require.NoError(t, store.Enrollments().Create(context.Background(), &models.Enrollment{
			ID:           fmt.Sprintf("e-%02d", i),
			AutomationID: "a1",
			UserID:       "u1",
			EntityType:   models.EntityContact,
			EntityID:     fmt.Sprintf("c-%02d", i),
			Status:       models.EnrollmentActive,
			NextStepAt:   &now,
			EnrolledAt:   now,
		}))
	}
}

func newScheduler(store *file.Persistence, processor scheduler.Processor, clock clockwork.Clock) *scheduler.Scheduler {
	return scheduler.NewScheduler(
		store.Enrollments(),
		processor,
		scheduler.Config{Concurrency: 4},
		clock,
		otelhelper.NoopTracer(),
		slog.New(slog.DiscardHandler),
	)
}

func TestRunOnce_ProcessesEveryDueEnrollment(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())
	seedDue(t, store, 10)

	processor := &stubProcessor{
		process: func(enrollment *models.Enrollment) error {
			if enrollment.ID == "e-03" {
				return errors.New("boom")
			}

			return nil
		},
	}

	s := newScheduler(store, processor, clockwork.NewFakeClockAt(start))

	result, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, result.Claimed)
	assert.Equal(t, 1, result.Errors)
	assert.Len(t, processor.processed, 10)
}

func TestRunOnce_ClaimedEnrollmentsAreLeased(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())
	seedDue(t, store, 3)

	clock := clockwork.NewFakeClockAt(start)
	s := newScheduler(store, &stubProcessor{}, clock)

	result, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Claimed)

	result, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Claimed, "the stub never releases its claims")

	clock.Advance(scheduler.DefaultLease + time.Second)

	result, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Claimed, "expired leases make enrollments due again")
}

func TestRunOnce_RecoversPanics(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())
	seedDue(t, store, 2)

	processor := &stubProcessor{
		process: func(enrollment *models.Enrollment) error {
			if enrollment.ID == "e-00" {
				panic("handler exploded")
			}

			return nil
		},
	}

	s := newScheduler(store, processor, clockwork.NewFakeClockAt(start))

	result, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claimed)
	assert.Equal(t, 1, result.Panics)
	require.Contains(t, processor.failed, "e-00")
	assert.ErrorContains(t, processor.failed["e-00"], "handler exploded")
	assert.NotContains(t, processor.failed, "e-01")
}

func TestRunOnce_SkipsWhilePassRunning(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())
	seedDue(t, store, 1)

	entered := make(chan struct{})
	release := make(chan struct{})

	processor := &stubProcessor{
		process: func(*models.Enrollment) error {
			close(entered)
			<-release

			return nil
		},
	}

	s := newScheduler(store, processor, clockwork.NewFakeClockAt(start))

	done := make(chan error, 1)

	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()

	<-entered

	_, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, scheduler.ErrPassInProgress)

	close(release)
	require.NoError(t, <-done)

	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())
	s := newScheduler(store, &stubProcessor{}, clockwork.NewRealClock())

	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), scheduler.ErrAlreadyStarted)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestDelayedStepWaitsForItsTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(start)

	require.NoError(t, store.Records().SaveRecord(ctx, models.EntityContact, testutil.Contact("c1", nil)))

	automation := testutil.CreateTestAutomation(testutil.WithSteps(
		testutil.ActionStep(0, 1, testutil.AddTag("day-0")),
		testutil.DelayStep(1, 2, 1, models.DelayDays),
		testutil.ActionStep(2, -1, testutil.AddTag("day-1")),
	))
	require.NoError(t, store.Automations().Save(ctx, automation))

	now := clock.Now()
	require.NoError(t, store.Enrollments().Create(ctx, &models.Enrollment{
		ID:           "e1",
		AutomationID: automation.ID,
		UserID:       "u1",
		EntityType:   models.EntityContact,
		EntityID:     "c1",
		Status:       models.EnrollmentActive,
		NextStepAt:   &now,
		EnrolledAt:   now,
	}))

	exec := executor.NewExecutor(
		store,
		actions.NewExecutor(store.Records(), actions.NewLogMailer(logger), time.Second, logger),
		exitcriteria.NewEvaluator(nil, clock, logger),
		nil,
		debugger.NewTracer(store.ExecutionLogs(), clock, logger, 0),
		otelhelper.NoopTracer(),
		clock,
		time.Minute,
		logger,
	)
	s := newScheduler(store, exec, clock)

	tags := func() []string {
		contact, err := store.Records().FindRecord(ctx, models.EntityContact, "c1")
		require.NoError(t, err)

		return contact.Tags()
	}

	_, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"day-0"}, tags())

	enrollment, err := store.Enrollments().ByID(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, enrollment.NextStepAt)
	assert.True(t, enrollment.NextStepAt.Equal(start.Add(24*time.Hour)))

	for range 5 {
		clock.Advance(time.Hour)

		result, err := s.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, result.Claimed)
	}

	assert.Equal(t, []string{"day-0"}, tags())

	clock.Advance(19 * time.Hour)

	result, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)

	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"day-0", "day-1"}, tags())

	enrollment, err = store.Enrollments().ByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentCompleted, enrollment.Status)
}
