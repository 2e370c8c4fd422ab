// Package persistencetest holds the behaviour every persistence.Persistence implementation must share.
package persistencetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. Each subtest gets its own.
type Factory func(t *testing.T) persistence.Persistence

// RunSuite runs the shared repository tests against the stores produced by newStore.
func RunSuite(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("automations", func(t *testing.T) { testAutomations(t, newStore(t)) })
	t.Run("active enrollment uniqueness", func(t *testing.T) { testActiveUniqueness(t, newStore(t)) })
	t.Run("claim due", func(t *testing.T) { testClaimDue(t, newStore(t)) })
	t.Run("concurrent claims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("save progress", func(t *testing.T) { testSaveProgress(t, newStore(t)) })
	t.Run("unenroll", func(t *testing.T) { testUnenroll(t, newStore(t)) })
	t.Run("execution logs", func(t *testing.T) { testExecutionLogs(t, newStore(t)) })
	t.Run("records", func(t *testing.T) { testRecords(t, newStore(t)) })
}

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func automation(userID string, trigger models.TriggerType, active bool) *models.Automation {
	return &models.Automation{
		UserID:   userID,
		Name:     "automation " + string(trigger),
		Trigger:  models.Trigger{Type: trigger},
		Actions:  []models.Action{{Type: models.ActionAddContactTag, Config: map[string]any{"tag": "vip"}}},
		IsActive: active,
	}
}

func enrollment(automationID, entityID string, nextStepAt time.Time) *models.Enrollment {
	return &models.Enrollment{
		AutomationID: automationID,
		UserID:       "user-1",
		EntityType:   models.EntityContact,
		EntityID:     entityID,
		Status:       models.EnrollmentActive,
		NextStepAt:   &nextStepAt,
		EnrolledAt:   base,
		Metadata:     map[string]any{},
		UpdatedAt:    base,
	}
}

func testAutomations(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.Automations()

	created := automation("user-1", models.TriggerContactCreated, true)
	require.NoError(t, repo.Save(ctx, created))
	require.NotEmpty(t, created.ID)

	require.NoError(t, repo.Save(ctx, automation("user-1", models.TriggerDealCreated, true)))
	require.NoError(t, repo.Save(ctx, automation("user-1", models.TriggerContactCreated, false)))
	require.NoError(t, repo.Save(ctx, automation("user-2", models.TriggerContactCreated, true)))

	active, err := repo.ActiveByTrigger(ctx, "user-1", models.TriggerContactCreated)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, created.ID, active[0].ID)

	all, err := repo.ByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, repo.RecordExecution(ctx, created.ID, base))
	require.NoError(t, repo.RecordExecution(ctx, created.ID, base.Add(time.Hour)))

	// Saving the definition again keeps the counters.
	created.Name = "renamed"
	require.NoError(t, repo.Save(ctx, created))

	loaded, err := repo.ByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", loaded.Name)
	assert.Equal(t, int64(2), loaded.ExecutionCount)
	require.NotNil(t, loaded.LastExecutedAt)
	assert.True(t, base.Add(time.Hour).Equal(*loaded.LastExecutedAt))

	require.NoError(t, repo.Delete(ctx, created.ID))

	_, err = repo.ByID(ctx, created.ID)
	require.ErrorIs(t, err, persistence.ErrAutomationNotFound)
	assert.ErrorIs(t, repo.RecordExecution(ctx, created.ID, base), persistence.ErrAutomationNotFound)
}

func testActiveUniqueness(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.Enrollments()

	first := enrollment("auto-1", "contact-1", base)
	require.NoError(t, repo.Create(ctx, first))

	err := repo.Create(ctx, enrollment("auto-1", "contact-1", base))
	require.ErrorIs(t, err, persistence.ErrActiveEnrollmentExists)

	// Other entities and other automations are independent.
	require.NoError(t, repo.Create(ctx, enrollment("auto-1", "contact-2", base)))
	require.NoError(t, repo.Create(ctx, enrollment("auto-2", "contact-1", base)))

	active, err := repo.ActiveFor(ctx, "auto-1", models.EntityContact, "contact-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	// A terminal enrollment frees the pair.
	first.Terminate(models.EnrollmentCompleted, base, "")
	require.NoError(t, repo.SaveProgress(ctx, first))
	require.NoError(t, repo.Create(ctx, enrollment("auto-1", "contact-1", base)))

	_, err = repo.ActiveFor(ctx, "auto-9", models.EntityContact, "contact-1")
	assert.ErrorIs(t, err, persistence.ErrEnrollmentNotFound)

	list, err := repo.ByAutomation(ctx, "auto-1")
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func testClaimDue(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.Enrollments()

	due := enrollment("auto-1", "due", base.Add(-time.Minute))
	future := enrollment("auto-1", "future", base.Add(time.Hour))
	parked := enrollment("auto-1", "parked", base)
	parked.NextStepAt = nil

	for _, e := range []*models.Enrollment{due, future, parked} {
		require.NoError(t, repo.Create(ctx, e))
	}

	claimed, err := repo.ClaimDue(ctx, base, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	require.NotNil(t, claimed[0].ClaimedUntil)

	// Leased rows are not handed out again until the lease expires.
	again, err := repo.ClaimDue(ctx, base.Add(30*time.Second), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	expired, err := repo.ClaimDue(ctx, base.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	limited, err := repo.ClaimDue(ctx, base.Add(2*time.Hour), time.Minute, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testConcurrentClaims(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.Enrollments()

	for i := range 20 {
		require.NoError(t, repo.Create(ctx, enrollment("auto-1", fmt.Sprintf("contact-%d", i), base)))
	}

	var (
		mu     sync.Mutex
		seen   = map[string]int{}
		wg     sync.WaitGroup
		claims = make(chan error, 4)
	)

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			claimed, err := repo.ClaimDue(ctx, base, time.Minute, 20)
			claims <- err

			mu.Lock()
			defer mu.Unlock()

			for _, e := range claimed {
				seen[e.ID]++
			}
		}()
	}

	wg.Wait()
	close(claims)

	for err := range claims {
		require.NoError(t, err)
	}

	assert.Len(t, seen, 20)

	for id, count := range seen {
		assert.Equal(t, 1, count, "enrollment %s claimed more than once", id)
	}
}

func testSaveProgress(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.Enrollments()

	e := enrollment("auto-1", "contact-1", base)
	require.NoError(t, repo.Create(ctx, e))

	claimed, err := repo.ClaimDue(ctx, base, time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	next := base.Add(24 * time.Hour)
	progress := claimed[0]
	progress.CurrentStepIndex = 2
	progress.NextStepAt = &next
	progress.IncrementCounter(models.MetadataErrorCount)
	progress.UpdatedAt = base
	require.NoError(t, repo.SaveProgress(ctx, progress))
	assert.Nil(t, progress.ClaimedUntil)

	loaded, err := repo.ByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CurrentStepIndex)
	assert.True(t, next.Equal(*loaded.NextStepAt))
	assert.Nil(t, loaded.ClaimedUntil)
	assert.Equal(t, 1, loaded.Counter(models.MetadataErrorCount))

	_, err = repo.Unenroll(ctx, e.ID, base)
	require.NoError(t, err)

	// A write racing an unenroll must not resurrect the enrollment.
	loaded.CurrentStepIndex = 3
	err = repo.SaveProgress(ctx, loaded)
	require.ErrorIs(t, err, persistence.ErrEnrollmentNotActive)

	final, err := repo.ByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentUnenrolled, final.Status)
	assert.Equal(t, 2, final.CurrentStepIndex)

	missing := enrollment("auto-1", "ghost", base)
	missing.ID = "missing"
	assert.ErrorIs(t, repo.SaveProgress(ctx, missing), persistence.ErrEnrollmentNotFound)
}

func testUnenroll(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.Enrollments()

	e := enrollment("auto-1", "contact-1", base)
	require.NoError(t, repo.Create(ctx, e))

	at := base.Add(time.Hour)

	unenrolled, err := repo.Unenroll(ctx, e.ID, at)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentUnenrolled, unenrolled.Status)
	assert.Nil(t, unenrolled.NextStepAt)
	require.NotNil(t, unenrolled.CompletedAt)
	assert.True(t, at.Equal(*unenrolled.CompletedAt))

	// Idempotent on terminal enrollments.
	again, err := repo.Unenroll(ctx, e.ID, at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, at.Equal(*again.CompletedAt))

	_, err = repo.Unenroll(ctx, "missing", at)
	assert.ErrorIs(t, err, persistence.ErrEnrollmentNotFound)
}

func testExecutionLogs(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionLogs()

	for i := range 3 {
		step := i
		require.NoError(t, repo.Append(ctx, &models.ExecutionLogEntry{
			AutomationID: "auto-1",
			EnrollmentID: "enrollment-1",
			TriggerType:  models.TriggerContactCreated,
			StepIndex:    &step,
			StepType:     models.StepTypeAction,
			ActionsExecuted: []models.ActionResult{
				{Action: models.Action{Type: models.ActionAddContactTag}, Status: models.ActionStatusSuccess},
			},
			Status:     models.LogStatusSuccess,
			ExecutedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	newest, err := repo.ByAutomation(ctx, "auto-1", 2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, 2, *newest[0].StepIndex)
	assert.Equal(t, 1, *newest[1].StepIndex)

	ordered, err := repo.ByEnrollment(ctx, "enrollment-1")
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	assert.Equal(t, 0, *ordered[0].StepIndex)
	require.Len(t, ordered[0].ActionsExecuted, 1)
	assert.Equal(t, models.ActionStatusSuccess, ordered[0].ActionsExecuted[0].Status)

	none, err := repo.ByAutomation(ctx, "auto-2", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testRecords(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.Records()

	contact := models.Record{
		models.FieldID:     "contact-1",
		models.FieldUserID: "user-1",
		models.FieldEmail:  "ada@example.com",
		models.FieldTags:   []any{"lead"},
	}
	require.NoError(t, repo.SaveRecord(ctx, models.EntityContact, contact))

	updated, err := repo.UpdateRecord(ctx, models.EntityContact, "contact-1", models.Record{models.FieldTags: []any{"lead", "vip"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"lead", "vip"}, updated.Tags())
	assert.Equal(t, "ada@example.com", updated.String(models.FieldEmail))

	loaded, err := repo.FindRecord(ctx, models.EntityContact, "contact-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead", "vip"}, loaded.Tags())

	_, err = repo.FindRecord(ctx, models.EntityDeal, "contact-1")
	require.ErrorIs(t, err, persistence.ErrRecordNotFound)

	_, err = repo.UpdateRecord(ctx, models.EntityContact, "missing", models.Record{"x": 1})
	require.ErrorIs(t, err, persistence.ErrRecordNotFound)

	require.NoError(t, repo.SaveStage(ctx, &models.Stage{ID: "stage-1", UserID: "user-1", Name: "Won"}))

	stage, err := repo.StageByID(ctx, "stage-1")
	require.NoError(t, err)
	assert.Equal(t, models.PipelineSales, stage.PipelineType)

	_, err = repo.StageByID(ctx, "stage-9")
	require.ErrorIs(t, err, persistence.ErrStageNotFound)

	require.NoError(t, repo.SavePosition(ctx, &models.Position{ID: "pos-1", UserID: "user-1", Title: "Engineer", CreatedAt: base}))

	position, err := repo.PositionByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, "Engineer", position.Title)

	_, err = repo.PositionByID(ctx, "pos-9")
	assert.ErrorIs(t, err, persistence.ErrPositionNotFound)
}
