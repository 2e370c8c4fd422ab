package actions_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/engineerr"
	"github.com/dukex/crmflow/pkg/mocks"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seededStore() *memoryStore {
	store := newMemoryStore()
	store.put(models.EntityContact, models.Record{
		"id":        "c1",
		"userId":    "u1",
		"email":     "ada@example.com",
		"firstName": "Ada",
		"tags":      []any{"vip"},
	})
	store.put(models.EntityDeal, models.Record{
		"id":        "d1",
		"userId":    "u1",
		"title":     "Analytical Engine",
		"contactId": "c1",
		"stageId":   "s-new",
	})
	store.stages["s-won"] = &models.Stage{ID: "s-won", UserID: "u1", PipelineType: models.PipelineSales}
	store.stages["s-foreign"] = &models.Stage{ID: "s-foreign", UserID: "u2", PipelineType: models.PipelineSales}
	store.stages["s-interview"] = &models.Stage{ID: "s-interview", UserID: "u1", PipelineType: models.PipelineCandidate}
	store.positions["p1"] = &models.Position{ID: "p1", UserID: "u1", Title: "Engineer"}

	return store
}

func contactTarget() actions.Target {
	return actions.Target{UserID: "u1", EntityType: models.EntityContact, EntityID: "c1"}
}

func dealTarget() actions.Target {
	return actions.Target{UserID: "u1", EntityType: models.EntityDeal, EntityID: "d1"}
}

func mustParse(t *testing.T, action models.Action) actions.Action {
	t.Helper()

	parsed, err := actions.Parse(action)
	require.NoError(t, err)

	return parsed
}

func TestExecutor_AddTagIsIdempotent(t *testing.T) {
	t.Parallel()

	store := seededStore()
	executor := actions.NewExecutor(store, actions.NewLogMailer(testLogger()), time.Second, testLogger())
	action := mustParse(t, models.Action{Type: models.ActionAddContactTag, Config: map[string]any{"tag": "web-lead"}})

	require.NoError(t, executor.Execute(context.Background(), action, contactTarget()))
	afterFirst := store.get(models.EntityContact, "c1").Tags()

	require.NoError(t, executor.Execute(context.Background(), action, contactTarget()))
	afterSecond := store.get(models.EntityContact, "c1").Tags()

	assert.Equal(t, []string{"vip", "web-lead"}, afterFirst)
	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, 1, store.updateCount())
}

func TestExecutor_AddTagOnDealTargetsLinkedContact(t *testing.T) {
	t.Parallel()

	store := seededStore()
	executor := actions.NewExecutor(store, actions.NewLogMailer(testLogger()), time.Second, testLogger())
	action := mustParse(t, models.Action{Type: models.ActionAddContactTag, Config: map[string]any{"tag": "buyer"}})

	require.NoError(t, executor.Execute(context.Background(), action, dealTarget()))

	assert.Contains(t, store.get(models.EntityContact, "c1").Tags(), "buyer")
}

func TestExecutor_RemoveTag(t *testing.T) {
	t.Parallel()

	store := seededStore()
	executor := actions.NewExecutor(store, actions.NewLogMailer(testLogger()), time.Second, testLogger())
	action := mustParse(t, models.Action{Type: models.ActionRemoveContactTag, Config: map[string]any{"tag": "vip"}})

	require.NoError(t, executor.Execute(context.Background(), action, contactTarget()))
	require.NoError(t, executor.Execute(context.Background(), action, contactTarget()))

	assert.Empty(t, store.get(models.EntityContact, "c1").Tags())
	assert.Equal(t, 1, store.updateCount())
}

func TestExecutor_UpdateField(t *testing.T) {
	t.Parallel()

	store := seededStore()
	executor := actions.NewExecutor(store, actions.NewLogMailer(testLogger()), time.Second, testLogger())
	ctx := context.Background()

	top := mustParse(t, models.Action{Type: models.ActionUpdateField, Config: map[string]any{"field": "lifecycle", "value": "customer"}})
	custom := mustParse(t, models.Action{Type: models.ActionUpdateContactField, Config: map[string]any{"field": "customFields.industry", "value": "SaaS"}})
	deal := mustParse(t, models.Action{Type: models.ActionUpdateDealField, Config: map[string]any{"field": "priority", "value": "high"}})

	require.NoError(t, executor.Execute(ctx, top, contactTarget()))
	require.NoError(t, executor.Execute(ctx, custom, contactTarget()))
	require.NoError(t, executor.Execute(ctx, custom, contactTarget()))
	require.NoError(t, executor.Execute(ctx, deal, dealTarget()))

	contact := store.get(models.EntityContact, "c1")
	assert.Equal(t, "customer", contact["lifecycle"])
	assert.Equal(t, map[string]any{"industry": "SaaS"}, contact.CustomFields())
	assert.Nil(t, contact["customFields.industry"])
	assert.Equal(t, "high", store.get(models.EntityDeal, "d1")["priority"])
	assert.Equal(t, 3, store.updateCount())

	err := executor.Execute(ctx, deal, contactTarget())
	require.Error(t, err)
	assert.True(t, engineerr.IsNotFound(err), "a contact enrollment has no deal to update")
}

func TestExecutor_MoveDealStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		stageID  string
		wantCode engineerr.Code
	}{
		{name: "same owner sales stage", stageID: "s-won"},
		{name: "stage of another user", stageID: "s-foreign", wantCode: engineerr.CodeNotFound},
		{name: "candidate stage", stageID: "s-interview", wantCode: engineerr.CodeInvalidConfig},
		{name: "missing stage", stageID: "s-missing", wantCode: engineerr.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := seededStore()
			executor := actions.NewExecutor(store, actions.NewLogMailer(testLogger()), time.Second, testLogger())
			action := mustParse(t, models.Action{Type: models.ActionMoveDealToStage, Config: map[string]any{"stageId": tt.stageID}})

			err := executor.Execute(context.Background(), action, dealTarget())
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, engineerr.CodeOf(err))
				assert.Equal(t, "s-new", store.get(models.EntityDeal, "d1")["stageId"])

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.stageID, store.get(models.EntityDeal, "d1")["stageId"])
		})
	}
}

func TestExecutor_CandidatePipeline(t *testing.T) {
	t.Parallel()

	store := seededStore()
	executor := actions.NewExecutor(store, actions.NewLogMailer(testLogger()), time.Second, testLogger())
	ctx := context.Background()

	batch := []models.Action{
		{Type: models.ActionUpdateCandidateStatus, Config: map[string]any{"status": "interviewing"}},
		{Type: models.ActionMoveCandidateStage, Config: map[string]any{"stageId": "s-interview"}},
		{Type: models.ActionSetCandidateRating, Config: map[string]any{"rating": 4}},
		{Type: models.ActionAddCandidateNote, Config: map[string]any{"note": "Strong systems background"}},
		{Type: models.ActionAddCandidateNote, Config: map[string]any{"note": "Strong systems background"}},
		{Type: models.ActionSetInterviewDate, Config: map[string]any{"date": "2026-03-01T10:00:00+02:00"}},
		{Type: models.ActionAssignPosition, Config: map[string]any{"positionId": "p1"}},
	}

	results, err := executor.ExecuteAll(ctx, batch, contactTarget())
	require.NoError(t, err)
	require.Len(t, results, len(batch))

	for _, result := range results {
		assert.Equal(t, models.ActionStatusSuccess, result.Status)
	}

	contact := store.get(models.EntityContact, "c1")
	assert.Equal(t, "interviewing", contact[actions.FieldCandidateStatus])
	assert.Equal(t, "s-interview", contact[actions.FieldCandidateStageID])
	assert.Equal(t, 4, contact[actions.FieldCandidateRating])
	assert.Equal(t, []string{"Strong systems background"}, contact[actions.FieldCandidateNotes])
	assert.Equal(t, "2026-03-01T08:00:00Z", contact[actions.FieldInterviewDate])
	assert.Equal(t, "p1", contact[actions.FieldPositionID])

	salesStage := mustParse(t, models.Action{Type: models.ActionMoveCandidateStage, Config: map[string]any{"stageId": "s-won"}})
	err = executor.Execute(ctx, salesStage, contactTarget())
	assert.Equal(t, engineerr.CodeInvalidConfig, engineerr.CodeOf(err))
}

func TestExecutor_ExecuteAllAbortsOnFirstFailure(t *testing.T) {
	t.Parallel()

	store := seededStore()
	executor := actions.NewExecutor(store, actions.NewLogMailer(testLogger()), time.Second, testLogger())

	batch := []models.Action{
		{Type: models.ActionAddContactTag, Config: map[string]any{"tag": "first"}},
		{Type: models.ActionMoveDealToStage, Config: map[string]any{"stageId": "s-foreign"}},
		{Type: models.ActionAddContactTag, Config: map[string]any{"tag": "never"}},
	}

	results, err := executor.ExecuteAll(context.Background(), batch, dealTarget())
	require.Error(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, models.ActionStatusSuccess, results[0].Status)
	assert.Equal(t, models.ActionStatusFailed, results[1].Status)
	assert.NotEmpty(t, results[1].Error)
	assert.Equal(t, models.ActionStatusSkipped, results[2].Status)
	assert.NotContains(t, store.get(models.EntityContact, "c1").Tags(), "never")
}

func TestExecutor_ExecuteAllValidatesBeforeMutating(t *testing.T) {
	t.Parallel()

	store := seededStore()
	executor := actions.NewExecutor(store, actions.NewLogMailer(testLogger()), time.Second, testLogger())

	batch := []models.Action{
		{Type: models.ActionAddContactTag, Config: map[string]any{"tag": "first"}},
		{Type: "launch_rocket", Config: map[string]any{}},
	}

	_, err := executor.ExecuteAll(context.Background(), batch, contactTarget())
	require.Error(t, err)
	assert.True(t, engineerr.IsValidation(err))
	assert.Equal(t, 0, store.updateCount())
}

func TestExecutor_SendEmail(t *testing.T) {
	t.Parallel()

	store := seededStore()
	mailer := &mocks.MockMailer{}
	mailer.On("Send", mock.Anything, actions.Email{
		To:      "ada@example.com",
		Subject: "About Analytical Engine",
		Body:    "Hi Ada, thanks for your interest. Regards, the team",
	}).Return(actions.Delivered, nil).Once()

	executor := actions.NewExecutor(store, mailer, time.Second, testLogger())
	action := mustParse(t, models.Action{Type: models.ActionSendEmail, Config: map[string]any{
		"subject": "About {{title}}",
		"body":    "Hi {{contact.firstName || 'there'}}, thanks for your interest. Regards, {{owner.name || 'the team'}}",
	}})

	require.NoError(t, executor.Execute(context.Background(), action, dealTarget()))
	mailer.AssertExpectations(t)
}

func TestExecutor_SendEmailFailures(t *testing.T) {
	t.Parallel()

	action := models.Action{Type: models.ActionSendEmail, Config: map[string]any{"subject": "Hi", "body": "Hello"}}

	t.Run("undelivered", func(t *testing.T) {
		t.Parallel()

		mailer := &mocks.MockMailer{}
		mailer.On("Send", mock.Anything, mock.Anything).Return(actions.Failed, nil)

		executor := actions.NewExecutor(seededStore(), mailer, time.Second, testLogger())
		err := executor.Execute(context.Background(), mustParse(t, action), contactTarget())

		require.Error(t, err)
		assert.True(t, engineerr.IsActionExecution(err))
	})

	t.Run("collaborator error", func(t *testing.T) {
		t.Parallel()

		mailer := &mocks.MockMailer{}
		mailer.On("Send", mock.Anything, mock.Anything).Return(actions.Failed, errors.New("smtp down"))

		executor := actions.NewExecutor(seededStore(), mailer, time.Second, testLogger())
		err := executor.Execute(context.Background(), mustParse(t, action), contactTarget())

		require.Error(t, err)
		assert.Equal(t, engineerr.CodeExecutionFailed, engineerr.CodeOf(err))
		assert.Contains(t, err.Error(), "smtp down")
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		mailer := &mocks.MockMailer{}
		mailer.On("Send", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { time.Sleep(200 * time.Millisecond) }).
			Return(actions.Delivered, nil)

		executor := actions.NewExecutor(seededStore(), mailer, 20*time.Millisecond, testLogger())
		err := executor.Execute(context.Background(), mustParse(t, action), contactTarget())

		require.Error(t, err)
		assert.True(t, engineerr.IsTimeout(err))
	})

	t.Run("no recipient", func(t *testing.T) {
		t.Parallel()

		store := seededStore()
		store.put(models.EntityContact, models.Record{"id": "c2", "userId": "u1"})

		executor := actions.NewExecutor(store, &mocks.MockMailer{}, time.Second, testLogger())
		target := actions.Target{UserID: "u1", EntityType: models.EntityContact, EntityID: "c2"}
		err := executor.Execute(context.Background(), mustParse(t, action), target)

		require.Error(t, err)
		assert.True(t, engineerr.IsNotFound(err))
	})
}

func TestExecutor_RejectsOtherOwnersRecords(t *testing.T) {
	t.Parallel()

	store := seededStore()
	executor := actions.NewExecutor(store, actions.NewLogMailer(testLogger()), time.Second, testLogger())
	action := mustParse(t, models.Action{Type: models.ActionAddContactTag, Config: map[string]any{"tag": "x"}})

	err := executor.Execute(context.Background(), action, actions.Target{UserID: "u2", EntityType: models.EntityContact, EntityID: "c1"})

	require.Error(t, err)
	assert.True(t, engineerr.IsNotFound(err))
	assert.Equal(t, 0, store.updateCount())
}
