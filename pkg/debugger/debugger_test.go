package debugger_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/debugger"
	"github.com/dukex/crmflow/pkg/engineerr"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDebugger(t *testing.T, automations ...*models.Automation) (*debugger.Debugger, *file.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	for _, automation := range automations {
		require.NoError(t, store.Automations().Save(context.Background(), automation))
	}

	tracer := debugger.NewTracer(store.ExecutionLogs(), clockwork.NewFakeClockAt(now), slog.New(slog.DiscardHandler), 0)

	return debugger.New(store.Automations(), store.ExecutionLogs(), tracer), store
}

func websiteAutomation() *models.Automation {
	return testutil.CreateTestAutomation(
		testutil.WithID("website"),
		testutil.WithConditions(testutil.Equals("source", "Website")),
		testutil.WithActions(testutil.AddTag("web-lead")),
	)
}

func contactSample(source string) debugger.Sample {
	return debugger.Sample{Data: events.Payload{Contact: testutil.Contact("c1", map[string]any{"source": source})}}
}

func TestDryRun_SingleStep(t *testing.T) {
	t.Parallel()

	d, store := newDebugger(t, websiteAutomation())
	ctx := context.Background()

	result, err := d.DryRunByID(ctx, "website", contactSample("Website"))
	require.NoError(t, err)
	assert.True(t, result.TriggerMatched)
	assert.True(t, result.ConditionsMet)
	assert.True(t, result.WouldEnroll)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, []models.Action{testutil.AddTag("web-lead")}, result.Steps[0].Actions)
	assert.Empty(t, result.Steps[0].InvalidConfig)
	assert.NotEmpty(t, d.SessionLines(result.SessionID))

	result, err = d.DryRunByID(ctx, "website", contactSample("Referral"))
	require.NoError(t, err)
	assert.False(t, result.ConditionsMet)
	assert.False(t, result.WouldEnroll)
	require.Len(t, result.Conditions, 1)
	assert.False(t, result.Conditions[0].Result)
	assert.Empty(t, result.Steps)

	enrollments, err := store.Enrollments().ByAutomation(ctx, "website")
	require.NoError(t, err)
	assert.Empty(t, enrollments, "a dry run never writes state")
}

func TestDryRun_TriggerMismatch(t *testing.T) {
	t.Parallel()

	d, _ := newDebugger(t, websiteAutomation())

	sample := contactSample("Website")
	sample.EventType = events.ContactUpdatedEvent

	result, err := d.DryRunByID(context.Background(), "website", sample)
	require.NoError(t, err)
	assert.False(t, result.TriggerMatched)
	assert.Equal(t, models.MatchWrongType, result.TriggerReason)
	assert.False(t, result.WouldEnroll)
}

func TestDryRun_MultiStepPath(t *testing.T) {
	t.Parallel()

	branches := &models.BranchConfig{
		Branches: []models.Branch{
			{Name: "vip", Conditions: []models.Condition{{Field: "tags", Operator: models.OperatorHasTag, Value: "vip"}}},
		},
		DefaultBranch: "regular",
	}

	automation := testutil.CreateTestAutomation(testutil.WithSteps(
		testutil.ActionStep(0, 1, testutil.AddTag("welcomed")),
		testutil.DelayStep(1, 2, 3, models.DelayDays),
		testutil.BranchStep(2, branches, map[string]int{"vip": 3, "regular": 4}),
		testutil.ActionStep(3, -1, testutil.AddTag("vip-offer")),
		testutil.ActionStep(4, -1, models.Action{Type: models.ActionAddContactTag, Config: map[string]any{}}),
	))
	d, _ := newDebugger(t)

	sample := debugger.Sample{Data: events.Payload{Contact: testutil.Contact("c1", map[string]any{"tags": []any{"new"}})}}

	result, err := d.DryRun(context.Background(), automation, sample)
	require.NoError(t, err)
	require.True(t, result.WouldEnroll)
	require.Len(t, result.Steps, 4)

	indices := make([]int, 0, len(result.Steps))
	for _, step := range result.Steps {
		indices = append(indices, step.StepIndex)
	}

	assert.Equal(t, []int{0, 1, 2, 4}, indices)
	assert.Equal(t, 72*time.Hour, result.Steps[1].Delay)
	assert.Equal(t, "regular", result.Steps[2].Outcome)
	assert.Len(t, result.Steps[3].InvalidConfig, 1)
	assert.Nil(t, result.Steps[3].NextStepIndex)
}

func TestDryRun_Errors(t *testing.T) {
	t.Parallel()

	d, _ := newDebugger(t)
	ctx := context.Background()

	_, err := d.DryRunByID(ctx, "missing", contactSample("Website"))
	assert.True(t, engineerr.IsNotFound(err))

	_, err = d.DryRun(ctx, websiteAutomation(), debugger.Sample{})
	assert.True(t, engineerr.IsValidation(err))
	assert.ErrorIs(t, err, debugger.ErrMissingEntity)

	invalid := testutil.CreateTestAutomation(testutil.WithSteps(testutil.ActionStep(0, 9, testutil.AddTag("x"))))
	_, err = d.DryRun(ctx, invalid, contactSample("Website"))
	assert.True(t, engineerr.IsValidation(err))
}
