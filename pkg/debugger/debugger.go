package debugger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/engineerr"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// ErrMissingEntity is returned by DryRun when the sample lacks the entity the trigger enrolls.
var ErrMissingEntity = errors.New("sample has no entity for the trigger")

// Debugger is the operator query surface over the execution trace.
type Debugger struct {
	automations persistence.AutomationRepository
	logs        persistence.ExecutionLogRepository
	tracer      *Tracer
}

func New(automations persistence.AutomationRepository, logs persistence.ExecutionLogRepository, tracer *Tracer) *Debugger {
	return &Debugger{automations: automations, logs: logs, tracer: tracer}
}

// AutomationLogs returns the newest entries of an automation first.
func (d *Debugger) AutomationLogs(ctx context.Context, automationID string, limit int) ([]*models.ExecutionLogEntry, error) {
	return d.logs.ByAutomation(ctx, automationID, limit)
}

// EnrollmentLogs returns the entries of one enrollment in execution order.
func (d *Debugger) EnrollmentLogs(ctx context.Context, enrollmentID string) ([]*models.ExecutionLogEntry, error) {
	return d.logs.ByEnrollment(ctx, enrollmentID)
}

// SessionLines returns the buffered debug lines of one session.
func (d *Debugger) SessionLines(sessionID string) []Line {
	return d.tracer.Session(sessionID)
}

// Sample is the input of a dry run. An empty EventType means the automation's own trigger.
type Sample struct {
	EventType events.EventType `json:"eventType,omitempty"`
	Data      events.Payload   `json:"data"`
}

// StepPreview is what one step would do with the sample.
type StepPreview struct {
	StepIndex     int                      `json:"stepIndex"`
	Type          models.StepType          `json:"type"`
	Conditions    []models.ConditionResult `json:"conditions,omitempty"`
	ConditionsMet *bool                    `json:"conditionsMet,omitempty"`
	Outcome       string                   `json:"outcome,omitempty"`
	Actions       []models.Action          `json:"actions,omitempty"`
	InvalidConfig []string                 `json:"invalidConfig,omitempty"`
	Delay         time.Duration            `json:"delay,omitempty"`
	NextStepIndex *int                     `json:"nextStepIndex,omitempty"`
}

// DryRunResult reports whether the sample would enroll and which path it would take.
type DryRunResult struct {
	SessionID      string                   `json:"sessionId"`
	TriggerMatched bool                     `json:"triggerMatched"`
	TriggerReason  string                   `json:"triggerReason,omitempty"`
	ConditionsMet  bool                     `json:"conditionsMet"`
	Conditions     []models.ConditionResult `json:"conditions"`
	WouldEnroll    bool                     `json:"wouldEnroll"`
	Steps          []StepPreview            `json:"steps"`
}

// DryRunByID loads an automation and dry-runs it.
func (d *Debugger) DryRunByID(ctx context.Context, automationID string, sample Sample) (*DryRunResult, error) {
	automation, err := d.automations.ByID(ctx, automationID)
	if err != nil {
		if errors.Is(err, persistence.ErrAutomationNotFound) {
			return nil, engineerr.NotFound("DryRun", err)
		}

		return nil, err
	}

	return d.DryRun(ctx, automation, sample)
}

// DryRun evaluates the trigger and every condition the sample would meet, following the
// step graph, without executing any action or writing any state.
func (d *Debugger) DryRun(ctx context.Context, automation *models.Automation, sample Sample) (*DryRunResult, error) {
	err := automation.ValidateGraph()
	if err != nil {
		return nil, engineerr.Validation("DryRun", err)
	}

	trigger := automation.Trigger.Type
	if sample.EventType != "" {
		trigger = sample.EventType.TriggerType()
	}

	entity := sample.Data.Entity(automation.Trigger.Type)
	if entity == nil {
		return nil, engineerr.Validation("DryRun", fmt.Errorf("%w: %s", ErrMissingEntity, automation.Trigger.Type.EntityType()))
	}

	session := d.tracer.StartSession(ctx, "dry run", "automation_id", automation.ID)
	result := &DryRunResult{SessionID: session.ID, Conditions: []models.ConditionResult{}, Steps: []StepPreview{}}

	result.TriggerMatched, result.TriggerReason = automation.Trigger.Match(sample.Data.TriggerEvent(trigger))
	session.Debug(ctx, "Trigger evaluated", "matched", result.TriggerMatched, "reason", result.TriggerReason)

	result.ConditionsMet = true
	if !automation.IsMultiStep {
		result.ConditionsMet, result.Conditions = conditions.EvaluateAllTraced(automation.Conditions, entity)
		session.Debug(ctx, "Entry conditions evaluated", "met", result.ConditionsMet)
	}

	result.WouldEnroll = result.TriggerMatched && result.ConditionsMet
	if !result.WouldEnroll {
		return result, nil
	}

	result.Steps = previewPath(automation, entity)
	session.Debug(ctx, "Step path previewed", "steps", len(result.Steps))

	return result, nil
}

// previewPath walks the step graph from step 0. A step reached twice ends the walk.
func previewPath(automation *models.Automation, entity models.Record) []StepPreview {
	previews := make([]StepPreview, 0)
	visited := make(map[int]bool)
	index := 0

	for {
		step, ok := automation.StepAt(index)
		if !ok || visited[index] {
			return previews
		}

		visited[index] = true
		preview := previewStep(step, entity)
		previews = append(previews, preview)

		if preview.NextStepIndex == nil {
			return previews
		}

		index = *preview.NextStepIndex
	}
}

func previewStep(step *models.AutomationStep, entity models.Record) StepPreview {
	preview := StepPreview{StepIndex: step.StepIndex, Type: step.Type}
	outcome := ""

	switch step.Type {
	case models.StepTypeAction:
		if len(step.Conditions) > 0 {
			met, results := conditions.EvaluateAllTraced(step.Conditions, entity)
			preview.Conditions, preview.ConditionsMet = results, &met

			if !met {
				outcome = models.BranchFalse

				break
			}
		}

		preview.Actions = step.Actions

		for _, raw := range step.Actions {
			_, err := actions.Parse(raw)
			if err != nil {
				preview.InvalidConfig = append(preview.InvalidConfig, err.Error())
			}
		}
	case models.StepTypeDelay:
		if step.DelayConfig != nil {
			preview.Delay = step.DelayConfig.Duration()
		}
	case models.StepTypeCondition:
		met, results := conditions.EvaluateAllTraced(step.Conditions, entity)
		preview.Conditions, preview.ConditionsMet = results, &met

		if !met {
			outcome = models.BranchFalse
		}
	case models.StepTypeBranch:
		outcome, preview.Conditions = conditions.SelectBranch(step.BranchConfig, entity)
	}

	preview.Outcome = outcome

	if next, ok := step.Successor(outcome); ok {
		preview.NextStepIndex = &next
	}

	return preview
}
