// Package executor advances one enrollment by one step.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/debugger"
	"github.com/dukex/crmflow/pkg/engineerr"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/exitcriteria"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRetryDelay is how long an enrollment waits after a storage error before it is due again.
const DefaultRetryDelay = time.Minute

// Exit reasons set by the executor.
const (
	ReasonConditionsNotMet      = "conditions_not_met"
	ReasonNoBranchMatched       = "no_branch_matched"
	ReasonAutomationDeactivated = "automation_deactivated"
	ReasonStepMissing           = "step_missing"
)

// Executor runs the step an enrollment is positioned on and moves the cursor.
type Executor struct {
	automations persistence.AutomationRepository
	enrollments persistence.EnrollmentRepository
	records     persistence.RecordRepository
	actions     *actions.Executor
	exits       *exitcriteria.Evaluator
	publisher   eventbus.EventPublisher
	tracer      *debugger.Tracer
	otel        trace.Tracer
	clock       clockwork.Clock
	retryDelay  time.Duration
	logger      *slog.Logger
}

func NewExecutor(
	store persistence.Persistence,
	actionExecutor *actions.Executor,
	exits *exitcriteria.Evaluator,
	publisher eventbus.EventPublisher,
	tracer *debugger.Tracer,
	otelTracer trace.Tracer,
	clock clockwork.Clock,
	retryDelay time.Duration,
	logger *slog.Logger,
) *Executor {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	return &Executor{
		automations: store.Automations(),
		enrollments: store.Enrollments(),
		records:     store.Records(),
		actions:     actionExecutor,
		exits:       exits,
		publisher:   publisher,
		tracer:      tracer,
		otel:        otelTracer,
		clock:       clock,
		retryDelay:  retryDelay,
		logger:      logger.With("module", "step_executor"),
	}
}

// pass carries the state of one Process call.
type pass struct {
	enrollment *models.Enrollment
	automation *models.Automation
	session    *debugger.Session
	entry      *models.ExecutionLogEntry
	now        time.Time
	counted    bool
}

// Process runs exit criteria and then the current step of an active enrollment, and saves
// the resulting cursor. Failures that belong to the enrollment (bad config, missing
// records, failed actions) terminate it and return nil; only storage errors are returned.
func (e *Executor) Process(ctx context.Context, enrollment *models.Enrollment) error {
	ctx, span := otelhelper.StartSpan(ctx, e.otel, "enrollment.process",
		attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
		attribute.String(otelhelper.AutomationIDKey, enrollment.AutomationID),
		attribute.Int(otelhelper.StepIndexKey, enrollment.CurrentStepIndex),
	)
	defer span.End()

	p := &pass{
		enrollment: enrollment,
		session: e.tracer.StartSession(ctx, "step",
			"enrollment_id", enrollment.ID,
			"automation_id", enrollment.AutomationID),
		now: e.clock.Now().UTC(),
	}
	p.entry = &models.ExecutionLogEntry{
		AutomationID:        enrollment.AutomationID,
		EnrollmentID:        enrollment.ID,
		ConditionsEvaluated: []models.ConditionResult{},
		ActionsExecuted:     []models.ActionResult{},
		ExecutedAt:          p.now,
	}

	err := e.process(ctx, p)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID))
	}

	return err
}

func (e *Executor) process(ctx context.Context, p *pass) error {
	automation, err := e.automations.ByID(ctx, p.enrollment.AutomationID)
	if err != nil {
		if errors.Is(err, persistence.ErrAutomationNotFound) {
			return e.fail(ctx, p, engineerr.NotFound("LoadAutomation", err))
		}

		return e.retry(ctx, p, fmt.Errorf("failed to load automation: %w", err))
	}

	p.automation = automation
	p.entry.TriggerType = automation.Trigger.Type

	if !automation.IsActive {
		p.entry.Status = models.LogStatusSkipped

		return e.complete(ctx, p, ReasonAutomationDeactivated)
	}

	entity, err := e.records.FindRecord(ctx, p.enrollment.EntityType, p.enrollment.EntityID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return e.fail(ctx, p, engineerr.NotFound("LoadEntity", err))
		}

		return e.retry(ctx, p, fmt.Errorf("failed to load %s: %w", p.enrollment.EntityType, err))
	}

	err = automation.ValidateGraph()
	if err != nil {
		return e.fail(ctx, p, engineerr.Validation("ValidateGraph", err))
	}

	exit := e.exits.Check(ctx, p.enrollment, automation, entity)
	if exit.ShouldExit {
		p.session.Info(ctx, "Exit criteria met", "reason", exit.Reason, "kind", exit.Kind)
		p.entry.Status = models.LogStatusSkipped

		return e.complete(ctx, p, exit.Reason)
	}

	step, ok := automation.StepAt(p.enrollment.CurrentStepIndex)
	if !ok {
		p.session.Debug(ctx, "No step at cursor, completing", "step_index", p.enrollment.CurrentStepIndex)
		p.entry.Status = models.LogStatusSkipped

		return e.complete(ctx, p, ReasonStepMissing)
	}

	return e.runStep(ctx, p, step, entity)
}

func (e *Executor) runStep(ctx context.Context, p *pass, step *models.AutomationStep, entity models.Record) error {
	stepIndex := step.StepIndex
	p.entry.StepIndex = &stepIndex
	p.entry.StepType = step.Type
	p.entry.Status = models.LogStatusSuccess

	outcome := ""

	switch step.Type {
	case models.StepTypeAction:
		if len(step.Conditions) > 0 {
			met, evaluated := conditions.EvaluateAllTraced(step.Conditions, entity)
			p.entry.ConditionsEvaluated = evaluated

			if !met {
				outcome = models.BranchFalse
				p.entry.Status = models.LogStatusSkipped

				break
			}
		}

		results, err := e.actions.ExecuteAll(ctx, step.Actions, actions.Target{
			UserID:     p.enrollment.UserID,
			EntityType: p.enrollment.EntityType,
			EntityID:   p.enrollment.EntityID,
		})
		p.entry.ActionsExecuted = results

		if err != nil {
			return e.fail(ctx, p, err)
		}

		p.enrollment.IncrementCounter(models.MetadataActivityCount)
	case models.StepTypeDelay:
		// The wait was applied when the step was entered.
	case models.StepTypeCondition:
		met, evaluated := conditions.EvaluateAllTraced(step.Conditions, entity)
		p.entry.ConditionsEvaluated = evaluated

		if !met {
			outcome = models.BranchFalse
		}
	case models.StepTypeBranch:
		branch, evaluated := conditions.SelectBranch(step.BranchConfig, entity)
		p.entry.ConditionsEvaluated = evaluated
		outcome = branch

		if p.enrollment.Metadata == nil {
			p.enrollment.Metadata = make(map[string]any)
		}

		p.enrollment.Metadata[models.MetadataBranch] = branch
	default:
		return e.fail(ctx, p, engineerr.Validation("RunStep", fmt.Errorf("unknown step type %q", step.Type)))
	}

	p.entry.Outcome = outcome
	p.session.Debug(ctx, "Step executed", "step_index", stepIndex, "step_type", step.Type, "outcome", outcome)

	next, ok := step.Successor(outcome)
	if !ok {
		switch {
		case outcome == models.BranchFalse:
			return e.complete(ctx, p, ReasonConditionsNotMet)
		case step.Type == models.StepTypeBranch && outcome == "":
			return e.complete(ctx, p, ReasonNoBranchMatched)
		default:
			p.counted = true

			return e.complete(ctx, p, "")
		}
	}

	nextStepAt := p.automation.DueAt(next, p.now)
	p.enrollment.CurrentStepIndex = next
	p.enrollment.NextStepAt = &nextStepAt

	return e.save(ctx, p)
}

// complete terminates the enrollment as completed. Reaching the end of the step path
// (p.counted) also bumps the automation completion counter.
func (e *Executor) complete(ctx context.Context, p *pass, reason string) error {
	p.enrollment.Terminate(models.EnrollmentCompleted, p.now, reason)
	p.entry.ExitReason = reason

	return e.save(ctx, p)
}

// fail terminates the enrollment as failed and records the error on it.
func (e *Executor) fail(ctx context.Context, p *pass, cause error) error {
	p.session.Error(ctx, "Enrollment failed", "error", cause, "kind", engineerr.KindOf(cause))

	p.enrollment.IncrementCounter(models.MetadataErrorCount)
	p.enrollment.Metadata[models.MetadataLastError] = cause.Error()
	p.enrollment.Error = cause.Error()
	p.enrollment.Terminate(models.EnrollmentFailed, p.now, "")

	p.entry.Status = models.LogStatusFailed
	p.entry.Error = cause.Error()

	return e.save(ctx, p)
}

// retry keeps the enrollment active and due again after the retry delay, and logs the
// pass as failed. Errors counted here feed the safety net's error limit.
func (e *Executor) retry(ctx context.Context, p *pass, cause error) error {
	p.session.Warn(ctx, "Step deferred after storage error", "error", cause)

	next := p.now.Add(e.retryDelay)
	p.enrollment.IncrementCounter(models.MetadataErrorCount)
	p.enrollment.Metadata[models.MetadataLastError] = cause.Error()
	p.enrollment.NextStepAt = &next
	p.enrollment.UpdatedAt = p.now

	p.entry.Status = models.LogStatusFailed
	p.entry.Error = cause.Error()

	err := e.enrollments.SaveProgress(ctx, p.enrollment)

	logErr := p.session.Record(ctx, p.entry)
	if logErr != nil {
		e.logger.ErrorContext(ctx, "Execution log lost", "enrollment_id", p.enrollment.ID, "error", logErr)
	}

	if err != nil && !errors.Is(err, persistence.ErrEnrollmentNotActive) {
		return errors.Join(cause, err)
	}

	return cause
}

// Fail terminates an enrollment whose processing broke outside the step logic, such as a
// recovered panic.
func (e *Executor) Fail(ctx context.Context, enrollment *models.Enrollment, cause error) error {
	p := &pass{
		enrollment: enrollment,
		session:    e.tracer.StartSession(ctx, "step", "enrollment_id", enrollment.ID, "automation_id", enrollment.AutomationID),
		now:        e.clock.Now().UTC(),
	}
	p.entry = &models.ExecutionLogEntry{
		AutomationID:        enrollment.AutomationID,
		EnrollmentID:        enrollment.ID,
		ConditionsEvaluated: []models.ConditionResult{},
		ActionsExecuted:     []models.ActionResult{},
		ExecutedAt:          p.now,
	}

	return e.fail(ctx, p, engineerr.ActionError("Process", engineerr.CodeExecutionFailed, cause))
}

// save writes the cursor, appends the log entry and, for terminal transitions, bumps the
// counter and publishes the lifecycle event. An enrollment unenrolled while this pass ran
// keeps its unenrolled status.
func (e *Executor) save(ctx context.Context, p *pass) error {
	p.enrollment.UpdatedAt = p.now

	err := e.enrollments.SaveProgress(ctx, p.enrollment)

	logErr := p.session.Record(ctx, p.entry)
	if logErr != nil {
		e.logger.ErrorContext(ctx, "Execution log lost", "enrollment_id", p.enrollment.ID, "error", logErr)
	}

	if err != nil {
		if errors.Is(err, persistence.ErrEnrollmentNotActive) {
			p.session.Warn(ctx, "Enrollment left active state during processing, result discarded")

			return nil
		}

		return fmt.Errorf("failed to save enrollment: %w", err)
	}

	if !p.enrollment.Status.IsTerminal() {
		return nil
	}

	p.session.Info(ctx, "Enrollment finished",
		"status", p.enrollment.Status,
		"exit_reason", p.enrollment.ExitReason)

	if p.counted {
		err = e.automations.RecordExecution(ctx, p.enrollment.AutomationID, p.now)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to record automation execution", "automation_id", p.enrollment.AutomationID, "error", err)
		}
	}

	if e.publisher != nil {
		err = e.publisher.Publish(ctx, p.enrollment.ID, events.NewEnrollmentEvent(p.enrollment, p.now))
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to publish enrollment event", "enrollment_id", p.enrollment.ID, "error", err)
		}
	}

	return nil
}
