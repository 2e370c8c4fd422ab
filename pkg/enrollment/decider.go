// Package enrollment turns CRM events into enrollments.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/debugger"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

// Outcome is the decision taken for one automation.
type Outcome string

const (
	OutcomeEnrolled         Outcome = "enrolled"
	OutcomeAlreadyEnrolled  Outcome = "already_enrolled"
	OutcomeTriggerMismatch  Outcome = "trigger_mismatch"
	OutcomeConditionsNotMet Outcome = "conditions_not_met"
	OutcomeMissingEntity    Outcome = "missing_entity"
	OutcomeInvalid          Outcome = "invalid_automation"
)

// ReasonConditionsNotMet is the exit reason of an enrollment whose entry conditions failed.
const ReasonConditionsNotMet = "conditions_not_met"

// Result reports the decision for one candidate automation.
type Result struct {
	AutomationID string                   `json:"automationId"`
	Outcome      Outcome                  `json:"outcome"`
	Reason       string                   `json:"reason,omitempty"`
	Enrollment   *models.Enrollment       `json:"enrollment,omitempty"`
	Conditions   []models.ConditionResult `json:"conditions,omitempty"`
	SessionID    string                   `json:"sessionId"`
}

// Decider matches CRM events against active automations and creates enrollments.
type Decider struct {
	automations persistence.AutomationRepository
	enrollments persistence.EnrollmentRepository
	publisher   eventbus.EventPublisher
	tracer      *debugger.Tracer
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewDecider creates a decider. publisher may be nil, in which case no lifecycle events
// are published.
func NewDecider(
	automations persistence.AutomationRepository,
	enrollments persistence.EnrollmentRepository,
	publisher eventbus.EventPublisher,
	tracer *debugger.Tracer,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Decider {
	return &Decider{
		automations: automations,
		enrollments: enrollments,
		publisher:   publisher,
		tracer:      tracer,
		clock:       clock,
		logger:      logger.With("module", "enrollment_decider"),
	}
}

// OnEvent decides for every active automation of userID triggered by eventType. Storage
// failures of one automation do not stop the others; they are joined into the error.
func (d *Decider) OnEvent(ctx context.Context, eventType events.EventType, userID string, payload events.Payload) ([]Result, error) {
	trigger := eventType.TriggerType()
	if !trigger.IsValid() {
		return nil, fmt.Errorf("%w: %q is not a trigger", events.ErrInvalidEvent, eventType)
	}

	automations, err := d.automations.ActiveByTrigger(ctx, userID, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to load automations: %w", err)
	}

	results := make([]Result, 0, len(automations))

	var errs []error

	for _, automation := range automations {
		result, err := d.decide(ctx, automation, trigger, payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("automation %s: %w", automation.ID, err))

			continue
		}

		results = append(results, result)
	}

	return results, errors.Join(errs...)
}

func (d *Decider) decide(ctx context.Context, automation *models.Automation, trigger models.TriggerType, payload events.Payload) (Result, error) {
	session := d.tracer.StartSession(ctx, "enrollment decision",
		"automation_id", automation.ID,
		"trigger_type", trigger)
	result := Result{AutomationID: automation.ID, SessionID: session.ID}

	matched, reason := automation.Trigger.Match(payload.TriggerEvent(trigger))
	if !matched {
		session.Debug(ctx, "Trigger filter rejected event", "reason", reason)

		result.Outcome, result.Reason = OutcomeTriggerMismatch, reason

		return result, nil
	}

	entity := payload.Entity(trigger)
	if entity.ID() == "" {
		session.Warn(ctx, "Event payload has no entity for trigger", "entity_type", trigger.EntityType())

		result.Outcome = OutcomeMissingEntity

		return result, nil
	}

	err := automation.ValidateGraph()
	if err != nil {
		session.Warn(ctx, "Skipping invalid automation", "error", err)

		result.Outcome, result.Reason = OutcomeInvalid, err.Error()

		return result, nil
	}

	now := d.clock.Now().UTC()
	enrollment := &models.Enrollment{
		AutomationID: automation.ID,
		UserID:       automation.UserID,
		EntityType:   trigger.EntityType(),
		EntityID:     entity.ID(),
		Status:       models.EnrollmentActive,
		EnrolledAt:   now,
		Metadata:     map[string]any{},
		UpdatedAt:    now,
	}

	// Multi-step automations evaluate conditions in their own condition and branch steps.
	if !automation.IsMultiStep && len(automation.Conditions) > 0 {
		met, trace := conditions.EvaluateAllTraced(automation.Conditions, entity)
		result.Conditions = trace

		if !met {
			session.Debug(ctx, "Entry conditions not met", "entity_id", entity.ID())

			result.Outcome = OutcomeConditionsNotMet
			result.Enrollment = enrollment

			return result, d.recordSkipped(ctx, session, automation, enrollment, trace, now)
		}
	}

	nextStepAt := automation.DueAt(0, now)
	enrollment.NextStepAt = &nextStepAt

	err = d.enrollments.Create(ctx, enrollment)
	if err != nil {
		if errors.Is(err, persistence.ErrActiveEnrollmentExists) {
			session.Debug(ctx, "Entity already enrolled", "entity_id", entity.ID())

			result.Outcome = OutcomeAlreadyEnrolled

			return result, nil
		}

		return result, fmt.Errorf("failed to create enrollment: %w", err)
	}

	session.Info(ctx, "Entity enrolled",
		"enrollment_id", enrollment.ID,
		"entity_type", enrollment.EntityType,
		"entity_id", enrollment.EntityID,
		"next_step_at", nextStepAt)

	result.Outcome, result.Enrollment = OutcomeEnrolled, enrollment
	d.publish(ctx, enrollment, now)

	return result, nil
}

// recordSkipped stores a completed enrollment for an entity whose entry conditions failed,
// so the decision stays visible in the enrollment history and the execution log.
func (d *Decider) recordSkipped(
	ctx context.Context,
	session *debugger.Session,
	automation *models.Automation,
	enrollment *models.Enrollment,
	trace []models.ConditionResult,
	now time.Time,
) error {
	enrollment.Terminate(models.EnrollmentCompleted, now, ReasonConditionsNotMet)

	err := d.enrollments.Create(ctx, enrollment)
	if err != nil {
		return fmt.Errorf("failed to record skipped enrollment: %w", err)
	}

	stepIndex := 0

	err = session.Record(ctx, &models.ExecutionLogEntry{
		AutomationID:        automation.ID,
		EnrollmentID:        enrollment.ID,
		TriggerType:         automation.Trigger.Type,
		StepIndex:           &stepIndex,
		StepType:            models.StepTypeAction,
		Outcome:             models.BranchFalse,
		ConditionsEvaluated: trace,
		ActionsExecuted:     []models.ActionResult{},
		Status:              models.LogStatusSkipped,
		ExitReason:          ReasonConditionsNotMet,
		ExecutedAt:          now,
	})
	if err != nil {
		return err
	}

	d.publish(ctx, enrollment, now)

	return nil
}

func (d *Decider) publish(ctx context.Context, enrollment *models.Enrollment, now time.Time) {
	if d.publisher == nil {
		return
	}

	err := d.publisher.Publish(ctx, enrollment.ID, events.NewEnrollmentEvent(enrollment, now))
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish enrollment event", "enrollment_id", enrollment.ID, "error", err)
	}
}

// Register subscribes the decider to every CRM ingress event on the bus.
func (d *Decider) Register(bus eventbus.EventSubscriber) error {
	for _, eventType := range []events.EventType{
		events.ContactCreatedEvent,
		events.ContactUpdatedEvent,
		events.DealCreatedEvent,
		events.DealUpdatedEvent,
		events.DealStageChangedEvent,
	} {
		err := bus.Handle(eventType, d.handle)
		if err != nil {
			return fmt.Errorf("failed to register %s handler: %w", eventType, err)
		}
	}

	return nil
}

// handle drops malformed events, which would otherwise be redelivered forever, and
// returns storage errors so the bus redelivers the event.
func (d *Decider) handle(ctx context.Context, event any) error {
	entityEvent, ok := event.(*events.EntityEvent)
	if !ok {
		d.logger.WarnContext(ctx, "Unexpected event payload", "type", fmt.Sprintf("%T", event))

		return nil
	}

	err := entityEvent.Validate()
	if err != nil {
		d.logger.WarnContext(ctx, "Dropping invalid event", "event_id", entityEvent.ID, "error", err)

		return nil
	}

	results, err := d.OnEvent(ctx, entityEvent.Type, entityEvent.UserID, entityEvent.Data)

	d.logger.DebugContext(ctx, "Event processed",
		"event_id", entityEvent.ID,
		"event_type", entityEvent.Type,
		"decisions", len(results))

	return err
}
