// Package exitcriteria decides whether an active enrollment must terminate before its
// next step runs.
package exitcriteria

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/suppression"
	"github.com/jonboulle/clockwork"
)

// Kind is the family of rule that caused an exit, in precedence order.
type Kind string

const (
	KindGoal      Kind = "goal"
	KindCondition Kind = "condition"
	KindTime      Kind = "time"
	KindSafety    Kind = "safety"
)

// Exit reasons recorded on the enrollment.
const (
	ReasonGoalPrefix         = "goal_met"
	ReasonExitCondition      = "exit_condition_met"
	ReasonMaxDuration        = "max_duration_exceeded"
	ReasonSafetyMaxDuration  = "safety_max_duration"
	ReasonSafetyMaxErrors    = "safety_max_errors"
	ReasonSafetyUnsubscribed = "safety_unsubscribed"
	ReasonSafetyBounced      = "safety_bounced"
)

const day = 24 * time.Hour

// Result is the verdict of Check.
type Result struct {
	ShouldExit bool
	Reason     string
	Kind       Kind
}

// Evaluator checks exit criteria.
type Evaluator struct {
	suppression suppression.Checker
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewEvaluator creates an evaluator. checker may be nil, in which case suppression exits never fire.
func NewEvaluator(checker suppression.Checker, clock clockwork.Clock, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		suppression: checker,
		clock:       clock,
		logger:      logger.With("module", "exit_criteria"),
	}
}

// Check evaluates goals, then exit conditions, then the automation time limit, then the
// safety net. The first match wins.
func (e *Evaluator) Check(ctx context.Context, enrollment *models.Enrollment, automation *models.Automation, entity models.Record) Result {
	criteria := automation.ExitCriteria
	if criteria == nil {
		criteria = &models.ExitCriteria{}
	}

	for _, goal := range criteria.Goals {
		if GoalMet(goal, entity) {
			return Result{ShouldExit: true, Reason: goalReason(goal), Kind: KindGoal}
		}
	}

	if len(criteria.Conditions) > 0 && conditions.EvaluateAll(criteria.Conditions, entity) {
		return Result{ShouldExit: true, Reason: ReasonExitCondition, Kind: KindCondition}
	}

	elapsed := e.clock.Since(enrollment.EnrolledAt)

	if automation.MaxDurationDays != nil && *automation.MaxDurationDays > 0 &&
		elapsed >= time.Duration(*automation.MaxDurationDays)*day {
		return Result{ShouldExit: true, Reason: ReasonMaxDuration, Kind: KindTime}
	}

	if !automation.SafetyExitEnabled {
		return Result{}
	}

	return e.checkSafety(ctx, criteria.Safety, enrollment, entity, elapsed)
}

func (e *Evaluator) checkSafety(ctx context.Context, safety models.SafetyConfig, enrollment *models.Enrollment, entity models.Record, elapsed time.Duration) Result {
	if safety.MaxDurationDays > 0 && elapsed >= time.Duration(safety.MaxDurationDays)*day {
		return Result{ShouldExit: true, Reason: ReasonSafetyMaxDuration, Kind: KindSafety}
	}

	if safety.MaxErrors > 0 && enrollment.Counter(models.MetadataErrorCount) >= safety.MaxErrors {
		return Result{ShouldExit: true, Reason: ReasonSafetyMaxErrors, Kind: KindSafety}
	}

	if e.suppression == nil || (!safety.ExitOnUnsubscribe && !safety.ExitOnBounce) {
		return Result{}
	}

	email := entityEmail(entity)
	if email == "" {
		return Result{}
	}

	checks := []struct {
		enabled bool
		reason  suppression.Reason
		exit    string
	}{
		{enabled: safety.ExitOnUnsubscribe, reason: suppression.Unsubscribe, exit: ReasonSafetyUnsubscribed},
		{enabled: safety.ExitOnBounce, reason: suppression.Bounce, exit: ReasonSafetyBounced},
	}

	for _, check := range checks {
		if !check.enabled {
			continue
		}

		suppressed, err := e.suppression.IsSuppressed(ctx, email, check.reason)
		if err != nil {
			e.logger.WarnContext(ctx, "Suppression check failed, not exiting",
				"enrollment_id", enrollment.ID, "reason", check.reason, "error", err)

			continue
		}

		if suppressed {
			return Result{ShouldExit: true, Reason: check.exit, Kind: KindSafety}
		}
	}

	return Result{}
}

// entityEmail reads the address of a contact, or of the contact nested in a deal snapshot.
func entityEmail(entity models.Record) string {
	if email := entity.String(models.FieldEmail); email != "" {
		return email
	}

	if contact, ok := entity[string(models.EntityContact)].(map[string]any); ok {
		return models.Record(contact).String(models.FieldEmail)
	}

	return ""
}

func goalReason(goal models.Goal) string {
	if goal.Name != "" {
		return fmt.Sprintf("%s:%s", ReasonGoalPrefix, goal.Name)
	}

	return fmt.Sprintf("%s:%s", ReasonGoalPrefix, goal.Type)
}

// GoalMet reports whether an entity has reached a goal.
func GoalMet(goal models.Goal, entity models.Record) bool {
	switch goal.Type {
	case models.GoalFieldValue:
		return conditions.Match(operatorOr(goal.Operator, models.OperatorEquals), conditions.Resolve(goal.Field, entity), goal.Value)
	case models.GoalCustomField:
		field := goal.Field
		if !strings.HasPrefix(field, models.FieldCustomFields+".") {
			field = models.FieldCustomFields + "." + field
		}

		return conditions.Match(operatorOr(goal.Operator, models.OperatorEquals), conditions.Resolve(field, entity), goal.Value)
	case models.GoalDealValue:
		field := goal.Field
		if field == "" {
			field = models.FieldValue
		}

		return conditions.Match(operatorOr(goal.Operator, models.OperatorGreaterOrEqual), conditions.Resolve(field, entity), goal.Value)
	case models.GoalTagApplied:
		return tagsApplied(goal, entity.Tags())
	default:
		return false
	}
}

func operatorOr(operator, fallback models.Operator) models.Operator {
	if operator == "" {
		return fallback
	}

	return operator
}

func tagsApplied(goal models.Goal, tags []string) bool {
	wanted := goal.Tags
	if len(wanted) == 0 && goal.Value != nil {
		wanted = []string{conditions.Stringify(goal.Value)}
	}

	if len(wanted) == 0 {
		return false
	}

	present := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		present[tag] = struct{}{}
	}

	matched := 0

	for _, tag := range wanted {
		if _, ok := present[tag]; ok {
			matched++
		}
	}

	if goal.MatchMode == models.MatchAll {
		return matched == len(wanted)
	}

	return matched > 0
}
