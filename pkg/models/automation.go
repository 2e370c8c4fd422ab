// Package models defines the domain models of the CRM automation engine.
package models

import (
	"errors"
	"fmt"
	"time"
)

// SafetyConfig holds the safety-net exits, applied only when SafetyExitEnabled is set.
type SafetyConfig struct {
	MaxDurationDays   int  `json:"maxDurationDays,omitempty"   validate:"gte=0"`
	MaxErrors         int  `json:"maxErrors,omitempty"         validate:"gte=0"`
	ExitOnUnsubscribe bool `json:"exitOnUnsubscribe,omitempty"`
	ExitOnBounce      bool `json:"exitOnBounce,omitempty"`
}

// GoalType selects how a goal is evaluated.
type GoalType string

const (
	GoalFieldValue  GoalType = "field_value"
	GoalTagApplied  GoalType = "tag_applied"
	GoalDealValue   GoalType = "deal_value"
	GoalCustomField GoalType = "custom_field"
)

// MatchMode is used by tag goals.
type MatchMode string

const (
	MatchAny MatchMode = "ANY"
	MatchAll MatchMode = "ALL"
)

// Goal is a business outcome that ends an enrollment once reached.
type Goal struct {
	Name      string    `json:"name,omitempty"`
	Type      GoalType  `json:"type"                validate:"required,oneof=field_value tag_applied deal_value custom_field"`
	Field     string    `json:"field,omitempty"`
	Operator  Operator  `json:"operator,omitempty"`
	Value     any       `json:"value,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	MatchMode MatchMode `json:"matchMode,omitempty" validate:"omitempty,oneof=ANY ALL"`
}

// ExitCriteria are the rules that force-terminate an enrollment.
type ExitCriteria struct {
	Goals      []Goal       `json:"goals,omitempty"      validate:"dive"`
	Conditions []Condition  `json:"conditions,omitempty" validate:"dive"`
	Safety     SafetyConfig `json:"safety"`
}

// Automation is a user-defined rule: trigger + conditions + actions or steps.
type Automation struct {
	ID                string           `json:"id"`
	UserID            string           `json:"userId"                   validate:"required"`
	Name              string           `json:"name"                     validate:"required"`
	Trigger           Trigger          `json:"trigger"`
	Conditions        []Condition      `json:"conditions,omitempty"     validate:"dive"`
	Actions           []Action         `json:"actions,omitempty"        validate:"dive"`
	IsMultiStep       bool             `json:"isMultiStep"`
	Steps             []AutomationStep `json:"steps,omitempty"          validate:"dive"`
	IsActive          bool             `json:"isActive"`
	ExitCriteria      *ExitCriteria    `json:"exitCriteria,omitempty"`
	MaxDurationDays   *int             `json:"maxDurationDays,omitempty"`
	SafetyExitEnabled bool             `json:"safetyExitEnabled"`
	ExecutionCount    int64            `json:"executionCount"`
	LastExecutedAt    *time.Time       `json:"lastExecutedAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// EffectiveSteps returns the step graph the engine runs. A single-step automation is a
// graph of exactly one action step guarded by the automation conditions.
func (a *Automation) EffectiveSteps() []AutomationStep {
	if a.IsMultiStep {
		return a.Steps
	}

	return []AutomationStep{{
		StepIndex:  0,
		Type:       StepTypeAction,
		Actions:    a.Actions,
		Conditions: a.Conditions,
	}}
}

// StepAt returns the effective step with the given index.
func (a *Automation) StepAt(index int) (*AutomationStep, bool) {
	steps := a.EffectiveSteps()
	for i := range steps {
		if steps[i].StepIndex == index {
			return &steps[i], true
		}
	}

	return nil, false
}

// DueAt returns when the step at index becomes due if entered at now. Entering a delay
// step schedules it after its delay; every other step is due immediately.
func (a *Automation) DueAt(index int, now time.Time) time.Time {
	step, ok := a.StepAt(index)
	if ok && step.Type == StepTypeDelay && step.DelayConfig != nil {
		return now.Add(step.DelayConfig.Duration())
	}

	return now
}

var (
	ErrInvalidTrigger    = errors.New("invalid trigger type")
	ErrDuplicateStep     = errors.New("duplicate step index")
	ErrInvalidStep       = errors.New("invalid step")
	ErrDanglingSuccessor = errors.New("successor step does not exist")
)

// ValidateGraph checks the structural invariants struct tags cannot express: the
// trigger type is known, step indices are unique, each step carries the config its
// type needs, and every successor points at an existing step.
func (a *Automation) ValidateGraph() error {
	if !a.Trigger.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTrigger, a.Trigger.Type)
	}

	if !a.IsMultiStep {
		return nil
	}

	indices := make(map[int]struct{}, len(a.Steps))
	for _, step := range a.Steps {
		if _, exists := indices[step.StepIndex]; exists {
			return fmt.Errorf("%w: %d", ErrDuplicateStep, step.StepIndex)
		}

		indices[step.StepIndex] = struct{}{}
	}

	for _, step := range a.Steps {
		err := validateStep(step)
		if err != nil {
			return err
		}

		if step.NextStepIndex != nil {
			if _, ok := indices[*step.NextStepIndex]; !ok {
				return fmt.Errorf("%w: step %d -> %d", ErrDanglingSuccessor, step.StepIndex, *step.NextStepIndex)
			}
		}

		for outcome, target := range step.BranchStepIndices {
			if _, ok := indices[target]; !ok {
				return fmt.Errorf("%w: step %d [%s] -> %d", ErrDanglingSuccessor, step.StepIndex, outcome, target)
			}
		}
	}

	return nil
}

func validateStep(step AutomationStep) error {
	switch step.Type {
	case StepTypeAction:
		if len(step.Actions) == 0 {
			return fmt.Errorf("%w: action step %d has no actions", ErrInvalidStep, step.StepIndex)
		}
	case StepTypeDelay:
		if step.DelayConfig == nil {
			return fmt.Errorf("%w: delay step %d has no delayConfig", ErrInvalidStep, step.StepIndex)
		}
	case StepTypeCondition:
		if len(step.Conditions) == 0 {
			return fmt.Errorf("%w: condition step %d has no conditions", ErrInvalidStep, step.StepIndex)
		}
	case StepTypeBranch:
		if step.BranchConfig == nil || len(step.BranchConfig.Branches) == 0 {
			return fmt.Errorf("%w: branch step %d has no branches", ErrInvalidStep, step.StepIndex)
		}
	default:
		return fmt.Errorf("%w: step %d has unknown type %q", ErrInvalidStep, step.StepIndex, step.Type)
	}

	return nil
}
