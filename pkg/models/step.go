package models

import "time"

// StepType is the kind of node in a multi-step automation.
type StepType string

const (
	StepTypeAction    StepType = "action"
	StepTypeDelay     StepType = "delay"
	StepTypeCondition StepType = "condition"
	StepTypeBranch    StepType = "branch"
)

// IsValid checks if the step type is valid.
func (t StepType) IsValid() bool {
	switch t {
	case StepTypeAction, StepTypeDelay, StepTypeCondition, StepTypeBranch:
		return true
	default:
		return false
	}
}

// DelayUnit is the unit of a delay step.
type DelayUnit string

const (
	DelayMinutes DelayUnit = "minutes"
	DelayHours   DelayUnit = "hours"
	DelayDays    DelayUnit = "days"
)

// DelayConfig is the wait encoded by a delay step.
type DelayConfig struct {
	Value int       `json:"value" validate:"gte=0"`
	Unit  DelayUnit `json:"unit"  validate:"required,oneof=minutes hours days"`
}

// Duration converts the delay into a time.Duration.
func (d DelayConfig) Duration() time.Duration {
	value := time.Duration(d.Value)

	switch d.Unit {
	case DelayMinutes:
		return value * time.Minute
	case DelayHours:
		return value * time.Hour
	case DelayDays:
		return value * 24 * time.Hour
	default:
		return 0
	}
}

// Branch is one candidate outcome of a branch step.
type Branch struct {
	Name       string      `json:"name"       validate:"required"`
	Conditions []Condition `json:"conditions" validate:"dive"`
}

// BranchConfig lists branches evaluated in order; DefaultBranch is taken when none match.
type BranchConfig struct {
	Branches      []Branch `json:"branches"                validate:"dive"`
	DefaultBranch string   `json:"defaultBranch,omitempty"`
}

// BranchFalse is the outcome label a failed condition step routes through.
const BranchFalse = "false"

// AutomationStep is one node of a multi-step automation.
type AutomationStep struct {
	ID                string         `json:"id,omitempty"`
	StepIndex         int            `json:"stepIndex"                   validate:"gte=0"`
	Type              StepType       `json:"type"                        validate:"required"`
	Actions           []Action       `json:"actions,omitempty"           validate:"dive"`
	DelayConfig       *DelayConfig   `json:"delayConfig,omitempty"`
	Conditions        []Condition    `json:"conditions,omitempty"        validate:"dive"`
	BranchConfig      *BranchConfig  `json:"branchConfig,omitempty"`
	NextStepIndex     *int           `json:"nextStepIndex,omitempty"`
	BranchStepIndices map[string]int `json:"branchStepIndices,omitempty"`
}

// Successor resolves the step index that follows an outcome label. An empty outcome means
// plain progression through NextStepIndex, except on branch steps, which only route through
// their outcome. The second return is false when the step is terminal.
func (s *AutomationStep) Successor(outcome string) (int, bool) {
	if outcome != "" {
		index, ok := s.BranchStepIndices[outcome]

		return index, ok
	}

	if s.NextStepIndex == nil || s.Type == StepTypeBranch {
		return 0, false
	}

	return *s.NextStepIndex, true
}
