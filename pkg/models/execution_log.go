package models

import "time"

// LogStatus is the outcome of one processing pass.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
	LogStatusSkipped LogStatus = "skipped"
)

// ExecutionLogEntry is the immutable trace of one processing pass.
type ExecutionLogEntry struct {
	ID                  string            `json:"id"`
	AutomationID        string            `json:"automationId"`
	EnrollmentID        string            `json:"enrollmentId,omitempty"`
	SessionID           string            `json:"sessionId,omitempty"`
	TriggerType         TriggerType       `json:"triggerType"`
	StepIndex           *int              `json:"stepIndex,omitempty"`
	StepType            StepType          `json:"stepType,omitempty"`
	Outcome             string            `json:"outcome,omitempty"`
	ConditionsEvaluated []ConditionResult `json:"conditionsEvaluated"`
	ActionsExecuted     []ActionResult    `json:"actionsExecuted"`
	Status              LogStatus         `json:"status"`
	Error               string            `json:"error,omitempty"`
	ExitReason          string            `json:"exitReason,omitempty"`
	ExecutedAt          time.Time         `json:"executedAt"`
}
