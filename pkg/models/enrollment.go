package models

import "time"

// EntityType is the kind of CRM record an enrollment tracks.
type EntityType string

const (
	EntityContact EntityType = "contact"
	EntityDeal    EntityType = "deal"
)

// IsValid checks if the entity type is valid.
func (t EntityType) IsValid() bool {
	return t == EntityContact || t == EntityDeal
}

// EnrollmentStatus is the state of an enrollment. Everything except active is terminal.
type EnrollmentStatus string

const (
	EnrollmentActive     EnrollmentStatus = "active"
	EnrollmentCompleted  EnrollmentStatus = "completed"
	EnrollmentFailed     EnrollmentStatus = "failed"
	EnrollmentUnenrolled EnrollmentStatus = "unenrolled"
)

// IsTerminal reports whether no further transitions are possible.
func (s EnrollmentStatus) IsTerminal() bool {
	return s != EnrollmentActive
}

// Metadata keys used by the engine.
const (
	MetadataErrorCount    = "errorCount"
	MetadataActivityCount = "activityCount"
	MetadataLastError     = "lastError"
	MetadataBranch        = "lastBranch"
)

// Enrollment is the execution cursor of one automation applied to one entity.
type Enrollment struct {
	ID               string           `json:"id"`
	AutomationID     string           `json:"automationId"`
	UserID           string           `json:"userId"`
	EntityType       EntityType       `json:"entityType"`
	EntityID         string           `json:"entityId"`
	Status           EnrollmentStatus `json:"status"`
	CurrentStepIndex int              `json:"currentStepIndex"`
	NextStepAt       *time.Time       `json:"nextStepAt,omitempty"`
	EnrolledAt       time.Time        `json:"enrolledAt"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
	ExitReason       string           `json:"exitReason,omitempty"`
	Error            string           `json:"error,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	ClaimedUntil     *time.Time       `json:"claimedUntil,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// IsDue reports whether an active enrollment should be processed at now.
func (e *Enrollment) IsDue(now time.Time) bool {
	if e.Status != EnrollmentActive || e.NextStepAt == nil {
		return false
	}

	if e.NextStepAt.After(now) {
		return false
	}

	return e.ClaimedUntil == nil || e.ClaimedUntil.Before(now)
}

// Counter reads an integer counter from metadata, accepting JSON-decoded numbers.
func (e *Enrollment) Counter(key string) int {
	switch v := e.Metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// IncrementCounter adds one to a metadata counter.
func (e *Enrollment) IncrementCounter(key string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}

	e.Metadata[key] = e.Counter(key) + 1
}

// Terminate moves the enrollment into a terminal status.
func (e *Enrollment) Terminate(status EnrollmentStatus, at time.Time, reason string) {
	e.Status = status
	e.CompletedAt = &at
	e.NextStepAt = nil
	e.ClaimedUntil = nil

	if reason != "" {
		e.ExitReason = reason
	}
}
