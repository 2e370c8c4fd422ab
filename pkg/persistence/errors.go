// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrAutomationNotFound indicates an automation was not found by the given identifier.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found by the given identifier.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrActiveEnrollmentExists indicates the (automation, entity) pair already has an active enrollment.
	ErrActiveEnrollmentExists = errors.New("active enrollment already exists")

	// ErrEnrollmentNotActive indicates a progress write lost against a terminal transition.
	ErrEnrollmentNotActive = errors.New("enrollment is not active")

	// ErrRecordNotFound indicates a CRM record was not found.
	ErrRecordNotFound = errors.New("record not found")

	// ErrStageNotFound indicates a pipeline stage was not found.
	ErrStageNotFound = errors.New("stage not found")

	// ErrPositionNotFound indicates a job position was not found.
	ErrPositionNotFound = errors.New("position not found")
)

// EnrollmentError wraps enrollment-related errors with additional context.
type EnrollmentError struct {
	Op           string // Operation being performed (e.g., "Create", "SaveProgress", "Unenroll")
	EnrollmentID string // Enrollment ID if applicable
	AutomationID string // Automation ID if applicable
	Err          error  // Underlying error
}

func (e *EnrollmentError) Error() string {
	target := e.EnrollmentID
	if target == "" {
		target = fmt.Sprintf("automation %s", e.AutomationID)
	}

	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, target, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for enrollment errors.
func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates a new enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{
		Op:           op,
		EnrollmentID: enrollmentID,
		Err:          err,
	}
}

// RecordError wraps CRM record errors with additional context.
type RecordError struct {
	Op         string // Operation being performed
	EntityType string // contact, deal, stage or position
	ID         string // Record ID
	Err        error  // Underlying error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.EntityType, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRecordError creates a new record error with context.
func NewRecordError(op, entityType, id string, err error) *RecordError {
	return &RecordError{
		Op:         op,
		EntityType: entityType,
		ID:         id,
		Err:        err,
	}
}

// IsAutomationNotFound checks if an error indicates an automation was not found.
func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

// IsEnrollmentNotFound checks if an error indicates an enrollment was not found.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

// IsNotFound checks if an error is any of the not found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrStageNotFound) ||
		errors.Is(err, ErrPositionNotFound)
}
