// Package engineerr defines the error taxonomy of the automation engine.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors by how the step executor reacts to them.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindActionExecution     Kind = "action_execution"
	KindConditionEvaluation Kind = "condition_evaluation"
)

// Code is the machine readable reason of an action error.
type Code string

const (
	CodeInvalidConfig   Code = "invalid_config"
	CodeNotFound        Code = "not_found"
	CodeExecutionFailed Code = "execution_failed"
	CodeTimeout         Code = "timeout"
)

// Error wraps engine errors with their kind and context.
type Error struct {
	Kind Kind   // Error class
	Op   string // Operation being performed (e.g., "add_contact_tag", "ParseAction")
	Code Code   // Action error code, empty for non action errors
	Err  error  // Underlying error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and, when set, by code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}

	if other.Kind != e.Kind {
		return false
	}

	return other.Code == "" || other.Code == e.Code
}

// Validation creates a validation error.
func Validation(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// NotFound creates a not found error.
func NotFound(op string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

// ActionError creates an error for a failed action. The kind follows the code so that
// invalid configs surface as validation errors and missing targets as not found.
func ActionError(op string, code Code, err error) *Error {
	kind := KindActionExecution

	switch code {
	case CodeInvalidConfig:
		kind = KindValidation
	case CodeNotFound:
		kind = KindNotFound
	}

	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// ConditionEvaluation creates a condition evaluation error.
func ConditionEvaluation(op string, err error) *Error {
	return &Error{Kind: KindConditionEvaluation, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// CodeOf returns the action code of the first *Error in the chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ""
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsActionExecution checks if an error is an action execution error.
func IsActionExecution(err error) bool {
	return KindOf(err) == KindActionExecution
}

// IsTimeout checks if an error is an action timeout.
func IsTimeout(err error) bool {
	return CodeOf(err) == CodeTimeout
}
