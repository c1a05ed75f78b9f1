// Package apperrors classifies pipeline errors into the taxonomy used by
// the Orchestrator's retry policy and failure recording: Transient,
// Validation, NotFound, Permission, and Integrity (spec §7).
package apperrors

import (
	"errors"
	"fmt"
)

// Class is one of the five error categories the Orchestrator reasons
// about when deciding whether to retry a step.
type Class string

const (
	Transient  Class = "transient"
	Validation Class = "validation"
	NotFound   Class = "not_found"
	Permission Class = "permission"
	Integrity  Class = "integrity"
)

// Error wraps an underlying error with a Class and the step it occurred
// in, so the Orchestrator can decide retry/fatal without string-matching
// messages.
type Error struct {
	Class Class
	Step  string
	Err   error
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Step, e.Class, e.Err)
	}
	return fmt.Sprintf("[%s]: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given class and step.
func New(class Class, step string, err error) *Error {
	return &Error{Class: class, Step: step, Err: err}
}

// Wrapf wraps a formatted error with the given class and step.
func Wrapf(class Class, step string, format string, args ...any) *Error {
	return &Error{Class: class, Step: step, Err: fmt.Errorf(format, args...)}
}

// ClassOf returns the Class of err, or "" if err was not produced by this
// package.
func ClassOf(err error) Class {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Class
	}
	return ""
}

// IsRetryable reports whether the Orchestrator's retry policy should
// re-attempt the step that produced err. Only Transient errors are
// retryable; Validation, NotFound, Permission, and Integrity errors are
// fatal for the step (spec §7).
func IsRetryable(err error) bool {
	return ClassOf(err) == Transient
}

// StepOf returns the step name attached to err, or "" if none.
func StepOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Step
	}
	return ""
}
