package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeParse            = "PARSE_ERROR"
	ErrCodeConfig           = "CONFIG_ERROR"
	ErrCodeNotSubmitted     = "NOT_SUBMITTED"
	ErrCodeAlreadySubmitted = "ALREADY_SUBMITTED"
	ErrCodeScheduler        = "SCHEDULER_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodePolicyViolation  = "POLICY_VIOLATION"
	ErrCodeExecution        = "EXECUTION_ERROR"
	ErrCodeInterpolation    = "INTERPOLATION_ERROR"
)

// PlanitError is the structured error type for all planit operations.
type PlanitError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *PlanitError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *PlanitError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PlanitError.
func NewError(code, message string) *PlanitError {
	return &PlanitError{Code: code, Message: message}
}

// NewErrorf creates a new PlanitError with a formatted message.
func NewErrorf(code, format string, args ...any) *PlanitError {
	return &PlanitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *PlanitError) WithStep(step string) *PlanitError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *PlanitError) WithCause(err error) *PlanitError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *PlanitError) WithDetails(details map[string]any) *PlanitError {
	e.Details = details
	return e
}

// IsCode reports whether err (or anything it wraps) is a PlanitError with the given code.
func IsCode(err error, code string) bool {
	var pe *PlanitError
	for err != nil {
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.Cause
	}
	return false
}
