package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a convergence failure by the phase that produced it.
type ErrorClass string

const (
	// ErrorClassRender covers rendering failures: unresolved variables and
	// malformed templates. Always fatal to the host run, and always raised
	// before any side effect.
	ErrorClassRender ErrorClass = "render"

	// ErrorClassProbeUnknown means a guard could not be evaluated at all.
	// Never collapsed into "false": an unknown probe is a failure, not an
	// invitation to proceed.
	ErrorClassProbeUnknown ErrorClass = "probe_unknown"

	// ErrorClassActionFailed means an action executed but did not converge:
	// either it returned an error or the guard still did not hold afterward.
	ErrorClassActionFailed ErrorClass = "action_failed"

	// ErrorClassTransportUnreachable means the host cannot be contacted.
	// Fatal to that host's run only.
	ErrorClassTransportUnreachable ErrorClass = "transport_unreachable"
)

// ConvergeError is a classified error with host and operation context.
type ConvergeError struct {
	// Class is the failure classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Host is the host ID the failure belongs to, if known.
	Host string `json:"host,omitempty"`

	// Operation is the operation name the failure belongs to, if any.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ConvergeError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Host != "" {
		msg += fmt.Sprintf(" (host=%s", e.Host)
		if e.Operation != "" {
			msg += fmt.Sprintf(", operation=%s", e.Operation)
		}
		msg += ")"
	} else if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ConvergeError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *ConvergeError) Is(target error) bool {
	t, ok := target.(*ConvergeError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// WithHost adds host context to an error.
func (e *ConvergeError) WithHost(hostID string) *ConvergeError {
	e.Host = hostID
	return e
}

// WithOperation adds operation context to an error.
func (e *ConvergeError) WithOperation(name string) *ConvergeError {
	e.Operation = name
	return e
}

// WithCode adds an error code to an error.
func (e *ConvergeError) WithCode(code string) *ConvergeError {
	e.Code = code
	return e
}

// NewRenderError creates a rendering-phase error.
func NewRenderError(message string, err error) *ConvergeError {
	return &ConvergeError{Class: ErrorClassRender, Message: message, Err: err}
}

// NewProbeUnknownError creates an error for a guard that could not be evaluated.
func NewProbeUnknownError(message string, err error) *ConvergeError {
	return &ConvergeError{Class: ErrorClassProbeUnknown, Message: message, Err: err}
}

// NewActionFailedError creates an error for an action that did not converge.
func NewActionFailedError(message string, err error) *ConvergeError {
	return &ConvergeError{Class: ErrorClassActionFailed, Message: message, Err: err}
}

// NewTransportUnreachableError creates an error for an uncontactable host.
func NewTransportUnreachableError(message string, err error) *ConvergeError {
	return &ConvergeError{Class: ErrorClassTransportUnreachable, Message: message, Err: err}
}

// IsRenderError returns true for rendering-phase failures.
func IsRenderError(err error) bool {
	return hasClass(err, ErrorClassRender)
}

// IsProbeUnknown returns true when a guard could not be evaluated.
func IsProbeUnknown(err error) bool {
	return hasClass(err, ErrorClassProbeUnknown)
}

// IsActionFailed returns true for actions that did not converge.
func IsActionFailed(err error) bool {
	return hasClass(err, ErrorClassActionFailed)
}

// IsTransportUnreachable returns true when the host could not be contacted.
func IsTransportUnreachable(err error) bool {
	return hasClass(err, ErrorClassTransportUnreachable)
}

func hasClass(err error, class ErrorClass) bool {
	var e *ConvergeError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// Rendering error codes.
const (
	ErrCodeUnresolvedVariable = "UNRESOLVED_VARIABLE"
	ErrCodeMalformedTemplate  = "MALFORMED_TEMPLATE"
)
