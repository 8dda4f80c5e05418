package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Fault is the structured error type produced by pipeline machinery.
// Errors returned by user stage functions are never wrapped in a Fault;
// they travel through the chain unchanged.
type Fault struct {
	// Code is a machine-readable fault code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Stage names the stage that raised the fault, if known.
	Stage string `json:"stage,omitempty"`
	// Details contains additional context for the fault.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error.
	Cause error `json:"-"`
}

// Error returns the string representation of the fault.
func (e *Fault) Error() string {
	prefix := string(e.Code)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s[%s]", e.Code, e.Stage)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying cause of the fault.
func (e *Fault) Unwrap() error { return e.Cause }

// Is matches any Fault carrying the same code, so sentinel faults work with errors.Is.
func (e *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Code == e.Code
}

// WithCause sets the underlying cause and returns the receiver.
func (e *Fault) WithCause(cause error) *Fault {
	e.Cause = cause
	return e
}

// WithStage sets the originating stage name and returns the receiver.
func (e *Fault) WithStage(stage string) *Fault {
	e.Stage = stage
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *Fault) WithDetail(key string, value any) *Fault {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new Fault.
func New(code ErrorCode, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

// Sentinels for errors.Is. Never mutate them; use the constructors below.
var (
	ErrPipelineClosed   = New(ErrCodePipelineClosed, "pipeline is not accepting items")
	ErrPipelineShutdown = New(ErrCodePipelineShutdown, "pipeline shut down before the item was resolved")
	ErrItemDiscarded    = New(ErrCodeItemDiscarded, "item rejected by filter")
	ErrInvalidConfig    = New(ErrCodeInvalidConfig, "invalid configuration")
)

// --- Constructors ---

// PipelineClosed creates a fault for an item sent to a stage that no longer
// accepts input. cause is the stage's terminal outcome, if it already has one.
func PipelineClosed(cause error) *Fault {
	return &Fault{
		Code:    ErrCodePipelineClosed,
		Message: "pipeline is not accepting items",
		Cause:   cause,
	}
}

// PipelineShutdown creates a fault for an item still pending when its
// pipeline reached a terminal state.
func PipelineShutdown(cause error) *Fault {
	return &Fault{
		Code:    ErrCodePipelineShutdown,
		Message: "pipeline shut down before the item was resolved",
		Cause:   cause,
	}
}

// ItemDiscarded creates a fault for an item dropped by a filter stage.
func ItemDiscarded(stage string) *Fault {
	return &Fault{
		Code:    ErrCodeItemDiscarded,
		Message: "item rejected by filter",
		Stage:   stage,
	}
}

// InvalidConfig creates a fault for an invalid configuration field.
func InvalidConfig(field, reason string) *Fault {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &Fault{
		Code:    ErrCodeInvalidConfig,
		Message: fmt.Sprintf("Invalid configuration: %s", reason),
		Details: details,
	}
}

// Validation creates a fault for a failed configuration validation.
func Validation(message string) *Fault {
	return &Fault{Code: ErrCodeInvalidConfig, Message: message}
}

// --- Classification ---

// IsFault checks if an error is or wraps a Fault.
func IsFault(err error) bool {
	var f *Fault
	return stderrors.As(err, &f)
}

// AsFault extracts the outermost Fault from an error chain.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if stderrors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsCancellation reports whether err means processing stopped because a
// cancellation signal was honoured. A Fault with any other code is never a
// cancellation, even when its cause is.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if f, ok := AsFault(err); ok {
		return f.Code == ErrCodeCancelled
	}
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

// Classify maps any error to a fault code. Errors that are neither a Fault
// nor a cancellation are processing faults raised by user code.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if f, ok := AsFault(err); ok {
		return f.Code
	}
	if IsCancellation(err) {
		return ErrCodeCancelled
	}
	return ErrCodeProcessing
}

// Is is a convenience re-export of the standard errors.Is.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is a convenience re-export of the standard errors.As.
func As(err error, target any) bool { return stderrors.As(err, target) }
