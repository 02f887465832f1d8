package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeNotActive         = "NOT_ACTIVE"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeInvalidCondition  = "INVALID_CONDITION"
	ErrCodeCapability        = "CAPABILITY_ERROR"
	ErrCodeExecutionFailed   = "EXECUTION_FAILED"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCancelled         = "CANCELLED"
)

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error code indicates a transient failure.
// Only capability and store failures are worth retrying; grammar, lookup,
// and state errors will fail the same way on every attempt.
func (e *EngineError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeCapability, ErrCodeStore:
		return true
	default:
		return false
	}
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *EngineError) WithStep(name string) *EngineError {
	e.Step = name
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}
