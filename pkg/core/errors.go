package core

import (
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: device_lost, element_not_found, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches on category and code so errors.Is works across the With*
// copies of a predefined error.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithMessagef returns a copy of the error with a formatted message
func (e *ExecutionError) WithMessagef(format string, args ...interface{}) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// WithDetail returns a copy of the error with a single extra detail
func (e *ExecutionError) WithDetail(key string, value interface{}) *ExecutionError {
	return e.WithDetails(map[string]interface{}{key: value})
}

// Predefined errors
var (
	// Profile errors
	ErrInvalidProfile = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_profile",
		Message:  "invalid capability profile request",
	}
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrChainInvalid = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_chain",
		Message:  "locator chain is invalid",
	}

	// Pool errors
	ErrNoAvailableDevice = &ExecutionError{
		Category: ErrCategoryPool,
		Code:     "no_available_device",
		Message:  "no device matching the requirements became available",
	}
	ErrAllocationReleased = &ExecutionError{
		Category: ErrCategoryPool,
		Code:     "allocation_released",
		Message:  "allocation has already been released",
	}

	// Device errors
	ErrDeviceLost = &ExecutionError{
		Category: ErrCategoryDevice,
		Code:     "device_lost",
		Message:  "device became unavailable while allocated",
	}
	ErrDeviceUnknown = &ExecutionError{
		Category: ErrCategoryDevice,
		Code:     "device_unknown",
		Message:  "device is not registered",
	}

	// Session errors
	ErrSessionStart = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_start_failed",
		Message:  "could not start automation session",
	}
	ErrSessionClosed = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_closed",
		Message:  "session is closed",
	}
	ErrActionUnsupported = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "action_unsupported",
		Message:  "action is not supported on this platform",
	}

	// Element errors
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryElement,
		Code:     "element_not_found",
		Message:  "element not found by any strategy",
	}

	// Timeout errors
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}

	// Backend errors
	ErrBackendUnavailable = &ExecutionError{
		Category: ErrCategoryBackend,
		Code:     "backend_unavailable",
		Message:  "could not reach the automation backend",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}
