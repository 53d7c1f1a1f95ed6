package core

import "errors"

// TaskStatus represents the execution status of a runner task
type TaskStatus int

const (
	StatusPending TaskStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Task function returned an error
	StatusErrored                   // Infrastructure failure (no device, session start, device lost)
	StatusSkipped                   // Not attempted (runner shut down early)
)

// String returns the string representation of TaskStatus
func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped:
		return true
	default:
		return false
	}
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone    ErrorCategory = iota // No error
	ErrCategoryConfig                       // Invalid profile, chain, or configuration
	ErrCategoryPool                         // Acquisition failed or timed out
	ErrCategoryDevice                       // Device lost or unknown
	ErrCategorySession                      // Session lifecycle failure
	ErrCategoryElement                      // Element resolution exhausted every strategy
	ErrCategoryTimeout                      // Operation timed out
	ErrCategoryBackend                      // Automation backend unreachable
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryPool:
		return "pool"
	case ErrCategoryDevice:
		return "device"
	case ErrCategorySession:
		return "session"
	case ErrCategoryElement:
		return "element"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// CategoryOf extracts the error category from an error chain. Errors that
// are not ExecutionErrors report ErrCategoryNone.
func CategoryOf(err error) ErrorCategory {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Category
	}
	return ErrCategoryNone
}
