package contextpg

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidOptions is returned when per-call compaction options are invalid
	ErrInvalidOptions = errors.New("invalid compaction options")

	// ErrInvalidConfig is returned when the manager configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStorageError is returned when a storage operation failed
	ErrStorageError = errors.New("storage operation failed")
)

// ContextError represents an error with additional context
type ContextError struct {
	Op        string         // Operation that failed
	Err       error          // Underlying error
	SessionID string         // Session ID if applicable
	Context   map[string]any // Additional context
}

// Error implements the error interface
func (e *ContextError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session=%s): %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ContextError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *ContextError) WithContext(key string, value any) *ContextError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewContextError creates a new ContextError
func NewContextError(op string, err error) *ContextError {
	return &ContextError{
		Op:  op,
		Err: err,
	}
}

// NewContextErrorWithSession creates a new ContextError with session ID
func NewContextErrorWithSession(op string, sessionID string, err error) *ContextError {
	return &ContextError{
		Op:        op,
		Err:       err,
		SessionID: sessionID,
	}
}
