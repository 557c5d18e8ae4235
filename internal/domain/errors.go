package domain

import "fmt"

// Error types for consistent error handling across the BFA.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrSnapshotFetch means the base collection could not be read.
// The page load failed as a whole; the caller may retry.
type ErrSnapshotFetch struct {
	Collection string
	Err        error
}

func (e *ErrSnapshotFetch) Error() string {
	return fmt.Sprintf("snapshot fetch failed [%s]: %v", e.Collection, e.Err)
}

func (e *ErrSnapshotFetch) Unwrap() error {
	return e.Err
}

// Retryable reports that a later, caller-initiated attempt may succeed.
func (e *ErrSnapshotFetch) Retryable() bool { return true }

// ErrSuperseded is returned when a newer page load started before this one finished.
// The result of the older call is discarded.
type ErrSuperseded struct {
	Generation uint64
	Latest     uint64
}

func (e *ErrSuperseded) Error() string {
	return fmt.Sprintf("page load %d superseded by %d", e.Generation, e.Latest)
}
