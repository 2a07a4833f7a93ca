package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")

	// ErrInvalidTransition rejects a command issued from a state that forbids it.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidState rejects a reconfiguration that the current run state forbids.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvariantViolation marks an internal bookkeeping bug.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrConfiguration rejects a run configuration before it starts.
	ErrConfiguration = errors.New("configuration error")
	// ErrPersistence marks a failed write that must not block the run.
	ErrPersistence = errors.New("persistence error")
)
