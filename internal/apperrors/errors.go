// Package apperrors defines the error taxonomy shared across the servicing
// engine. Callers branch on these sentinels with errors.Is.
package apperrors

import "errors"

var (
	// ErrValidation marks input rejected before any state was written
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a lookup for an unknown loan, schedule or payment
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks an insert that lost an idempotency-key race;
	// the winning row should be re-read and returned
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict marks a single optimistic-lock failure on a
	// contended loan; the operation reloads and retries
	ErrVersionConflict = errors.New("version conflict")

	// ErrConflict marks a contended loan whose bounded retries are
	// exhausted; the caller should retry the whole operation
	ErrConflict = errors.New("concurrent modification, retry")
)
