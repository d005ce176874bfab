// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across port/service layers.
var (
	// ErrInvalidCredentials indicates a wrong alias/passphrase pair.
	// This is an expected outcome of authentication, not an exceptional one.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the identity store could not be reached.
	// The caller decides whether to retry.
	ErrUnavailable = errors.New("identity store unavailable")

	// ErrRateLimited indicates temporary lockout after repeated failures.
	ErrRateLimited = errors.New("rate limited")

	// ErrNoSession indicates an operation that requires an authenticated
	// session was invoked without one.
	ErrNoSession = errors.New("no active session")

	// ErrPermissionDenied indicates the health data port refused access.
	// Distinct from an empty read, which means "no data in range".
	ErrPermissionDenied = errors.New("health permission denied")

	// ErrInvalidToken indicates a malformed pairing token.
	ErrInvalidToken = errors.New("invalid pairing token")

	// ErrStoreUnavailable indicates the replicated store rejected or could
	// not service a request.
	ErrStoreUnavailable = errors.New("replicated store unavailable")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., alias taken).
	ErrAlreadyExists = errors.New("already exists")
)

// PartialSyncError reports a sync cycle in which every harvested record was
// skipped. Cycles that publish at least one record report skips in the
// SyncResult instead.
type PartialSyncError struct {
	Skipped int
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("sync skipped all %d records", e.Skipped)
}
