package store

import "errors"

// Sentinel errors shared by every store implementation. Callers branch on
// these with errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation means a submission was malformed and no row was created.
	ErrValidation = errors.New("validation failed")

	// ErrStaleClaim means a terminal write found its row no longer in
	// processing: the claim was reclaimed and finalized elsewhere. The
	// late result is dropped, never written over the committed state.
	ErrStaleClaim = errors.New("claim no longer held")

	// ErrUnauthorized means no active, non-expired key matched the
	// presented credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the key matched but its IP allowlist excludes
	// the caller.
	ErrForbidden = errors.New("forbidden")
)
