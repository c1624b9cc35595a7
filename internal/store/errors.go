package store

import "errors"

// Sentinel errors shared by all storage backends. Business code matches them
// with errors.Is; backends wrap driver errors into these at the boundary.
var (
	// ErrNotFound covers absent, soft-deleted, and out-of-scope rows alike so
	// lookups don't leak which of the three it was.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a uniqueness constraint rejected the write (identity
	// owned by another contact, duplicate live route pattern, ...).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput rejects malformed patterns, unknown enum values, and
	// unparsable durations at the boundary.
	ErrInvalidInput = errors.New("invalid input")
)
