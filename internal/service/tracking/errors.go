package tracking

import "errors"

// Sentinel errors for the tracking service layer. Repositories wrap these so
// callers can classify failures with errors.Is.
var (
	// ErrValidation marks malformed input: a bad email ID, a bad redirect
	// URL or a missing required field.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means the referenced tenant or email does not exist for the
	// requesting tenant.
	ErrNotFound = errors.New("not found")

	// ErrStoreBusy is returned when a write could not be serialized within
	// the configured window. Callers may retry.
	ErrStoreBusy = errors.New("store busy")

	// ErrStoreCorrupt means the underlying store file is unreadable or
	// inconsistent.
	ErrStoreCorrupt = errors.New("store corrupt")
)

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreBusy)
}
