package sqlite

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/ignite/mailtrack/internal/service/tracking"
)

// classify maps SQLite result codes onto the tracking error taxonomy.
// Errors that already carry a tracking sentinel pass through unchanged.
func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, tracking.ErrNotFound) || errors.Is(err, tracking.ErrValidation) ||
		errors.Is(err, tracking.ErrStoreBusy) || errors.Is(err, tracking.ErrStoreCorrupt) {
		return err
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", tracking.ErrStoreBusy, err)
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			wrapped := fmt.Errorf("%w: %v", tracking.ErrStoreCorrupt, err)
			s.markCorrupt(wrapped)
			return wrapped
		}
	}
	return err
}
