package mirror

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable aborts a pass when a source backend cannot be reached.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrAuthentication aborts a pass before any destination mutation.
	ErrAuthentication = errors.New("destination authentication failed")
)

// FetchError reports a failed source fetch for one calendar.
type FetchError struct {
	Calendar string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch events for %s: %v", e.Calendar, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
