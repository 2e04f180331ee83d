// File: api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable signals that an inference backend could not be
// reached or its model could not be loaded. The resolution chain recovers
// from it by falling through to the next stage; it is never surfaced to the
// end user.
var ErrBackendUnavailable = errors.New("inference backend unavailable")

// ErrMissingCredential signals that the remote fallback was selected but no
// API credential is configured. Unlike a backend failure this is reported
// explicitly in the step result reason, not silently skipped.
var ErrMissingCredential = errors.New("remote backend credential not configured")

// BackendError is a request-level failure from an inference backend, carrying
// the upstream status and a body excerpt for diagnostics.
type BackendError struct {
	Backend string
	Status  int
	Body    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend error: status %d: %s", e.Backend, e.Status, e.Body)
}
