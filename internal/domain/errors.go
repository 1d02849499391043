package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components. Collaborator adapters classify
// transport failures into these once at the boundary; nothing downstream
// inspects error message text.
var (
	// ErrInvalidIdentifier marks a malformed phone number or identifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrNotFound marks a missing participant, user, or group.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an upstream rejection due to missing privilege or
	// target privacy settings.
	ErrForbidden = errors.New("forbidden")
	// ErrUpstreamUnavailable marks a roster or notification collaborator
	// failure that may succeed on retry.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ConstraintError reports an invalid ledger operation, such as a
// non-positive fine amount. It is a caller bug, not an I/O failure.
type ConstraintError struct {
	Op     string
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: constraint violated: %s", e.Op, e.Reason)
}

// StorageError wraps an I/O failure inside the ledger store. Callers decide
// whether to retry or report upstream; the store never loses data silently.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage failure: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsConstraint reports whether err is a ConstraintError.
func IsConstraint(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
