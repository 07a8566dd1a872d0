package status

import (
	"errors"
	"fmt"
)

// StatusError attaches a SessionStatus to a failing operation so the
// session controller can recover exactly one status from any task error.
type StatusError struct {
	Status SessionStatus
	Op     string
	Err    error
}

// NewError builds a StatusError for op. err may be nil when the status
// itself is the whole story (e.g. a protocol-level rejection).
func NewError(s SessionStatus, op string, err error) *StatusError {
	return &StatusError{Status: s, Op: op, Err: err}
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: status %s: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: status %s", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

// FromError recovers the SessionStatus embedded in err, walking the wrap
// chain. Errors that carry no status report TaskFailed so that every
// failed attempt still resolves to exactly one status.
func FromError(err error) SessionStatus {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return TaskFailed
}
