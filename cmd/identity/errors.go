package identity

import (
	"errors"
	"fmt"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind MUST be one of the sentinel kinds. Msg is shown to the acting client verbatim,
// so it must never include secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// Invalid reports a validation failure.
func Invalid(op, msg string) error { return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg} }

// Unauthenticated reports a bad credential, stale token or failed two-factor check.
func Unauthenticated(op, msg string) error {
	return OpError{Op: op, Kind: ErrUnauthenticated, Msg: msg}
}

// Forbidden reports missing membership, ownership or admin rights.
// An empty msg means the denial is silent.
func Forbidden(op, msg string) error { return OpError{Op: op, Kind: ErrForbidden, Msg: msg} }

// NotFound reports an unknown target. An empty msg means the miss is silent.
func NotFound(op, msg string) error { return OpError{Op: op, Kind: ErrNotFound, Msg: msg} }

// Conflict reports a uniqueness or cooldown violation.
func Conflict(op, msg string) error { return OpError{Op: op, Kind: ErrConflict, Msg: msg} }

// PublicMessage returns the client-facing message carried by err, if any.
func PublicMessage(err error) string {
	var oe OpError
	if errors.As(err, &oe) {
		return oe.Msg
	}
	return ""
}

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsUnauthenticated reports whether err represents ErrUnauthenticated.
func IsUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticated) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
