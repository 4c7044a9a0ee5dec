// Package tdxerr defines the error taxonomy shared by the identity and
// registry services. Handlers map a Kind to an HTTP status; nothing below
// the Kind (signature mismatch detail, which field of a payload failed)
// is ever surfaced to a caller.
package tdxerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from the taxonomy. It is intentionally a
// small closed set - callers switch on it, they never string-match Error().
type Kind string

const (
	WrongState          Kind = "wrong_state"
	BadSignature        Kind = "bad_signature"
	BadToken            Kind = "bad_token"
	AttestationRejected Kind = "attestation_rejected"
	LedgerUnavailable   Kind = "ledger_unavailable"
	MountFailed         Kind = "mount_failed"
	LaunchFailed        Kind = "launch_failed"
	ShutdownFailed      Kind = "shutdown_failed"
	Conflict            Kind = "conflict"
	NotFound            Kind = "not_found"
	Corruption          Kind = "corruption"
	ConfigInvalid       Kind = "config_invalid"
)

// Error wraps an underlying error with a taxonomy Kind and the operation
// that produced it, the way the teacher wraps errors with fmt.Errorf but
// with a typed Kind() accessor instead of string prefixes.
type Error struct {
	K   Kind
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.K, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.K)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind returns e's taxonomy kind.
func (e *Error) Kind() Kind { return e.K }

// New constructs an *Error with no wrapped cause.
func New(op string, k Kind) *Error {
	return &Error{Op: op, K: k}
}

// Wrap constructs an *Error wrapping err under kind k.
func Wrap(op string, k Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, K: k, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and reports false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.K, true
	}
	return "", false
}
