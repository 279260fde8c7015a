// Package syncerr defines the engine's typed error kinds (spec §7). Each
// kind wraps a stable sentinel so callers can test with errors.Is while
// still getting a message carrying the offending id.
package syncerr

import (
	"errors"
	"fmt"
)

// Sentinel errors identifying each error kind. Use errors.Is against
// these, not the concrete *Error values.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrConflict          = errors.New("conflicting create or remote-id bind")
	ErrGone              = errors.New("mutation targets a deleted record")
	ErrNotAuthorized     = errors.New("capability flag forbids the requested method")
	ErrFetchBeforeSend   = errors.New("publisher has pending messages and must fetch first")
	ErrRemoteConflict    = errors.New("remote id is bound to a different record")
	ErrState             = errors.New("message is not in the required state")
	ErrValidation        = errors.New("payload failed schema validation")
	ErrStorageUnavailable = errors.New("storage backend is unavailable")
)

// Error is a typed engine error carrying its sentinel and a human message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func newErr(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return newErr(ErrNotFound, format, args...)
}

func Conflict(format string, args ...any) error {
	return newErr(ErrConflict, format, args...)
}

func Gone(format string, args ...any) error {
	return newErr(ErrGone, format, args...)
}

func NotAuthorized(format string, args ...any) error {
	return newErr(ErrNotAuthorized, format, args...)
}

func FetchBeforeSend(format string, args ...any) error {
	return newErr(ErrFetchBeforeSend, format, args...)
}

func RemoteConflict(format string, args ...any) error {
	return newErr(ErrRemoteConflict, format, args...)
}

func State(format string, args ...any) error {
	return newErr(ErrState, format, args...)
}

func Validation(format string, args ...any) error {
	return newErr(ErrValidation, format, args...)
}

func StorageUnavailable(format string, args ...any) error {
	return newErr(ErrStorageUnavailable, format, args...)
}
