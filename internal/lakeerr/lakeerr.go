// Package lakeerr defines the error taxonomy shared across every lakesync
// component. No panics cross a component boundary in this codebase except
// where the programmer has misused a construction-time API (e.g. registering
// a duplicate table schema); everything else returns an *Error carrying one
// of the Kind values below plus the low-level cause.
package lakeerr

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy of error categories a public lakesync operation can
// return. It is deliberately a closed set: every public operation documents
// which Kinds it can produce.
type Kind string

const (
	// DB indicates a local store operation failed.
	DB Kind = "DB_ERROR"
	// Queue indicates an outbox backend operation failed.
	Queue Kind = "QUEUE_ERROR"
	// Apply indicates the applier could not complete; its transaction rolled back.
	Apply Kind = "APPLY_ERROR"
	// Transport indicates a remote round trip failed (network, timeout, 4xx, 5xx).
	Transport Kind = "TRANSPORT_ERROR"
	// SchemaMismatch indicates a migration attempt violated the additive-only rule.
	SchemaMismatch Kind = "SCHEMA_MISMATCH"
	// RowNotFound indicates an update/delete targeted a nonexistent row.
	RowNotFound Kind = "ROW_NOT_FOUND"
	// Auth indicates token verification or refresh failed.
	Auth Kind = "AUTH_ERROR"
	// Codec indicates an encode/decode failure.
	Codec Kind = "CODEC_ERROR"
	// Adapter indicates a source-specific pull failure.
	Adapter Kind = "ADAPTER_ERROR"
	// DeadLettered is the terminal status for an action or delta that
	// exhausted its retry budget.
	DeadLettered Kind = "DEAD_LETTERED"
	// Validation indicates caller-supplied input failed field-level checks
	// before ever reaching the outbox or the local store.
	Validation Kind = "VALIDATION_ERROR"
)

// Error is the concrete error type returned by every public lakesync
// operation that can fail. It carries a Kind for programmatic dispatch, a
// human message, and an optional cause chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error that chains an underlying cause. If cause is
// nil, Wrap returns nil so call sites can write `return lakeerr.Wrap(k, msg, err)`
// unconditionally after an `if err != nil` check without a redundant branch.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write `errors.Is(err, lakeerr.New(lakeerr.RowNotFound, ""))` — but the
// idiomatic form is KindOf(err) == lakeerr.RowNotFound, which this package
// also provides.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, and the
// zero Kind otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
