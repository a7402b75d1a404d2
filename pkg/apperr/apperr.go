// Package apperr is the typed error taxonomy spec.md §7 describes, shared
// by the engine orchestrator and every component it wires (planner, filter
// walker, executors, normaliser): a leaf package with no dependency on the
// rest of the engine, so a component two layers below pkg/engine can still
// construct a well-typed error without an import cycle back up to it.
package apperr

import "fmt"

// Kind is the closed taxonomy of error kinds spec.md §7 enumerates.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindResourceNotFound   Kind = "ResourceNotFound"
	KindDialectUnsupported Kind = "DialectUnsupported"
	KindQueryError         Kind = "QueryError"
	KindTransportError     Kind = "TransportError"
	KindInternalError      Kind = "InternalError"
)

// Error is the engine's single error type. Details carries contextual
// key/value pairs (table, field, operation) with bindings always redacted —
// parameter values never appear in Details or Message.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string, details map[string]any, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Details: details, Cause: cause}
}

// Validation builds a ValidationError.
func Validation(msg string, details map[string]any) *Error {
	return newErr(KindValidation, msg, details, nil)
}

// NotFound builds a ResourceNotFound error.
func NotFound(msg string, details map[string]any) *Error {
	return newErr(KindResourceNotFound, msg, details, nil)
}

// DialectUnsupported wraps a dialect-layer unsupported-operation error.
func DialectUnsupported(msg string, details map[string]any, cause error) *Error {
	return newErr(KindDialectUnsupported, msg, details, cause)
}

// Query wraps a backend-rejected-query error with table/field context.
func Query(msg string, details map[string]any, cause error) *Error {
	return newErr(KindQueryError, msg, details, cause)
}

// Transport wraps a connection/deadline failure.
func Transport(msg string, details map[string]any, cause error) *Error {
	return newErr(KindTransportError, msg, details, cause)
}

// Internal wraps a programmer-error / malformed-plan bug.
func Internal(msg string, details map[string]any, cause error) *Error {
	return newErr(KindInternalError, msg, details, cause)
}

// As reports whether err is an *Error of the given kind.
func As(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
