package store

import (
	"fmt"

	"github.com/pkg/errors"
	"go.jsonbdoc.dev/core/document"
)

// Errors returned by store operations. Returned errors may carry further
// context and should be matched with errors.Is.
var (
	// ErrValidation is returned for malformed or non-serializable documents,
	// invalid paths and patterns, and misuse of query arguments. It's also
	// the class of an ExecutionError where the engine reports a violated
	// CHECK constraint of the document column.
	ErrValidation = document.ErrValidation
	// ErrDuplicateKey is returned when an inserted "_id" already exists.
	ErrDuplicateKey = errors.New("duplicate _id")
	// ErrNotFound is returned when the target of a replace, increment,
	// or append does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrTypeMismatch is returned when the value addressed by an increment
	// or append is missing, or has the wrong JSON type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrSessionClosed is returned by operations of a Session which is not Open.
	ErrSessionClosed = errors.New("session is not open")
	// ErrNotConfirmed is returned by destructive helpers which were not
	// explicitly confirmed by their caller.
	ErrNotConfirmed = errors.New("destructive operation not confirmed")
)

// ExecutionError is a failed statement, carrying the statement text and the
// diagnostic of the engine or driver. Where the engine reported a violated
// uniqueness or CHECK constraint, the ExecutionError also matches
// ErrDuplicateKey or ErrValidation (respectively) under errors.Is.
type ExecutionError struct {
	// Statement which failed, as sent to the driver. Empty if the failure
	// occurred while establishing a connection or transaction.
	Statement string
	// Err is the underlying driver error.
	Err error

	class error
}

func (e *ExecutionError) Error() string {
	if e.Statement == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (statement: %q)", e.Err, e.Statement)
}

// Unwrap returns the underlying driver error.
func (e *ExecutionError) Unwrap() error { return e.Err }

// Is returns true if |target| is the classification of the ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	return e.class != nil && target == e.class
}
