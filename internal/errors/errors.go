// Package errors defines the error taxonomy shared by the artcurate stores and
// curation stages. Callers import it as curerr to avoid shadowing the standard
// library package.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel errors. Store implementations wrap these with fmt.Errorf("...: %w")
// so callers can test with errors.Is.
var (
	// ErrNotFound is returned when a record or blob does not exist.
	ErrNotFound = stderrors.New("not found")

	// ErrUnknownField is returned when an update names a field that is not
	// part of the updatable record schema.
	ErrUnknownField = stderrors.New("unknown field")

	// ErrInvalidBlobID is returned when a blob identifier cannot be parsed.
	ErrInvalidBlobID = stderrors.New("invalid blob id")

	// ErrDecode is returned when blob bytes are not a decodable image.
	ErrDecode = stderrors.New("image decode failed")

	// ErrEncode is returned when the canonical image cannot be encoded.
	ErrEncode = stderrors.New("image encode failed")
)

// RecordError describes a failure tied to a single record within a stage.
type RecordError struct {
	// Stage is the curation stage that produced the error (e.g., "transform").
	Stage string
	// RecordID is the store-assigned identifier of the offending record.
	RecordID string
	// Op is the operation that failed (e.g., "get original blob").
	Op string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: record %s: %s: %v", e.Stage, e.RecordID, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RecordError) Unwrap() error {
	return e.Err
}

// fatalError marks an error as aborting the whole pipeline run.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as a fatal infrastructure failure. Stages return fatal
// errors when a store is unreachable or a metadata write fails; the pipeline
// stops at the first one. Fatal(nil) returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		return err
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (or anything it wraps) was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return stderrors.As(err, &fe)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}
