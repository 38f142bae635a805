package repositories

import "fmt"

// ErrorKind classifies a persistence failure.
type ErrorKind string

const (
	// ErrorKindNotFound marks a missing record.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindConflict marks a write rejected because the record already exists or changed.
	ErrorKindConflict ErrorKind = "conflict"
	// ErrorKindUnavailable marks a transient backend failure.
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// StoreError implements RepositoryError for adapters that do not carry their own error type.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record was missing.
func (e *StoreError) IsNotFound() bool { return e != nil && e.Kind == ErrorKindNotFound }

// IsConflict reports whether the write conflicted with existing state.
func (e *StoreError) IsConflict() bool { return e != nil && e.Kind == ErrorKindConflict }

// IsUnavailable reports whether the backend was unreachable.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }

// NewNotFoundError constructs a not-found repository error.
func NewNotFoundError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: ErrorKindNotFound, Err: err}
}

// NewConflictError constructs a conflict repository error.
func NewConflictError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: ErrorKindConflict, Err: err}
}

// NewUnavailableError constructs an unavailable repository error.
func NewUnavailableError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: ErrorKindUnavailable, Err: err}
}
