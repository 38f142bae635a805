package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorClass uint8

const (
	classOther errorClass = iota
	classNotFound
	classConflict
	classUnavailable
)

var codeClasses = map[codes.Code]errorClass{
	codes.NotFound:           classNotFound,
	codes.AlreadyExists:      classConflict,
	codes.FailedPrecondition: classConflict,
	codes.Aborted:            classConflict,
	codes.Unavailable:        classUnavailable,
	codes.ResourceExhausted:  classUnavailable,
	codes.Internal:           classUnavailable,
	codes.DeadlineExceeded:   classUnavailable,
	codes.Unknown:            classUnavailable,
}

// Error carries the gRPC code of a failed Firestore call and satisfies repositories.RepositoryError.
// Errors without a gRPC status have code Unknown and count as unavailable.
type Error struct {
	Op   string
	Code codes.Code
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) class() errorClass {
	if e == nil {
		return classOther
	}
	return codeClasses[e.Code]
}

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e.class() == classNotFound }

// IsConflict reports a write that lost against existing state.
func (e *Error) IsConflict() bool { return e.class() == classConflict }

// IsUnavailable reports a transient backend failure.
func (e *Error) IsUnavailable() bool { return e.class() == classUnavailable }

// WrapError tags err with op and its gRPC code. Cancellation and deadline errors come back as
// the plain context errors; an existing *Error keeps its original op.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	var wrapped *Error
	if errors.As(err, &wrapped) {
		if wrapped.Op == "" {
			wrapped.Op = op
		}
		return wrapped
	}
	return &Error{Op: op, Code: code, Err: err}
}
