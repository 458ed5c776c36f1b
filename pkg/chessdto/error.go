package chessdto

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a DomainError for callers that map errors to responses.
type ErrorKind string

const (
	KindValidation ErrorKind = "VALIDATION"
	KindTurn       ErrorKind = "TURN"
	KindNotFound   ErrorKind = "NOT_FOUND"
	KindConflict   ErrorKind = "CONFLICT"
	KindTransient  ErrorKind = "TRANSIENT"
	KindAuth       ErrorKind = "AUTH"
)

// Kind sentinels. errors.Is(err, ErrTurn) holds for any DomainError of that kind.
var (
	ErrValidation = &DomainError{Kind: KindValidation}
	ErrTurn       = &DomainError{Kind: KindTurn}
	ErrNotFound   = &DomainError{Kind: KindNotFound}
	ErrConflict   = &DomainError{Kind: KindConflict}
	ErrTransient  = &DomainError{Kind: KindTransient, Retryable: true}
	ErrAuth       = &DomainError{Kind: KindAuth}
)

type DomainError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	cause     error
}

func (e *DomainError) Error() string {
	switch {
	case e.Message != "" && e.cause != nil:
		return e.Message + ": " + e.cause.Error()
	case e.Message != "":
		return e.Message
	case e.cause != nil:
		return e.cause.Error()
	case e.Kind != "":
		return string(e.Kind)
	}
	return "chess core error"
}

func (e *DomainError) Unwrap() error { return e.cause }

// Is matches kind sentinels (no message, no cause) by kind only.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t.Message == "" && t.cause == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

func newErr(kind ErrorKind, retryable bool, cause error, format string, args ...any) *DomainError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &DomainError{Kind: kind, Message: msg, Retryable: retryable, cause: cause}
}

func Validation(format string, args ...any) error {
	return newErr(KindValidation, false, nil, format, args...)
}

func Turn(format string, args ...any) error { return newErr(KindTurn, false, nil, format, args...) }

func NotFound(format string, args ...any) error {
	return newErr(KindNotFound, false, nil, format, args...)
}

func Conflict(format string, args ...any) error {
	return newErr(KindConflict, false, nil, format, args...)
}

func Auth(format string, args ...any) error { return newErr(KindAuth, false, nil, format, args...) }

// Transient wraps a store failure as a retryable error. nil stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return newErr(KindTransient, true, err, "%s", op)
}

// KindOf returns the kind of the first DomainError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsRetryable reports whether err is safe to retry.
func IsRetryable(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Retryable
}
