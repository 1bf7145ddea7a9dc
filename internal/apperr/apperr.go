package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation and status mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUpstream
	KindPersistence
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream_fetch_failure"
	case KindPersistence:
		return "persistence_failure"
	case KindValidation:
		return "validation_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching.
var (
	ErrNotFound    = errors.New("not found")
	ErrUpstream    = errors.New("upstream fetch failure")
	ErrPersistence = errors.New("persistence failure")
	ErrValidation  = errors.New("validation failure")
)

// Error carries a Kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.sentinel())
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

// Retryable reports whether re-triggering the same call later may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindUpstream || e.Kind == KindPersistence
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindNotFound:
		return ErrNotFound
	case KindUpstream:
		return ErrUpstream
	case KindPersistence:
		return ErrPersistence
	case KindValidation:
		return ErrValidation
	default:
		return nil
	}
}

func newError(kind Kind, op string, err error) error {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func NotFound(op string, err error) error    { return newError(KindNotFound, op, err) }
func Upstream(op string, err error) error    { return newError(KindUpstream, op, err) }
func Persistence(op string, err error) error { return newError(KindPersistence, op, err) }
func Validation(op string, err error) error  { return newError(KindValidation, op, err) }

// Validationf builds a validation failure from a format string.
func Validationf(op string, format string, args ...any) error {
	return newError(KindValidation, op, fmt.Errorf(format, args...))
}

// NotFoundf builds a not-found failure from a format string.
func NotFoundf(op string, format string, args ...any) error {
	return newError(KindNotFound, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsClassified reports whether err already carries a Kind.
func IsClassified(err error) bool {
	return KindOf(err) != KindUnknown
}

// IsRetryable reports whether err is an upstream or persistence failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
