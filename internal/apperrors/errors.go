// Package apperrors defines the error kinds shared by the engine, the pipeline
// stages and the HTTP surface.
package apperrors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation        = stderrors.New("validation error")
	ErrNotFound          = stderrors.New("not found")
	ErrConfiguration     = stderrors.New("configuration error")
	ErrSource            = stderrors.New("source error")
	ErrTransform         = stderrors.New("transform error")
	ErrStorage           = stderrors.New("storage error")
	ErrInvalidTransition = stderrors.New("invalid transition")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrConfiguration,
	ErrSource,
	ErrTransform,
	ErrStorage,
	ErrInvalidTransition,
}

// Error ties a kind to a message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an error of the given kind with a stack trace attached.
func New(kind error, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Wrap classifies cause as kind. The cause stays reachable through errors.Is/As.
func Wrap(kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause})
}

func Validation(format string, args ...interface{}) error {
	return New(ErrValidation, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return New(ErrNotFound, format, args...)
}

func Configuration(format string, args ...interface{}) error {
	return New(ErrConfiguration, format, args...)
}

func InvalidTransition(format string, args ...interface{}) error {
	return New(ErrInvalidTransition, format, args...)
}

// KindOf returns the first kind found in err's chain, or nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, kind := range kinds {
		if stderrors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Retryable reports whether a failure counts against the retry budget rather than
// being surfaced to the caller.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrValidation, ErrNotFound, ErrInvalidTransition:
		return false
	}
	return err != nil
}

// Detail renders err with its stack trace for log records.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%+v", err)
}
