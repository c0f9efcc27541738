package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfiguration Kind = "ConfigurationError"
	KindUpstream      Kind = "UpstreamError"
	KindQuery         Kind = "QueryError"
	KindResultShape   Kind = "ResultShapeError"
	KindValidation    Kind = "ValidationError"
	KindInvalidInput  Kind = "InvalidInput"
	KindNotFound      Kind = "NotFound"
	KindLimit         Kind = "LimitExceeded"
	KindBusy          Kind = "SessionBusy"
	KindInternal      Kind = "InternalError"
)

// Error is a pipeline failure classified by kind. Message is what callers
// show to users; Err keeps the underlying cause for errors.Is/As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	if err != nil && message != "" {
		message = message + ": " + err.Error()
	} else if err != nil {
		message = err.Error()
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func Configuration(message string) *Error {
	return New(KindConfiguration, message)
}

func Upstream(message string, err error) *Error {
	return Wrap(KindUpstream, message, err)
}

func Query(err error) *Error {
	return Wrap(KindQuery, "", err)
}

func ResultShape(message string) *Error {
	return New(KindResultShape, message)
}

func Validation(message string, err error) *Error {
	return Wrap(KindValidation, message, err)
}

func InvalidInput(message string) *Error {
	return New(KindInvalidInput, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func Busy(message string) *Error {
	return New(KindBusy, message)
}

// KindOf reports the kind of the first *Error in err's chain, or
// KindInternal when err carries no classification.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of a classified error, or
// err.Error() otherwise.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) && classified.Message != "" {
		return classified.Message
	}
	return err.Error()
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
