// Package errs holds the typed error kinds shared by the pipeline components.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	ContentInsufficient        Kind = "content_insufficient"
	EmbeddingUnavailable       Kind = "embedding_unavailable"
	GenerationInvocationFailed Kind = "generation_invocation_failed"
	ResponseParseFailed        Kind = "response_parse_failed"
	QuestionValidationFailed   Kind = "question_validation_failed"
	InvalidArgument            Kind = "invalid_argument"
	ParseFailed                Kind = "parse_failed"
)

// Error is a pipeline failure tagged with its Kind. Raw carries the
// unparsed LLM output for ResponseParseFailed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Raw  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
// Untyped errors are reported as GenerationInvocationFailed.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return GenerationInvocationFailed
}

func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// RawOf returns the raw LLM response attached to err, if any.
func RawOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Raw
	}
	return ""
}
