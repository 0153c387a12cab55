// Package apierr provides typed, inspectable errors for admin-facing
// operations. Admission and reputation decisions are never represented
// this way — they are values, not errors.
package apierr

import "fmt"

// Kind classifies an error for callers that need to branch on it
// rather than match strings.
type Kind string

const (
	Validation  Kind = "validation_error"
	NotFound    Kind = "not_found"
	Unauthorized Kind = "invalid_credentials"
	Internal    Kind = "internal_error"
)

// Error is a Kind-tagged error. Wrap a lower-level cause with Wrap
// when the kind should surface but the original error matters for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

func Wrap(k Kind, msg string, err error) *Error { return &Error{Kind: k, Msg: msg, Err: err} }

func Validationf(format string, a ...any) *Error {
	return &Error{Kind: Validation, Msg: fmt.Sprintf(format, a...)}
}

func NotFoundf(format string, a ...any) *Error {
	return &Error{Kind: NotFound, Msg: fmt.Sprintf(format, a...)}
}

func Internalf(err error, format string, a ...any) *Error {
	return &Error{Kind: Internal, Msg: fmt.Sprintf(format, a...), Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal for
// anything not built by this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Internal
}
