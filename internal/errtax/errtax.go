// Package errtax names the error-kind taxonomy the rest of blockforge
// reports against, so that callers can branch on kind instead of string
// matching.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package errtax

import "errors"

// Kind is one of the taxonomy entries from the error handling design.
type Kind string

const (
	Configuration    Kind = "ConfigurationError"
	SourceFetch      Kind = "SourceFetchError"
	DirectiveSyntax  Kind = "DirectiveSyntaxError"
	IncludeCycle     Kind = "IncludeCycle"
	IncludeMissing   Kind = "IncludeMissing"
	IncludeTooDeep   Kind = "IncludeDepthExceeded"
	Transformation   Kind = "TransformationError"
	Storage          Kind = "StorageError"
	Cancelled        Kind = "Cancelled"
	Timeout          Kind = "Timeout"
	RateLimited      Kind = "RateLimited"
	OverCapacity     Kind = "OverCapacity"
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.Op
	}
	return string(e.Kind) + ": " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error.
func New(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the taxonomy kind of err, or "" if err wasn't built by New.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Fatal reports whether errors of this kind must fail the owning operation
// outright (configuration / root-source errors) as opposed to degrading to
// a diagnostic (cache/include/transformation/health errors).
func Fatal(kind Kind) bool {
	switch kind {
	case Configuration, SourceFetch, DirectiveSyntax, Timeout, RateLimited, OverCapacity:
		return true
	default:
		return false
	}
}
