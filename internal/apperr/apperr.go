// Package apperr classifies failures of the workspace and transcription
// pipeline into the few kinds the presentation layer knows how to surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a failure class. Kinds are comparable with errors.Is.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	InputMissing        Kind = "input missing"
	StorageFailure      Kind = "storage failure"
	ResourceLoadFailure Kind = "resource load failure"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind of e, so callers can write
// errors.Is(err, apperr.StorageFailure).
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Storage(op string, err error) *Error {
	return New(StorageFailure, op, err)
}

func ResourceLoad(op string, err error) *Error {
	return New(ResourceLoadFailure, op, err)
}

func Missing(op, what string) *Error {
	return New(InputMissing, op, errors.New(what))
}

// KindOf returns the kind carried by err, or "" when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InputMissing:
		return http.StatusBadRequest
	case ResourceLoadFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
