package main

import (
	"errors"
	"fmt"
	"net/http"
)

// Every recoverable failure of a room action falls into one of these
// kinds. They are reported to the originating actor only and never
// crash the room.
type errKind int

const (
	errNotFound errKind = iota
	errForbidden
	errInvalidState
	errValidation
)

type actionError struct {
	kind errKind
	msg  string
}

func (e *actionError) Error() string {
	return e.msg
}

func notFoundError(format string, args ...any) error {
	return &actionError{kind: errNotFound, msg: fmt.Sprintf(format, args...)}
}

func forbiddenError(format string, args ...any) error {
	return &actionError{kind: errForbidden, msg: fmt.Sprintf(format, args...)}
}

func invalidStateError(format string, args ...any) error {
	return &actionError{kind: errInvalidState, msg: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) error {
	return &actionError{kind: errValidation, msg: fmt.Sprintf(format, args...)}
}

func errorKind(err error) (errKind, bool) {
	var ae *actionError
	if errors.As(err, &ae) {
		return ae.kind, true
	}
	return 0, false
}

// httpStatus maps an action error onto a REST status code.
func httpStatus(err error) int {
	kind, ok := errorKind(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch kind {
	case errNotFound:
		return http.StatusNotFound
	case errForbidden:
		return http.StatusForbidden
	case errInvalidState:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
