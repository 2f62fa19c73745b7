package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Codes surfaced to callers. Handlers map these to HTTP statuses via Status.
const (
	CodeUnsupportedType   = "unsupported_type"
	CodeTooLarge          = "too_large"
	CodeLimitReached      = "limit_reached"
	CodeDuplicateFilename = "duplicate_filename"
	CodeEmptyQuery        = "empty_query"
	CodeNotFound          = "not_found"
	CodeNotAuthorized     = "not_authorized"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func UnsupportedType(err error) *Error {
	return New(http.StatusUnsupportedMediaType, CodeUnsupportedType, err)
}

func TooLarge(err error) *Error {
	return New(http.StatusRequestEntityTooLarge, CodeTooLarge, err)
}

func LimitReached(err error) *Error {
	return New(http.StatusConflict, CodeLimitReached, err)
}

func DuplicateFilename(err error) *Error {
	return New(http.StatusConflict, CodeDuplicateFilename, err)
}

func EmptyQuery(err error) *Error {
	return New(http.StatusBadRequest, CodeEmptyQuery, err)
}

func NotFound(err error) *Error {
	return New(http.StatusNotFound, CodeNotFound, err)
}

func NotAuthorized(err error) *Error {
	return New(http.StatusForbidden, CodeNotAuthorized, err)
}

// As unwraps err to an *Error when one is present anywhere in the chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
