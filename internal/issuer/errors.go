package issuer

import (
	"errors"
	"fmt"
)

// Code tags an issuance failure so that callers can render a precise
// message.
type Code string

const (
	CodeUnauthorized         Code = "unauthorized"
	CodeCategoriesFetch      Code = "categories_fetch_error"
	CodeCategoryNotFound     Code = "cannot_find_category"
	CodeDateNotFound         Code = "cannot_resolve_date"
	CodeEventNotFound        Code = "cannot_resolve_event"
	CodeCodeGeneration       Code = "code_generation_error"
	CodeInvalidPayload       Code = "invalid_payload"
	CodeSignatureFailure     Code = "signature_failure"
	CodeAuthorizationCreate  Code = "authorization_creation_error"
	CodeTicketNotFound       Code = "cannot_find_ticket"
	CodeAuthorizationMissing Code = "cannot_find_authorization"
	CodeBindFailure          Code = "bind_failure"
)

// Error is the error returned by every Issuer operation.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(code Code, err error) *Error { return &Error{Code: code, Err: err} }

// CodeOf returns the tag carried by err, or "" if err is not an issuer error.
func CodeOf(err error) Code {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
