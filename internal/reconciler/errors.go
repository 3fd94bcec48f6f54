package reconciler

import (
	"errors"
	"fmt"
)

// Kind classifies a conversion failure.  Validation failures are permanent:
// the event disagrees with stored state and retrying cannot help.  Upstream
// failures come from the store and may succeed on retry.
type Kind int

const (
	Validation Kind = iota + 1
	Upstream
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Upstream:
		return "upstream"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Messages carried by conversion errors.
const (
	MsgFetchTicket       = "cannot fetch ticket"
	MsgGroupID           = "invalid group id"
	MsgCategory          = "cannot find category"
	MsgCategoryName      = "invalid category name"
	MsgOwner             = "invalid owner"
	MsgGroupController   = "unable to retrieve group controller"
	MsgAuthorization     = "unable to retrieve linked authorization"
	MsgAuthorizationCode = "invalid broadcasted authorization code"
	MsgDryPayloads       = "cannot create dry update payloads"
)

// Error is returned by Convert.  Message is one of the Msg constants.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(msg string, err error) *Error { return &Error{Kind: Validation, Message: msg, Err: err} }

func upstream(msg string, err error) *Error { return &Error{Kind: Upstream, Message: msg, Err: err} }

// IsValidation reports whether err is a permanent conversion failure.
func IsValidation(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == Validation
}
