package core

import (
	"errors"
	"fmt"
)

// Code is a closed taxonomy of error conditions raised by the core. It
// mirrors §7 of the design: collaborators switch on Code rather than
// string-matching error text.
type Code int

const (
	CodeUnknown Code = iota
	CodeNotAuthorised
	CodeNoUser
	CodeContactExists
	CodeNoContact
	CodeInvalidQuery
	CodeNoData
	CodeInvalidPayload
	CodeCallbackTimeout
	CodeNoSign
	CodeBadSign
	CodeNetworkFault
	CodeNoRoute
	CodeBadSerialise
	CodeNoService
	CodeServiceExists
	CodeCommFault
)

func (c Code) String() string {
	switch c {
	case CodeNotAuthorised:
		return "NotAuthorised"
	case CodeNoUser:
		return "NoUser"
	case CodeContactExists:
		return "ContactExists"
	case CodeNoContact:
		return "NoContact"
	case CodeInvalidQuery:
		return "InvalidQuery"
	case CodeNoData:
		return "NoData"
	case CodeInvalidPayload:
		return "InvalidPayload"
	case CodeCallbackTimeout:
		return "CallbackTimeout"
	case CodeNoSign:
		return "NoSign"
	case CodeBadSign:
		return "BadSign"
	case CodeNetworkFault:
		return "NetworkFault"
	case CodeNoRoute:
		return "NoRoute"
	case CodeBadSerialise:
		return "BadSerialise"
	case CodeNoService:
		return "NoService"
	case CodeServiceExists:
		return "ServiceExists"
	case CodeCommFault:
		return "CommFault"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across the core's public
// surface. It always carries a Code so the responder (§4.I) can convert it
// to a Response::Error without string sniffing.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error that carries an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
