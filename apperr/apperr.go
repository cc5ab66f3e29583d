package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the connection loop.
type Kind int

const (
	KindUnknown Kind = iota
	KindProtocol
	KindValidation
	KindAuth
	KindNotFound
	KindPersistence
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Error is a classified error. Message is what the client sees; Cause stays
// server side.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Protocol reports a malformed line or unknown command.
func Protocol(message string) *Error {
	return &Error{Kind: KindProtocol, Message: message}
}

// Validation reports a missing or empty required field.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Auth reports a bad session token or bad credentials.
func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

// NotFound reports an unknown username or contact.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Persistence wraps a storage failure. The client only sees a generic message.
func Persistence(cause error) *Error {
	return &Error{Kind: KindPersistence, Message: "Storage failure", Cause: cause}
}

// Connection wraps a socket I/O failure.
func Connection(op string, cause error) *Error {
	return &Error{Kind: KindConnection, Message: op, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the client-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal error"
}
