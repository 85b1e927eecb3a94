package caption

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSelection is returned by Analyze when no image was selected.
	ErrNoSelection = errors.New("please select an image")
	// ErrBusy is returned when a request is already in flight.
	ErrBusy = errors.New("analysis already in progress")
)

// ErrorKind categorises caption failures.
type ErrorKind string

const (
	KindInput     ErrorKind = "input"
	KindTransport ErrorKind = "transport"
	KindProtocol  ErrorKind = "protocol"
)

// Error is a categorised caption failure. Status is the HTTP status for
// transport errors that got a response, zero otherwise.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func inputError(message string, cause error) *Error {
	return &Error{Kind: KindInput, Message: message, Cause: cause}
}

func transportError(message string, status int, cause error) *Error {
	return &Error{Kind: KindTransport, Message: message, Status: status, Cause: cause}
}

func protocolError(message string, cause error) *Error {
	return &Error{Kind: KindProtocol, Message: message, Cause: cause}
}

// IsKind reports whether err is a caption Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
