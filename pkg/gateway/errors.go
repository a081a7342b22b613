package gateway

import (
	"errors"
	"fmt"
)

// Kind separates failures the user can do nothing about from refusals the
// backend explained.
type Kind int

const (
	// KindTransport covers unreachable backends, timeouts, open circuits,
	// server errors and responses that could not be decoded.
	KindTransport Kind = iota
	// KindRejected is a deliberate refusal by the backend. Message carries
	// its explanation.
	KindRejected
)

func (k Kind) String() string {
	if k == KindRejected {
		return "rejected"
	}
	return "transport"
}

// Error is returned by every Gateway operation that fails.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindRejected:
		return fmt.Sprintf("gateway %s: rejected (%d): %s", e.Op, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("gateway %s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("gateway %s: transport failure", e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func transportError(op string, status int, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Status: status, Err: err}
}

func rejectedError(op string, status int, message string) *Error {
	return &Error{Kind: KindRejected, Op: op, Status: status, Message: message}
}

// IsTransport reports whether err is a gateway transport failure.
func IsTransport(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransport
}

// IsRejected reports whether err is a refusal by the backend.
func IsRejected(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindRejected
}

// RejectionMessage returns the backend's explanation of a rejection.
func RejectionMessage(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRejected {
		return e.Message, true
	}
	return "", false
}
