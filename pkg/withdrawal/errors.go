package withdrawal

import (
	"strings"

	"propchain/pkg/validation"
)

// ErrUnauthenticated is returned, before any outbound call, when the session
// does not belong to a signed-in user.
var ErrUnauthenticated error = unauthenticatedError{}

type unauthenticatedError struct{}

func (unauthenticatedError) Error() string       { return "withdrawal: session is not authenticated" }
func (unauthenticatedError) UserMessage() string { return "Please sign in to continue." }

// ValidationError reports input rejected locally. Nothing was sent.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	return "withdrawal: invalid input: " + e.Message
}

// UserMessage is shown to the user as is.
func (e *ValidationError) UserMessage() string {
	if e.Message == "" {
		return ""
	}
	return strings.ToUpper(e.Message[:1]) + e.Message[1:]
}

func newValidationError(err error) *ValidationError {
	msg := validation.Describe(err)
	if msg == "" {
		msg = "invalid input"
	}
	return &ValidationError{Fields: validation.Fields(err), Message: msg}
}
