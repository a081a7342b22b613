// Package notify reports the outcome of user-triggered operations.
package notify

import (
	"context"
	"errors"
	"time"

	"propchain/pkg/gateway"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// GenericFailure is shown when the cause of a failure is not meant for users.
const GenericFailure = "Something went wrong. Please try again."

type Notification struct {
	Kind      Kind      `json:"kind"`
	Operation string    `json:"operation"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id,omitempty"`
	At        time.Time `json:"at"`
}

// Sink delivers notifications. Delivery is best effort and never fails the
// operation being reported.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// UserFacing is implemented by errors whose message is written for users.
type UserFacing interface {
	UserMessage() string
}

// Success builds a success notification.
func Success(op, title, message string) Notification {
	return Notification{
		Kind:      KindSuccess,
		Operation: op,
		Title:     title,
		Message:   message,
		At:        time.Now().UTC(),
	}
}

// ForError builds the error notification for err. Backend rejections and
// user-facing errors keep their message; everything else gets GenericFailure.
func ForError(op, title string, err error) Notification {
	return Notification{
		Kind:      KindError,
		Operation: op,
		Title:     title,
		Message:   Message(err),
		At:        time.Now().UTC(),
	}
}

// Message returns the text a user should see for err.
func Message(err error) string {
	if msg, ok := gateway.RejectionMessage(err); ok {
		return msg
	}

	var uf UserFacing
	if errors.As(err, &uf) {
		if msg := uf.UserMessage(); msg != "" {
			return msg
		}
	}
	return GenericFailure
}
