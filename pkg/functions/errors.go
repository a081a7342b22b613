package functions

import (
	"errors"
	"net/http"
)

// Messages returned to callers. Clients show them verbatim.
const (
	MsgUnauthenticated     = "Authentication required"
	MsgServiceKeyRequired  = "Service key required"
	MsgInvalidBody         = "Invalid request body"
	MsgFunctionNotFound    = "Function not found"
	MsgTableNotFound       = "Table not found"
	MsgWithdrawalNotFound  = "Withdrawal not found"
	MsgNotCancellable      = "Withdrawal is not cancellable"
	MsgInvalidTransition   = "Withdrawal cannot move to the requested status"
	MsgInsufficientBalance = "Insufficient balance"
	MsgInternal            = "Internal server error"
)

// Rejection is a domain refusal. Status is the HTTP status it maps to and
// Message is safe to show to the user.
type Rejection struct {
	Status  int
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(status int, message string) *Rejection {
	return &Rejection{Status: status, Message: message}
}

// AsRejection reports whether err is a Rejection and returns it.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

var (
	errUnauthenticated = reject(http.StatusUnauthorized, MsgUnauthenticated)
	errServiceOnly     = reject(http.StatusForbidden, MsgServiceKeyRequired)
	errNotFound        = reject(http.StatusNotFound, MsgWithdrawalNotFound)
	errNotCancellable  = reject(http.StatusConflict, MsgNotCancellable)
)
