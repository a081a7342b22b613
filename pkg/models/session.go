package models

// SessionState is the coarse authentication presence of a caller.
type SessionState string

const (
	SessionUnknown         SessionState = "unknown"
	SessionAuthenticated   SessionState = "authenticated"
	SessionUnauthenticated SessionState = "unauthenticated"
)

// Session is passed explicitly into every call that acts on behalf of a user.
type Session struct {
	State       SessionState `json:"state"`
	UserID      string       `json:"user_id,omitempty"`
	AccessToken string       `json:"-"`
}

// Authenticated reports whether the session belongs to a signed-in user.
func (s Session) Authenticated() bool {
	return s.State == SessionAuthenticated && s.UserID != ""
}

// Anonymous returns an unauthenticated session.
func Anonymous() Session {
	return Session{State: SessionUnauthenticated}
}
