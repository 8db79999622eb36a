package model

import "time"

// Session event topics published on the event bus.
const (
	EventLoginSuccess = "session:login_success"
	EventLoginFailed  = "session:login_failed"
	EventLogout       = "session:logout"
)

// SessionEvent describes a change of the session lifecycle.
type SessionEvent struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	At           time.Time   `json:"at"`
	Source       string      `json:"source"` // login, recovery, auto, logout
	Profile      UserProfile `json:"userInfo,omitempty"`
	ErrorKind    string      `json:"errorKind,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}
