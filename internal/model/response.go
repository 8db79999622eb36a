package model

import "time"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type PingResponse struct {
	Message string `json:"message"`
}

type RootResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StateSnapshot is the read-only view of the login state machine.
type StateSnapshot struct {
	Phase      string `json:"phase"`
	RetryCount int    `json:"retryCount"`
	MaxRetries int    `json:"maxRetries"`
	LastError  string `json:"lastError,omitempty"`
	LoggingIn  bool   `json:"loggingIn"`
	Locked     bool   `json:"locked"`
}

type SessionResponse struct {
	State     StateSnapshot `json:"state"`
	LoggedIn  bool          `json:"loggedIn"`
	UserInfo  UserProfile   `json:"userInfo,omitempty"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
}

type SessionLoginRequest struct {
	Code string `json:"code"`
}

type ValidityResponse struct {
	Valid bool `json:"valid"`
}

type ProfileResponse struct {
	UserInfo UserProfile `json:"userInfo"`
}

type LogoutResponse struct {
	Status string `json:"status"`
}
