package model

import "time"

// DevUser is a user known to the development auth server.
type DevUser struct {
	ID          int64
	OpenID      string
	Nickname    string
	AvatarURL   string
	PhoneNumber string
	Points      int
	CreatedAt   time.Time
}

// Profile renders the user the way the wordcheck backend returns it.
func (u *DevUser) Profile() UserProfile {
	p := UserProfile{
		"id":        u.ID,
		"openid":    u.OpenID,
		"nickname":  u.Nickname,
		"avatarUrl": u.AvatarURL,
		"points":    u.Points,
	}
	if u.PhoneNumber != "" {
		p["phoneNumber"] = u.PhoneNumber
		p["hasBindPhone"] = true
	}
	return p
}

type AuthUser struct {
	ID     int64
	OpenID string
}

type DevCodeResponse struct {
	Code string `json:"code"`
}

// APIResponse is the {error, message, body} envelope of the wordcheck backend.
type APIResponse struct {
	Error   any    `json:"error"`
	Message string `json:"message"`
	Body    any    `json:"body"`
}
