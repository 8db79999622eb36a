package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Storage keys shared with the mini-program's local storage layout.
const (
	KeyToken           = "token"
	KeyUserInfo        = "userInfo"
	KeyLoginTime       = "loginTime"
	KeyTokenExpireTime = "tokenExpireTime"
	KeyUserInfoUpdated = "userInfoLastUpdate"
	KeyUsedLoginCodes  = "wx_login_used_codes"
)

// UserProfile is the user attribute bag returned by the auth service.
type UserProfile map[string]any

// ID returns the numeric user id, or 0 when absent or malformed.
func (p UserProfile) ID() int64 {
	if p == nil {
		return 0
	}
	switch v := p["id"].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func (p UserProfile) String(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

type Session struct {
	Token     string      `json:"-"`
	Profile   UserProfile `json:"userInfo"`
	ExpiresAt time.Time   `json:"expiresAt"`
	LoginAt   time.Time   `json:"loginAt,omitempty"`
}

// Valid reports whether the session is fully present and unexpired at now.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.Token == "" || len(s.Profile) == 0 {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// CodeStatus is the lifecycle status of a single-use login code.
type CodeStatus string

const (
	CodeUnused  CodeStatus = "UNUSED"
	CodePending CodeStatus = "PENDING"
	CodeUsed    CodeStatus = "USED"
	CodeFailed  CodeStatus = "FAILED"
)

// CodeEntry is one persisted ledger record; Time is epoch milliseconds.
type CodeEntry struct {
	Status CodeStatus `json:"status"`
	Time   int64      `json:"time"`
}

// LoginRequest is the body of POST /auth/wx-login.
type LoginRequest struct {
	Code     string `json:"code"`
	AppID    string `json:"appId"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	System   string `json:"system"`
}

// LoginPayload is the canonical form of a successful exchange.
type LoginPayload struct {
	Token   string      `json:"token"`
	Profile UserProfile `json:"userInfo"`
}

type BindPhoneRequest struct {
	EncryptedData string `json:"encryptedData"`
	IV            string `json:"iv"`
}

type BindPhoneResult struct {
	PhoneNumber string `json:"phoneNumber"`
}

func MillisToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
