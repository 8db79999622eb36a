package client

import (
	"bytes"
	"encoding/json"
	"strings"
)

// envelope accepts every success shape the wordcheck backend has used:
// {success:true,data}, {error:0,body} and {code:200,data}.
type envelope struct {
	Success     *bool           `json:"success"`
	Error       json.RawMessage `json:"error"`
	Code        json.RawMessage `json:"code"`
	Message     string          `json:"message"`
	Msg         string          `json:"msg"`
	Data        json.RawMessage `json:"data"`
	Body        json.RawMessage `json:"body"`
	Valid       *bool           `json:"valid"`
	PhoneNumber string          `json:"phoneNumber"`
}

func parseEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// OK reports whether the envelope signals business success.
func (e *envelope) OK() bool {
	if e.Success != nil {
		return *e.Success
	}
	if n, ok := rawNumber(e.Error); ok && n == 0 {
		return true
	}
	if n, ok := rawNumber(e.Code); ok && n == 200 {
		return true
	}
	return false
}

// Payload returns body, falling back to data.
func (e *envelope) Payload() json.RawMessage {
	if !isNull(e.Body) {
		return e.Body
	}
	if !isNull(e.Data) {
		return e.Data
	}
	return nil
}

func (e *envelope) ErrorMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Msg != "" {
		return e.Msg
	}
	if s, ok := rawString(e.Error); ok {
		return s
	}
	return ""
}

// CodeUsed reports whether the server rejected the login code as already consumed.
func (e *envelope) CodeUsed() bool {
	if s, ok := rawString(e.Error); ok && isCodeUsedMarker(s) {
		return true
	}
	if s, ok := rawString(e.Code); ok && isCodeUsedMarker(s) {
		return true
	}
	var nested struct {
		Code string `json:"code"`
	}
	if len(e.Error) > 0 && e.Error[0] == '{' && json.Unmarshal(e.Error, &nested) == nil && isCodeUsedMarker(nested.Code) {
		return true
	}
	msg := strings.ToLower(e.Message + " " + e.Msg)
	return strings.Contains(msg, "已使用") || strings.Contains(msg, "already used")
}

func isCodeUsedMarker(s string) bool {
	return strings.EqualFold(s, "code_used")
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func rawNumber(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

func rawString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
