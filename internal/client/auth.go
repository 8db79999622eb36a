// wordcheck auth service client
//
// Environment:
//   - API_BASE_URL: API root, e.g. http://127.0.0.1:8080/api/v1
//   - AUTH_REQUEST_TIMEOUT: per-request timeout (default: 15s)
//
// Every call is a single attempt. Retries and backoff belong to the
// session coordinator, which reads the errs.Kind of each failure.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wordcheck/session-agent/internal/config"
	"github.com/wordcheck/session-agent/internal/errs"
	"github.com/wordcheck/session-agent/internal/model"
)

type AuthClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAuthClient talks to cfg.BaseURL with cfg.RequestTimeout per call.
func NewAuthClient(cfg config.AuthConfig) *AuthClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080/api/v1"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &AuthClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type loginData struct {
	Token    string            `json:"token"`
	UserInfo model.UserProfile `json:"userInfo"`
	User     model.UserProfile `json:"user"`
}

// POST /auth/wx-login exchanges a login code for a token and profile.
func (c *AuthClient) ExchangeCode(ctx context.Context, req model.LoginRequest) (*model.LoginPayload, error) {
	status, raw, err := c.do(ctx, http.MethodPost, "/auth/wx-login", "", req)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusTooManyRequests:
		return nil, errs.New(errs.RateLimited, "too many login requests").WithStatus(status)
	case status == http.StatusUnauthorized:
		return nil, errs.New(errs.TokenExpired, "login rejected as unauthorized").WithStatus(status)
	case status == http.StatusBadRequest:
		env, perr := parseEnvelope(raw)
		if perr == nil && env.CodeUsed() {
			return nil, errs.New(errs.CodeUsed, "login code already used").WithStatus(status)
		}
		return nil, errs.New(errs.ServerError, serverMessage(env, raw, status)).WithStatus(status)
	case status < 200 || status >= 300:
		env, _ := parseEnvelope(raw)
		return nil, errs.New(errs.ServerError, serverMessage(env, raw, status)).WithStatus(status)
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, errs.Wrap(errs.ServerError, "invalid login response", err).WithStatus(status)
	}
	if !env.OK() {
		if env.CodeUsed() {
			return nil, errs.New(errs.CodeUsed, "login code already used").WithStatus(status)
		}
		return nil, errs.New(errs.ServerError, serverMessage(env, raw, status)).WithStatus(status)
	}

	var data loginData
	if payload := env.Payload(); payload != nil {
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, errs.Wrap(errs.ServerError, "invalid login payload", err).WithStatus(status)
		}
	}
	if data.Token == "" {
		return nil, errs.New(errs.ServerError, "login response missing token").WithStatus(status)
	}

	profile := data.UserInfo
	if profile == nil {
		profile = data.User
	}
	return &model.LoginPayload{Token: data.Token, Profile: profile}, nil
}

// GET /user/check-token. A 401 or 403 answer means the token is invalid.
func (c *AuthClient) CheckToken(ctx context.Context, token string) (bool, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/user/check-token", token, nil)
	if err != nil {
		return false, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return false, nil
	}
	if status < 200 || status >= 300 {
		return false, errs.New(errs.ServerError, fmt.Sprintf("check-token returned status %d", status)).WithStatus(status)
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		return false, errs.Wrap(errs.ServerError, "invalid check-token response", err).WithStatus(status)
	}
	if env.Valid != nil {
		return *env.Valid, nil
	}
	if payload := env.Payload(); payload != nil {
		var inner struct {
			Valid *bool `json:"valid"`
		}
		if json.Unmarshal(payload, &inner) == nil && inner.Valid != nil {
			return *inner.Valid, nil
		}
	}
	return env.OK(), nil
}

// GET /user returns the profile of the token's owner.
func (c *AuthClient) FetchProfile(ctx context.Context, token string) (model.UserProfile, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/user", token, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, errs.New(errs.TokenExpired, "token rejected").WithStatus(status)
	}
	env, perr := parseEnvelope(raw)
	if status < 200 || status >= 300 {
		return nil, errs.New(errs.ServerError, serverMessage(env, raw, status)).WithStatus(status)
	}
	if perr != nil {
		return nil, errs.Wrap(errs.ServerError, "invalid profile response", perr).WithStatus(status)
	}
	if !env.OK() {
		return nil, errs.New(errs.ServerError, serverMessage(env, raw, status)).WithStatus(status)
	}

	var profile model.UserProfile
	if payload := env.Payload(); payload != nil {
		if err := json.Unmarshal(payload, &profile); err != nil {
			return nil, errs.Wrap(errs.ServerError, "invalid profile payload", err).WithStatus(status)
		}
	}
	if nested, ok := profile["userInfo"].(map[string]any); ok {
		profile = model.UserProfile(nested)
	}
	if len(profile) == 0 {
		return nil, errs.New(errs.ServerError, "profile response is empty").WithStatus(status)
	}
	return profile, nil
}

// POST /user/bind-phone attaches the decrypted phone number to the account.
func (c *AuthClient) BindPhone(ctx context.Context, token string, req model.BindPhoneRequest) (*model.BindPhoneResult, error) {
	status, raw, err := c.do(ctx, http.MethodPost, "/user/bind-phone", token, req)
	if err != nil {
		return nil, err
	}
	env, perr := parseEnvelope(raw)
	switch {
	case status == http.StatusUnauthorized:
		return nil, errs.New(errs.TokenExpired, "token rejected").WithStatus(status)
	case status >= 500:
		return nil, errs.New(errs.ServerError, serverMessage(env, raw, status)).WithStatus(status)
	case status < 200 || status >= 300:
		return nil, errs.New(errs.PhoneBindingError, serverMessage(env, raw, status)).WithStatus(status)
	}
	if perr != nil {
		return nil, errs.Wrap(errs.PhoneBindingError, "invalid bind-phone response", perr).WithStatus(status)
	}
	if !env.OK() {
		return nil, errs.New(errs.PhoneBindingError, serverMessage(env, raw, status)).WithStatus(status)
	}

	result := &model.BindPhoneResult{PhoneNumber: env.PhoneNumber}
	if payload := env.Payload(); payload != nil {
		var inner model.BindPhoneResult
		if json.Unmarshal(payload, &inner) == nil && inner.PhoneNumber != "" {
			result.PhoneNumber = inner.PhoneNumber
		}
	}
	return result, nil
}

func (c *AuthClient) do(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, errs.Wrap(errs.UnknownError, "failed to marshal request", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, errs.Wrap(errs.UnknownError, "failed to create request", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, transportError(err)
	}
	return resp.StatusCode, raw, nil
}

// transportError classifies a failed round trip as TIMEOUT_ERROR or NETWORK_ERROR.
func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.TimeoutError, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(errs.TimeoutError, "request timed out", err)
	}
	return errs.Wrap(errs.NetworkError, "request failed", err)
}

func serverMessage(env *envelope, raw []byte, status int) string {
	if env != nil {
		if msg := env.ErrorMessage(); msg != "" {
			return msg
		}
	}
	text := strings.TrimSpace(string(raw))
	if text != "" && len(text) <= 200 {
		return fmt.Sprintf("server returned status %d: %s", status, text)
	}
	return fmt.Sprintf("server returned status %d", status)
}
