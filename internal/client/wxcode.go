package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CodeSource yields a fresh single-use platform login code (wx.login).
type CodeSource interface {
	LoginCode(ctx context.Context) (string, error)
}

// WxCodeSource fetches codes over HTTP. In development the devauth server
// plays the role of the WeChat runtime.
type WxCodeSource struct {
	url        string
	httpClient *http.Client
}

func NewWxCodeSource(url string, timeout time.Duration) *WxCodeSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WxCodeSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *WxCodeSource) LoginCode(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call code source: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("code source returned status %d: %s", resp.StatusCode, string(raw))
	}

	var direct struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(raw, &direct); err == nil && direct.Code != "" {
		return direct.Code, nil
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if payload := env.Payload(); payload != nil {
		var inner struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(payload, &inner); err == nil {
			return inner.Code, nil
		}
	}
	return "", nil
}
