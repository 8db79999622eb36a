package session

import (
	"context"
	"strings"

	"github.com/wordcheck/session-agent/internal/errs"
	"github.com/wordcheck/session-agent/internal/model"
	"github.com/wordcheck/session-agent/internal/store"
)

// FetchProfile loads the profile from the auth service and caches it.
func (m *Manager) FetchProfile(ctx context.Context) (model.UserProfile, error) {
	token := m.token(ctx)
	if token == "" {
		return nil, errs.New(errs.AuthError, "not logged in")
	}
	return m.fetchProfile(ctx, token)
}

func (m *Manager) fetchProfile(ctx context.Context, token string) (model.UserProfile, error) {
	profile, err := m.auth.FetchProfile(ctx, token)
	if err != nil {
		if errs.SessionInvalid(err) {
			m.clearSession(ctx)
			m.settle(PhaseIdle)
		}
		return nil, err
	}
	m.storeProfile(ctx, profile)
	return profile, nil
}

// RefreshProfileIfNeeded returns the cached profile while it is fresh and
// refetches it otherwise. A failed refetch falls back to the cache unless
// the session itself is gone.
func (m *Manager) RefreshProfileIfNeeded(ctx context.Context) (model.UserProfile, error) {
	cached := m.cachedProfile(ctx)
	last := model.MillisToTime(store.GetInt64(ctx, m.store, model.KeyUserInfoUpdated))
	if cached != nil && !last.IsZero() && m.now().Sub(last) < m.cfg.ProfileRefresh {
		return cached, nil
	}

	profile, err := m.FetchProfile(ctx)
	if err != nil {
		if cached != nil && !errs.SessionInvalid(err) {
			m.log.Warn().Err(err).Msg("profile refresh failed, using cached profile")
			return cached, nil
		}
		return nil, err
	}
	return profile, nil
}

// BindPhone attaches the phone number carried by the encrypted payload to
// the account. Transport and server failures are retried with backoff.
func (m *Manager) BindPhone(ctx context.Context, encryptedData, iv string) (*model.BindPhoneResult, error) {
	if strings.TrimSpace(encryptedData) == "" || strings.TrimSpace(iv) == "" {
		return nil, errs.New(errs.ParamError, "encryptedData and iv are required")
	}
	token := m.token(ctx)
	if token == "" {
		return nil, errs.New(errs.AuthError, "not logged in")
	}

	req := model.BindPhoneRequest{EncryptedData: encryptedData, IV: iv}
	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, m.backoff.Delay(attempt-1)); err != nil {
				return nil, errs.Wrap(errs.TimeoutError, "phone binding cancelled", err)
			}
		}

		result, err := m.auth.BindPhone(ctx, token, req)
		if err == nil {
			m.applyPhone(ctx, result.PhoneNumber)
			m.log.Info().Msg("phone number bound")
			return result, nil
		}
		lastErr = err

		if errs.SessionInvalid(err) {
			m.clearSession(ctx)
			m.settle(PhaseIdle)
			return nil, err
		}
		if !errs.Retryable(err) {
			return nil, err
		}
		m.log.Warn().Err(err).Int("attempt", attempt+1).Msg("phone binding failed")
	}
	return nil, errs.Wrap(errs.RetryLimitReached, "phone binding failed too many times", lastErr)
}

func (m *Manager) applyPhone(ctx context.Context, phone string) {
	profile := m.cachedProfile(ctx)
	if profile == nil {
		return
	}
	if phone != "" {
		profile["phoneNumber"] = phone
	}
	profile["hasBindPhone"] = true
	m.storeProfile(ctx, profile)
}

func (m *Manager) storeProfile(ctx context.Context, profile model.UserProfile) {
	if err := store.SetJSON(ctx, m.store, model.KeyUserInfo, profile); err != nil {
		m.log.Error().Err(err).Msg("failed to cache profile")
		return
	}
	if err := store.SetInt64(ctx, m.store, model.KeyUserInfoUpdated, m.now().UnixMilli()); err != nil {
		m.log.Error().Err(err).Msg("failed to record profile refresh time")
	}
}
