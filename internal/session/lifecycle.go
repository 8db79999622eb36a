package session

import (
	"context"
	"time"

	"github.com/wordcheck/session-agent/internal/model"
	"github.com/wordcheck/session-agent/internal/store"
)

var sessionKeys = []string{
	model.KeyToken,
	model.KeyUserInfo,
	model.KeyUserInfoUpdated,
	model.KeyLoginTime,
	model.KeyTokenExpireTime,
}

// Current returns the persisted session, or nil when none is fully
// present. An expired token is cleared on the way.
func (m *Manager) Current(ctx context.Context) *model.Session {
	token := m.token(ctx)
	if token == "" {
		return nil
	}
	sess := &model.Session{
		Token:     token,
		Profile:   m.cachedProfile(ctx),
		LoginAt:   model.MillisToTime(store.GetInt64(ctx, m.store, model.KeyLoginTime)),
		ExpiresAt: model.MillisToTime(store.GetInt64(ctx, m.store, model.KeyTokenExpireTime)),
	}
	if !sess.ExpiresAt.IsZero() && !m.now().Before(sess.ExpiresAt) {
		m.clearSession(ctx)
		m.settle(PhaseIdle)
		return nil
	}
	if !sess.Valid(m.now()) {
		return nil
	}
	return sess
}

func (m *Manager) IsLoggedIn(ctx context.Context) bool {
	return m.Current(ctx) != nil
}

// AutoLogin reuses a cached session that still validates and otherwise
// logs in with a fresh code.
func (m *Manager) AutoLogin(ctx context.Context) (*model.Session, error) {
	if sess := m.Current(ctx); sess != nil && m.CheckTokenValidity(ctx) {
		if profile, err := m.RefreshProfileIfNeeded(ctx); err == nil {
			sess.Profile = profile
		}
		m.log.Info().Int64("user_id", sess.Profile.ID()).Msg("reusing cached session")
		return sess, nil
	}
	return m.LoginWithNewCode(ctx, true)
}

// Logout clears the persisted session and resets the coordinator. It
// always succeeds; store errors are only logged.
func (m *Manager) Logout(ctx context.Context) {
	m.reset(ctx)
	m.events.logout()
	m.log.Info().Msg("logged out")
}

// Reset returns every piece of login state to its initial value without
// announcing a logout.
func (m *Manager) Reset(ctx context.Context) {
	m.reset(ctx)
	m.log.Info().Msg("login state reset")
}

func (m *Manager) reset(ctx context.Context) {
	m.clearSession(ctx)
	m.state.Set(PhaseIdle)
	m.state.ResetRetry()
	m.state.SetLastError(nil)
	m.lock.Release()
}

// Sweep purges expired ledger entries.
func (m *Manager) Sweep(ctx context.Context) int {
	n := m.ledger.CleanExpired(ctx)
	if m.metrics != nil && n > 0 {
		m.metrics.CodesSwept.Add(float64(n))
	}
	return n
}

// Run sweeps the ledger on every tick until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

func (m *Manager) token(ctx context.Context) string {
	token, ok, err := m.store.Get(ctx, model.KeyToken)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to read token")
		return ""
	}
	if !ok {
		return ""
	}
	return token
}

func (m *Manager) cachedProfile(ctx context.Context) model.UserProfile {
	var profile model.UserProfile
	found, err := store.GetJSON(ctx, m.store, model.KeyUserInfo, &profile)
	if err != nil {
		m.log.Warn().Err(err).Msg("cached profile unreadable")
		return nil
	}
	if !found {
		return nil
	}
	return profile
}

func (m *Manager) clearSession(ctx context.Context) {
	if err := store.RemoveAll(ctx, m.store, sessionKeys...); err != nil {
		m.log.Error().Err(err).Msg("failed to clear session")
	}
}
