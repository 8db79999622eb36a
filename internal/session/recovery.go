package session

import (
	"context"

	"github.com/wordcheck/session-agent/internal/errs"
	"github.com/wordcheck/session-agent/internal/model"
	"github.com/wordcheck/session-agent/internal/store"
)

// HandleCodeReuse restores the session after a login code turned out to be
// consumed already. A cached token that still validates is reused as is.
func (m *Manager) HandleCodeReuse(ctx context.Context) (*model.Session, error) {
	start := m.now()
	sess, err := m.handleCodeReuse(ctx)
	m.finish(SourceRecovery, start, sess, err)
	return sess, err
}

func (m *Manager) handleCodeReuse(ctx context.Context) (*model.Session, error) {
	m.state.Set(PhaseRecovering)

	sess, err := m.recoverCached(ctx)
	if err != nil {
		m.state.fail(err)
		m.countRecovery(string(errs.KindOf(err)))
		m.log.Warn().Err(err).Msg("code reuse recovery failed")
		return nil, err
	}

	m.state.Set(PhaseLoggedIn)
	m.state.ResetRetry()
	m.state.SetLastError(nil)
	m.countRecovery("success")
	m.log.Info().Int64("user_id", sess.Profile.ID()).Msg("session recovered from cache")
	return sess, nil
}

func (m *Manager) recoverCached(ctx context.Context) (*model.Session, error) {
	token := m.token(ctx)
	if token == "" {
		return nil, errs.New(errs.AuthError, "no cached session to recover")
	}
	if !m.CheckTokenValidity(ctx) {
		m.clearSession(ctx)
		return nil, errs.New(errs.TokenExpired, "cached session is no longer valid, please log in again")
	}

	profile := m.cachedProfile(ctx)
	if profile == nil {
		fetched, err := m.fetchProfile(ctx, token)
		if err != nil {
			return nil, err
		}
		profile = fetched
	}

	return &model.Session{
		Token:     token,
		Profile:   profile,
		LoginAt:   model.MillisToTime(store.GetInt64(ctx, m.store, model.KeyLoginTime)),
		ExpiresAt: model.MillisToTime(store.GetInt64(ctx, m.store, model.KeyTokenExpireTime)),
	}, nil
}

// CheckTokenValidity checks the local expiry first and asks the auth
// service second. Transport failures and server errors count as valid so a
// flaky connection never logs the user out.
func (m *Manager) CheckTokenValidity(ctx context.Context) bool {
	token := m.token(ctx)
	if token == "" {
		return false
	}

	if exp := store.GetInt64(ctx, m.store, model.KeyTokenExpireTime); exp > 0 && !m.now().Before(model.MillisToTime(exp)) {
		m.log.Info().Msg("token expired locally")
		m.clearSession(ctx)
		m.settle(PhaseIdle)
		return false
	}

	valid, err := m.auth.CheckToken(ctx, token)
	if err != nil {
		m.log.Warn().Err(err).Msg("token validation unavailable, assuming valid")
		return true
	}
	if !valid {
		m.log.Info().Msg("token rejected by auth service")
		m.clearSession(ctx)
		m.settle(PhaseIdle)
		return false
	}
	m.settle(PhaseLoggedIn)
	return true
}

// settle moves the state unless a login or recovery owns it.
func (m *Manager) settle(p Phase) {
	if !m.state.IsLoggingIn() {
		m.state.Set(p)
	}
}

func (m *Manager) countRecovery(result string) {
	if m.metrics != nil {
		m.metrics.ReuseRecoveries.WithLabelValues(result).Inc()
	}
}
