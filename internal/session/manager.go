// Package session coordinates WeChat login: it turns "acquire a single-use
// login code, exchange it for a token" into an operation that is safe to
// call concurrently, retries transient failures and recovers when the
// auth service reports a code as already consumed.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wordcheck/session-agent/internal/client"
	"github.com/wordcheck/session-agent/internal/config"
	"github.com/wordcheck/session-agent/internal/errs"
	"github.com/wordcheck/session-agent/internal/logger"
	"github.com/wordcheck/session-agent/internal/metrics"
	"github.com/wordcheck/session-agent/internal/model"
	"github.com/wordcheck/session-agent/internal/store"
)

// AuthAPI is the remote auth service.
type AuthAPI interface {
	ExchangeCode(ctx context.Context, req model.LoginRequest) (*model.LoginPayload, error)
	CheckToken(ctx context.Context, token string) (bool, error)
	FetchProfile(ctx context.Context, token string) (model.UserProfile, error)
	BindPhone(ctx context.Context, token string, req model.BindPhoneRequest) (*model.BindPhoneResult, error)
}

// Event sources.
const (
	SourceLogin    = "login"
	SourceAuto     = "auto"
	SourceManual   = "manual"
	SourceRetry    = "retry"
	SourceRecovery = "recovery"
)

var (
	errAbandoned = errors.New("login attempt outlived its lock")
	// errNotStored marks failures after a successful exchange: the server
	// has consumed the code but no complete session could be kept.
	errNotStored = errors.New("exchange succeeded but the session was not stored")
)

// Options carries the collaborators of a Manager. Events and Metrics may
// be nil.
type Options struct {
	Session config.SessionConfig
	App     config.AppConfig
	Store   store.Store
	Auth    AuthAPI
	Codes   client.CodeSource
	Events  *Events
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Manager is the login coordinator. One instance per process owns the
// lock, the state machine and the ledger.
type Manager struct {
	cfg      config.SessionConfig
	app      config.AppConfig
	store    store.Store
	auth     AuthAPI
	ledger   *Ledger
	lock     *Lock
	state    *State
	acquirer *Acquirer
	backoff  *Backoff
	events   *Events
	metrics  *metrics.Metrics
	log      zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager builds the coordinator and its ledger, lock, state machine
// and code acquirer.
func NewManager(opts Options) *Manager {
	cfg := opts.Session
	def := config.DefaultSession()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.ProfileRefresh <= 0 {
		cfg.ProfileRefresh = def.ProfileRefresh
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	log := opts.Logger
	ledger := NewLedger(opts.Store, cfg.CodeExpiry, log)
	m := &Manager{
		cfg:      cfg,
		app:      opts.App,
		store:    opts.Store,
		auth:     opts.Auth,
		ledger:   ledger,
		lock:     NewLock(cfg.LockTimeout, log),
		state:    NewState(cfg.MaxRetries),
		acquirer: NewAcquirer(opts.Codes, ledger, cfg.CodeSpacing, log),
		backoff:  NewBackoff(cfg.BackoffBase, cfg.BackoffMax, cfg.BackoffJitter),
		events:   opts.Events,
		metrics:  opts.Metrics,
		log:      logger.Component(log, "session"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	m.lock.OnAutoRelease(m.onLockTimeout)
	return m
}

func (m *Manager) Ledger() *Ledger { return m.ledger }
func (m *Manager) Lock() *Lock     { return m.lock }
func (m *Manager) State() *State   { return m.state }

// Snapshot is the read-only view handed to page controllers.
func (m *Manager) Snapshot() model.StateSnapshot {
	snap := m.state.Snapshot()
	snap.Locked = m.lock.IsLocked()
	return snap
}

// Login exchanges code for a session. Calling it after a failed login
// counts as a retry and is refused once the retry budget is spent.
func (m *Manager) Login(ctx context.Context, code string) (*model.Session, error) {
	start := m.now()
	sess, err := m.login(ctx, code, true)
	m.finish(SourceLogin, start, sess, err)
	return sess, err
}

// LoginWithNewCode acquires a fresh code and logs in with it. It never
// queues behind a running login.
func (m *Manager) LoginWithNewCode(ctx context.Context, auto bool) (*model.Session, error) {
	source := SourceManual
	if auto {
		source = SourceAuto
	}
	start := m.now()
	sess, err := m.loginWithNewCode(ctx)
	m.finish(source, start, sess, err)
	return sess, err
}

// Retry starts a new login with a fresh code after a failed one.
func (m *Manager) Retry(ctx context.Context) (*model.Session, error) {
	if m.state.Phase() != PhaseLoginFailed {
		return nil, errs.New(errs.ParamError, "no failed login to retry")
	}
	start := m.now()
	sess, err := m.loginWithNewCode(ctx)
	m.finish(SourceRetry, start, sess, err)
	return sess, err
}

func (m *Manager) loginWithNewCode(ctx context.Context) (*model.Session, error) {
	if m.lock.IsLocked() {
		return nil, errs.New(errs.LoginInProgress, "a login is already in progress")
	}
	if m.state.Phase() == PhaseLoginFailed && !m.state.CanRetry() {
		return nil, retryLimit(m.state.LastError())
	}
	code, err := m.acquirer.Acquire(ctx)
	if err != nil {
		// a logged-in session stays usable when the platform call fails
		if !m.lock.IsLocked() && m.state.Phase() != PhaseLoggedIn {
			m.state.fail(err)
		}
		return nil, err
	}
	return m.login(ctx, code, true)
}

func (m *Manager) login(ctx context.Context, code string, gate bool) (sess *model.Session, err error) {
	if strings.TrimSpace(code) == "" {
		return nil, errs.New(errs.ParamError, "login code is empty")
	}
	if m.ledger.Status(ctx, code) == model.CodeFailed {
		return nil, errs.New(errs.ParamError, "login code already failed, acquire a new one")
	}

	gen, ok := m.lock.Acquire()
	if !ok {
		return nil, errs.New(errs.LoginInProgress, "a login is already in progress")
	}
	log := m.log.With().Str("code", logger.Mask(code)).Uint64("generation", gen).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("login aborted by panic")
			m.lock.ReleaseGen(gen)
			sess = nil
			err = errs.New(errs.UnknownError, fmt.Sprintf("unexpected failure during login: %v", r))
			m.state.fail(err)
		}
	}()

	if gate && m.state.Phase() == PhaseLoginFailed {
		if !m.state.CanRetry() {
			m.lock.ReleaseGen(gen)
			return nil, retryLimit(m.state.LastError())
		}
		m.state.IncrementRetry()
	}

	m.state.Set(PhaseLoggingIn)
	log.Info().Msg("login started")

	if m.ledger.IsUsed(ctx, code) {
		log.Warn().Msg("login code already used, recovering cached session")
		m.lock.ReleaseGen(gen)
		return m.recoverOrRetry(ctx, nil)
	}

	m.ledger.MarkPending(ctx, code)
	m.ledger.CleanExpired(ctx)

	sess, err = m.executeLoginWithRetry(ctx, code, gen)
	if errors.Is(err, errAbandoned) || (err != nil && !m.lock.Holds(gen)) {
		// a newer attempt may own the state now; only record the code's fate
		if errors.Is(err, errAbandoned) || errors.Is(err, errNotStored) || errs.KindOf(err) == errs.CodeUsed {
			m.ledger.MarkUsed(ctx, code)
		} else {
			m.ledger.MarkFailed(ctx, code)
		}
		log.Warn().Err(err).Msg("discarding result of abandoned login attempt")
		if !m.lock.IsLocked() && m.state.IsLoggingIn() {
			m.state.fail(err)
		}
		if errors.Is(err, errAbandoned) {
			return nil, err
		}
		return nil, errs.Wrap(errs.TimeoutError, "login attempt abandoned after lock timeout", err)
	}

	if err == nil {
		m.ledger.MarkUsed(ctx, code)
		m.state.Set(PhaseLoggedIn)
		m.state.ResetRetry()
		m.state.SetLastError(nil)
		m.lock.ReleaseGen(gen)
		log.Info().Int64("user_id", sess.Profile.ID()).Msg("login succeeded")
		return sess, nil
	}

	if errors.Is(err, errNotStored) {
		m.ledger.MarkUsed(ctx, code)
		m.clearSession(ctx)
		m.state.fail(err)
		m.lock.ReleaseGen(gen)
		log.Error().Err(err).Msg("login exchanged but session could not be stored")
		return nil, err
	}

	if errs.KindOf(err) == errs.CodeUsed {
		m.ledger.MarkUsed(ctx, code)
		m.lock.ReleaseGen(gen)
		log.Warn().Msg("auth service reports code already used, recovering cached session")
		return m.recoverOrRetry(ctx, err)
	}

	m.ledger.MarkFailed(ctx, code)
	m.state.fail(err)
	m.lock.ReleaseGen(gen)
	log.Warn().Err(err).Str("kind", string(errs.KindOf(err))).Msg("login failed")
	return nil, err
}

// recoverOrRetry runs code reuse recovery and, when that fails for a
// reason other than an invalid token, logs in again with a fresh code
// while retries remain.
func (m *Manager) recoverOrRetry(ctx context.Context, cause error) (*model.Session, error) {
	sess, err := m.handleCodeReuse(ctx)
	if err == nil {
		return sess, nil
	}
	if errs.KindOf(err) == errs.TokenExpired {
		return nil, err
	}
	if !m.state.CanRetry() {
		final := retryLimit(err)
		m.state.fail(final)
		return nil, final
	}
	attempt := m.state.IncrementRetry()
	m.log.Info().Int("retry", attempt).Err(err).Msg("recovery failed, logging in with a fresh code")

	if serr := m.sleep(ctx, m.cfg.ReuseRetryDelay); serr != nil {
		final := errs.Wrap(errs.TimeoutError, "login cancelled", serr)
		m.state.fail(final)
		return nil, final
	}
	code, aerr := m.acquirer.Acquire(ctx)
	if aerr != nil {
		m.state.fail(aerr)
		return nil, aerr
	}
	return m.login(ctx, code, false)
}

// executeLoginWithRetry calls the auth service, retrying server and
// transport failures with exponential backoff.
func (m *Manager) executeLoginWithRetry(ctx context.Context, code string, gen uint64) (*model.Session, error) {
	req := model.LoginRequest{
		Code:     code,
		AppID:    m.app.AppID,
		Version:  m.app.Version,
		Platform: m.app.Platform,
		System:   m.app.System,
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := m.backoff.Delay(attempt - 1)
			m.log.Info().Int("retry", attempt).Dur("delay", delay).Err(lastErr).Msg("retrying login exchange")
			if err := m.sleep(ctx, delay); err != nil {
				return nil, errs.Wrap(errs.TimeoutError, "login cancelled during backoff", err)
			}
			if !m.lock.Holds(gen) {
				return nil, errs.Wrap(errs.TimeoutError, "login abandoned during backoff", errAbandoned)
			}
		}

		payload, err := m.auth.ExchangeCode(ctx, req)
		if err == nil {
			m.countExchange("success")
			return m.persistLogin(ctx, gen, payload)
		}
		m.countExchange(strings.ToLower(string(errs.KindOf(err))))
		lastErr = err

		if errs.KindOf(err) == errs.TokenExpired {
			if rerr := m.store.Remove(ctx, model.KeyToken); rerr != nil {
				m.log.Error().Err(rerr).Msg("failed to clear token")
			}
			return nil, err
		}
		if !errs.Retryable(err) {
			return nil, err
		}
	}
	return nil, retryLimit(lastErr)
}

func (m *Manager) persistLogin(ctx context.Context, gen uint64, payload *model.LoginPayload) (*model.Session, error) {
	if !m.lock.Holds(gen) {
		return nil, errs.Wrap(errs.TimeoutError, "login result arrived after lock timeout", errAbandoned)
	}

	profile := payload.Profile
	if profile == nil {
		fetched, err := m.auth.FetchProfile(ctx, payload.Token)
		if err != nil {
			return nil, errs.Wrap(errs.KindOf(err), "login response carried no profile and fetching it failed", errors.Join(errNotStored, err))
		}
		profile = fetched
	}
	if len(profile) == 0 {
		return nil, errs.Wrap(errs.ServerError, "login response carried an empty profile", errNotStored)
	}

	now := m.now()
	sess := &model.Session{
		Token:     payload.Token,
		Profile:   profile,
		LoginAt:   now,
		ExpiresAt: now.Add(m.cfg.TokenTTL),
	}

	if err := m.store.Set(ctx, model.KeyToken, sess.Token); err != nil {
		return nil, errs.Wrap(errs.UnknownError, "failed to persist token", errors.Join(errNotStored, err))
	}
	if err := store.SetJSON(ctx, m.store, model.KeyUserInfo, profile); err != nil {
		return nil, errs.Wrap(errs.UnknownError, "failed to persist profile", errors.Join(errNotStored, err))
	}
	for key, ms := range map[string]int64{
		model.KeyLoginTime:       now.UnixMilli(),
		model.KeyTokenExpireTime: sess.ExpiresAt.UnixMilli(),
		model.KeyUserInfoUpdated: now.UnixMilli(),
	} {
		if err := store.SetInt64(ctx, m.store, key, ms); err != nil {
			return nil, errs.Wrap(errs.UnknownError, "failed to persist "+key, errors.Join(errNotStored, err))
		}
	}
	return sess, nil
}

// onLockTimeout fails the abandoned attempt so the state machine never
// stays in LOGGING_IN without an owner.
func (m *Manager) onLockTimeout() {
	if m.metrics != nil {
		m.metrics.LockAutoReleases.Inc()
	}
	if !m.lock.IsLocked() && m.state.IsLoggingIn() {
		m.state.fail(errs.New(errs.TimeoutError, "login timed out"))
	}
}

// finish records metrics and publishes the outcome of a public login call.
func (m *Manager) finish(source string, start time.Time, sess *model.Session, err error) {
	result := "success"
	if err != nil {
		result = strings.ToLower(string(errs.KindOf(err)))
	}
	if m.metrics != nil {
		m.metrics.LoginAttempts.WithLabelValues(result).Inc()
		m.metrics.LoginDuration.Observe(m.now().Sub(start).Seconds())
	}

	switch {
	case err == nil:
		m.events.loginSuccess(source, sess.Profile)
	case errs.KindOf(err) == errs.ParamError, errs.KindOf(err) == errs.LoginInProgress:
		// nothing changed
	default:
		m.events.loginFailed(source, err)
	}
}

func (m *Manager) countExchange(outcome string) {
	if m.metrics != nil {
		m.metrics.ExchangeRequests.WithLabelValues(outcome).Inc()
	}
}

func retryLimit(cause error) error {
	return errs.Wrap(errs.RetryLimitReached, "login failed too many times, please try again later", cause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
