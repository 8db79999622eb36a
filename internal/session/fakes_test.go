package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wordcheck/session-agent/internal/config"
	"github.com/wordcheck/session-agent/internal/errs"
	"github.com/wordcheck/session-agent/internal/logger"
	"github.com/wordcheck/session-agent/internal/metrics"
	"github.com/wordcheck/session-agent/internal/model"
	"github.com/wordcheck/session-agent/internal/store"
)

type fakeAuth struct {
	mu sync.Mutex

	exchangeCalls int
	exchangeCodes []string
	exchange      func(call int, req model.LoginRequest) (*model.LoginPayload, error)

	checkCalls int
	valid      bool
	checkErr   error

	profileCalls int
	profile      model.UserProfile
	profileErr   error

	bindCalls int
	bind      func(call int) (*model.BindPhoneResult, error)
}

func (f *fakeAuth) ExchangeCode(_ context.Context, req model.LoginRequest) (*model.LoginPayload, error) {
	f.mu.Lock()
	f.exchangeCalls++
	call := f.exchangeCalls
	f.exchangeCodes = append(f.exchangeCodes, req.Code)
	fn := f.exchange
	f.mu.Unlock()
	if fn == nil {
		return &model.LoginPayload{Token: "T1", Profile: model.UserProfile{"id": float64(7)}}, nil
	}
	return fn(call, req)
}

func (f *fakeAuth) CheckToken(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	return f.valid, f.checkErr
}

func (f *fakeAuth) FetchProfile(_ context.Context, _ string) (model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls++
	return f.profile, f.profileErr
}

func (f *fakeAuth) BindPhone(_ context.Context, _ string, _ model.BindPhoneRequest) (*model.BindPhoneResult, error) {
	f.mu.Lock()
	f.bindCalls++
	call := f.bindCalls
	fn := f.bind
	f.mu.Unlock()
	if fn == nil {
		return &model.BindPhoneResult{PhoneNumber: "13800000000"}, nil
	}
	return fn(call)
}

func (f *fakeAuth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangeCalls
}

type fakeCodes struct {
	mu    sync.Mutex
	codes []string
	calls int
	err   error
	gate  chan struct{}
}

func (f *fakeCodes) LoginCode(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if call <= len(f.codes) {
		return f.codes[call-1], nil
	}
	return fmt.Sprintf("code-%d", call), nil
}

func (f *fakeCodes) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	m      *Manager
	store  *store.Memory
	auth   *fakeAuth
	codes  *fakeCodes
	events *Events
	delays []time.Duration
	mu     sync.Mutex
}

func newHarness(t *testing.T, tweak func(*config.SessionConfig)) *harness {
	t.Helper()
	return newHarnessOn(t, tweak, nil)
}

// newHarnessOn lets wrap decorate the memory store the manager writes to.
func newHarnessOn(t *testing.T, tweak func(*config.SessionConfig), wrap func(*store.Memory) store.Store) *harness {
	t.Helper()
	cfg := config.DefaultSession()
	cfg.CodeSpacing = time.Millisecond
	if tweak != nil {
		tweak(&cfg)
	}

	h := &harness{
		store:  store.NewMemory(),
		auth:   &fakeAuth{valid: true},
		codes:  &fakeCodes{},
		events: NewEvents(nil),
	}
	var kv store.Store = h.store
	if wrap != nil {
		kv = wrap(h.store)
	}
	h.m = NewManager(Options{
		Session: cfg,
		App:     config.AppConfig{AppID: "wx-test", Version: "1.0.0", Platform: "devtools", System: "go"},
		Store:   kv,
		Auth:    h.auth,
		Codes:   h.codes,
		Events:  h.events,
		Metrics: metrics.New(),
		Logger:  logger.Nop(),
	})
	h.m.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.delays = append(h.delays, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	return h
}

func (h *harness) seedSession(t *testing.T, token string, profile model.UserProfile) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.Set(ctx, model.KeyToken, token))
	if profile != nil {
		require.NoError(t, store.SetJSON(ctx, h.store, model.KeyUserInfo, profile))
	}
}

func (h *harness) token(t *testing.T) (string, bool) {
	t.Helper()
	v, ok, err := h.store.Get(context.Background(), model.KeyToken)
	require.NoError(t, err)
	return v, ok
}

// failingStore rejects writes to one key.
type failingStore struct {
	*store.Memory
	key string
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if key == s.key {
		return errors.New("disk full")
	}
	return s.Memory.Set(ctx, key, value)
}

func serverErr(status int) error {
	return errs.New(errs.ServerError, "internal error").WithStatus(status)
}

var errPlatform = errors.New("wx.login failed")
