package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordcheck/session-agent/internal/config"
	"github.com/wordcheck/session-agent/internal/errs"
	"github.com/wordcheck/session-agent/internal/model"
	"github.com/wordcheck/session-agent/internal/store"
)

func TestLoginFreshSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.exchange = func(_ int, req model.LoginRequest) (*model.LoginPayload, error) {
		assert.Equal(t, "abc123", req.Code)
		assert.Equal(t, "wx-test", req.AppID)
		return &model.LoginPayload{Token: "T1", Profile: model.UserProfile{"id": float64(7)}}, nil
	}
	ctx := context.Background()

	sess, err := h.m.Login(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "T1", sess.Token)
	assert.Equal(t, int64(7), sess.Profile.ID())
	assert.Equal(t, model.CodeUsed, h.m.Ledger().Status(ctx, "abc123"))
	assert.Equal(t, PhaseLoggedIn, h.m.State().Phase())
	assert.False(t, h.m.Lock().IsLocked())

	token, _ := h.token(t)
	assert.Equal(t, "T1", token)
	exp := store.GetInt64(ctx, h.store, model.KeyTokenExpireTime)
	login := store.GetInt64(ctx, h.store, model.KeyLoginTime)
	assert.Equal(t, (7 * 24 * time.Hour).Milliseconds(), exp-login)

	current := h.m.Current(ctx)
	require.NotNil(t, current)
	assert.Equal(t, int64(7), current.Profile.ID())
}

func TestLoginCodeReuseWithValidCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.m.Ledger().MarkUsed(ctx, "abc123")
	h.seedSession(t, "T1", model.UserProfile{"id": 7})

	sess, err := h.m.Login(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(7), sess.Profile.ID())
	assert.Equal(t, "T1", sess.Token)
	assert.Equal(t, 0, h.auth.calls())
	assert.Equal(t, PhaseLoggedIn, h.m.State().Phase())
	assert.False(t, h.m.Lock().IsLocked())
}

func TestLoginCodeReuseWithInvalidCache(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.valid = false
	ctx := context.Background()
	h.m.Ledger().MarkUsed(ctx, "abc123")
	h.seedSession(t, "T1", model.UserProfile{"id": 7})

	_, err := h.m.Login(ctx, "abc123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTokenExpired))
	_, ok := h.token(t)
	assert.False(t, ok)
	assert.Equal(t, PhaseLoginFailed, h.m.State().Phase())
	assert.Equal(t, 0, h.auth.calls())
	assert.False(t, h.m.Lock().IsLocked())
}

func TestLoginCodeReuseFetchesMissingProfile(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.profile = model.UserProfile{"id": float64(11)}
	ctx := context.Background()
	h.m.Ledger().MarkUsed(ctx, "abc123")
	h.seedSession(t, "T1", nil)

	sess, err := h.m.Login(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(11), sess.Profile.ID())
	assert.Equal(t, 1, h.auth.profileCalls)
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
		return nil, errs.New(errs.RateLimited, "slow down").WithStatus(429)
	}
	ctx := context.Background()

	_, err := h.m.Login(ctx, "abc123")
	assert.Equal(t, errs.RateLimited, errs.KindOf(err))
	assert.Equal(t, 1, h.auth.calls())
	assert.Empty(t, h.delays)
	assert.Equal(t, model.CodeFailed, h.m.Ledger().Status(ctx, "abc123"))
	assert.Equal(t, PhaseLoginFailed, h.m.State().Phase())
	assert.False(t, h.m.Lock().IsLocked())
}

func TestUsedCodeNeverResubmitted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.m.Login(ctx, "abc123")
	require.NoError(t, err)
	_, err = h.m.Login(ctx, "abc123")
	require.NoError(t, err)

	assert.Equal(t, 1, h.auth.calls())
	assert.Equal(t, []string{"abc123"}, h.auth.exchangeCodes)
}

func TestFailedCodeNeverResubmitted(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
		return nil, serverErr(400)
	}
	ctx := context.Background()

	_, err := h.m.Login(ctx, "abc123")
	require.Error(t, err)
	require.Equal(t, model.CodeFailed, h.m.Ledger().Status(ctx, "abc123"))

	h.auth.exchange = nil
	_, err = h.m.Login(ctx, "abc123")
	assert.True(t, errors.Is(err, errs.ErrParam))
	assert.Equal(t, []string{"abc123"}, h.auth.exchangeCodes)
	assert.Equal(t, model.CodeFailed, h.m.Ledger().Status(ctx, "abc123"))
	assert.Equal(t, PhaseLoginFailed, h.m.State().Phase())
	assert.Equal(t, 0, h.m.State().RetryCount())
	assert.False(t, h.m.Lock().IsLocked())
}

func TestLoginStoreFailureClearsPartialSession(t *testing.T) {
	h := newHarnessOn(t, nil, func(m *store.Memory) store.Store {
		return &failingStore{Memory: m, key: model.KeyUserInfo}
	})
	ctx := context.Background()

	_, err := h.m.Login(ctx, "abc123")
	require.Error(t, err)
	assert.Equal(t, errs.UnknownError, errs.KindOf(err))
	assert.Equal(t, 1, h.auth.calls())

	_, ok := h.token(t)
	assert.False(t, ok)
	assert.Nil(t, h.m.Current(ctx))
	assert.Equal(t, model.CodeUsed, h.m.Ledger().Status(ctx, "abc123"))
	assert.Equal(t, PhaseLoginFailed, h.m.State().Phase())
	assert.False(t, h.m.Lock().IsLocked())
}

func TestLoginWithoutProfileFails(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
		return &model.LoginPayload{Token: "T1"}, nil
	}
	h.auth.profileErr = errs.New(errs.NetworkError, "offline")
	ctx := context.Background()

	_, err := h.m.Login(ctx, "abc123")
	require.Error(t, err)
	assert.Equal(t, errs.NetworkError, errs.KindOf(err))
	assert.Equal(t, 1, h.auth.calls())
	assert.Equal(t, 1, h.auth.profileCalls)

	_, ok := h.token(t)
	assert.False(t, ok)
	assert.Equal(t, model.CodeUsed, h.m.Ledger().Status(ctx, "abc123"))
	assert.Equal(t, PhaseLoginFailed, h.m.State().Phase())

	h2 := newHarness(t, nil)
	h2.auth.exchange = h.auth.exchange
	h2.auth.profile = model.UserProfile{"id": float64(3)}
	sess, err := h2.m.Login(ctx, "def456")
	require.NoError(t, err)
	assert.Equal(t, int64(3), sess.Profile.ID())
}

func TestLoginBackoffBound(t *testing.T) {
	t.Run("exhausted", func(t *testing.T) {
		h := newHarness(t, nil)
		h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
			return nil, serverErr(500)
		}

		_, err := h.m.Login(context.Background(), "abc123")
		require.Error(t, err)
		assert.Equal(t, 4, h.auth.calls())
		assert.Equal(t, errs.RetryLimitReached, errs.KindOf(err))
		assert.True(t, errors.Is(err, errs.ErrServer))
		assert.Equal(t, PhaseLoginFailed, h.m.State().Phase())
		assert.False(t, h.m.Lock().IsLocked())

		require.Len(t, h.delays, 3)
		for i, d := range h.delays {
			assert.GreaterOrEqual(t, d, time.Second<<uint(i))
			assert.LessOrEqual(t, d, 5*time.Second)
		}
	})

	t.Run("recovers within bound", func(t *testing.T) {
		h := newHarness(t, nil)
		h.auth.exchange = func(call int, _ model.LoginRequest) (*model.LoginPayload, error) {
			if call <= 3 {
				return nil, serverErr(503)
			}
			return &model.LoginPayload{Token: "T4", Profile: model.UserProfile{"id": float64(1)}}, nil
		}

		sess, err := h.m.Login(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Equal(t, "T4", sess.Token)
		assert.Equal(t, 4, h.auth.calls())
	})

	t.Run("network errors", func(t *testing.T) {
		h := newHarness(t, nil)
		h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
			return nil, errs.New(errs.NetworkError, "connection refused")
		}
		_, err := h.m.Login(context.Background(), "abc123")
		assert.Equal(t, errs.RetryLimitReached, errs.KindOf(err))
		assert.True(t, errors.Is(err, errs.ErrNetwork))
		assert.Equal(t, 4, h.auth.calls())
	})
}

func TestLoginMutualExclusion(t *testing.T) {
	h := newHarness(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
		close(started)
		<-release
		return &model.LoginPayload{Token: "T1", Profile: model.UserProfile{"id": float64(7)}}, nil
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = h.m.Login(ctx, "first")
	}()

	<-started
	_, err := h.m.Login(ctx, "second")
	assert.True(t, errors.Is(err, errs.ErrLoginInProgress))
	assert.Equal(t, PhaseLoggingIn, h.m.State().Phase())
	assert.Equal(t, model.CodeUnused, h.m.Ledger().Status(ctx, "second"))

	_, err = h.m.LoginWithNewCode(ctx, false)
	assert.True(t, errors.Is(err, errs.ErrLoginInProgress))
	assert.Equal(t, 0, h.codes.count())

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, 1, h.auth.calls())
	assert.Equal(t, PhaseLoggedIn, h.m.State().Phase())
}

func TestLockAlwaysReleased(t *testing.T) {
	cases := []struct {
		name     string
		exchange func(int, model.LoginRequest) (*model.LoginPayload, error)
		kind     errs.Kind
	}{
		{"success", nil, ""},
		{"rate limited", func(int, model.LoginRequest) (*model.LoginPayload, error) {
			return nil, errs.New(errs.RateLimited, "")
		}, errs.RateLimited},
		{"unauthorized", func(int, model.LoginRequest) (*model.LoginPayload, error) {
			return nil, errs.New(errs.TokenExpired, "")
		}, errs.TokenExpired},
		{"business failure", func(int, model.LoginRequest) (*model.LoginPayload, error) {
			return nil, serverErr(400)
		}, errs.ServerError},
		{"server errors", func(int, model.LoginRequest) (*model.LoginPayload, error) {
			return nil, serverErr(502)
		}, errs.RetryLimitReached},
		{"timeouts", func(int, model.LoginRequest) (*model.LoginPayload, error) {
			return nil, errs.New(errs.TimeoutError, "")
		}, errs.RetryLimitReached},
		{"code used without cache", func(int, model.LoginRequest) (*model.LoginPayload, error) {
			return nil, errs.New(errs.CodeUsed, "")
		}, errs.RetryLimitReached},
		{"panic", func(int, model.LoginRequest) (*model.LoginPayload, error) {
			panic("boom")
		}, errs.UnknownError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.auth.exchange = tc.exchange

			_, err := h.m.Login(context.Background(), "abc123")
			if tc.kind == "" {
				require.NoError(t, err)
			} else {
				assert.Equal(t, tc.kind, errs.KindOf(err))
				assert.Equal(t, PhaseLoginFailed, h.m.State().Phase())
			}
			assert.False(t, h.m.Lock().IsLocked())
			assert.False(t, h.m.State().IsLoggingIn())
		})
	}
}

func TestLockAutoReleaseDropsLateResult(t *testing.T) {
	h := newHarness(t, func(c *config.SessionConfig) { c.LockTimeout = 30 * time.Millisecond })
	h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
		deadline := time.Now().Add(2 * time.Second)
		for h.m.Lock().IsLocked() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		return &model.LoginPayload{Token: "LATE", Profile: model.UserProfile{"id": float64(1)}}, nil
	}
	ctx := context.Background()

	_, err := h.m.Login(ctx, "abc123")
	assert.Equal(t, errs.TimeoutError, errs.KindOf(err))
	assert.False(t, h.m.Lock().IsLocked())
	assert.Equal(t, PhaseLoginFailed, h.m.State().Phase())
	assert.Equal(t, model.CodeUsed, h.m.Ledger().Status(ctx, "abc123"))
	_, ok := h.token(t)
	assert.False(t, ok)
}

func TestServerReportedCodeReuseRecovers(t *testing.T) {
	h := newHarness(t, nil)
	h.seedSession(t, "CACHED", model.UserProfile{"id": 3})
	h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
		return nil, errs.New(errs.CodeUsed, "code already used").WithStatus(400)
	}
	ctx := context.Background()

	sess, err := h.m.Login(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "CACHED", sess.Token)
	assert.Equal(t, model.CodeUsed, h.m.Ledger().Status(ctx, "abc123"))
	assert.Equal(t, PhaseLoggedIn, h.m.State().Phase())
	assert.Equal(t, 1, h.auth.calls())
}

func TestReuseRecoveryFailureRetriesWithFreshCode(t *testing.T) {
	h := newHarness(t, nil)
	h.codes.codes = []string{"fresh1"}
	ctx := context.Background()
	h.m.Ledger().MarkUsed(ctx, "abc123")

	sess, err := h.m.Login(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "T1", sess.Token)
	assert.Equal(t, []string{"fresh1"}, h.auth.exchangeCodes)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, h.delays)
	assert.Equal(t, 0, h.m.State().RetryCount())
}

func TestLoginRejectsEmptyCode(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.m.Login(context.Background(), "  ")
	assert.True(t, errors.Is(err, errs.ErrParam))
	assert.Equal(t, PhaseIdle, h.m.State().Phase())
	assert.False(t, h.m.Lock().IsLocked())
}

func TestLoginAfterFailureCountsAsRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
		return nil, serverErr(400)
	}
	ctx := context.Background()

	_, err := h.m.Login(ctx, "c0")
	require.Error(t, err)
	for i := 1; i <= 3; i++ {
		_, err = h.m.Login(ctx, "c"+string(rune('0'+i)))
		assert.Equal(t, errs.ServerError, errs.KindOf(err))
		assert.Equal(t, i, h.m.State().RetryCount())
	}

	_, err = h.m.Login(ctx, "c9")
	assert.Equal(t, errs.RetryLimitReached, errs.KindOf(err))
	assert.Equal(t, 4, h.auth.calls())
	assert.False(t, h.m.Lock().IsLocked())

	_, err = h.m.Retry(ctx)
	assert.Equal(t, errs.RetryLimitReached, errs.KindOf(err))
	assert.Equal(t, 0, h.codes.count())

	h.m.Reset(ctx)
	assert.Equal(t, PhaseIdle, h.m.State().Phase())
	h.auth.exchange = nil
	_, err = h.m.Login(ctx, "c10")
	require.NoError(t, err)
}

func TestRetryRequiresFailedState(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.m.Retry(context.Background())
	assert.True(t, errors.Is(err, errs.ErrParam))
}

func TestLoginWithNewCode(t *testing.T) {
	h := newHarness(t, nil)
	h.codes.codes = []string{"wx-1"}

	sess, err := h.m.LoginWithNewCode(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "T1", sess.Token)
	assert.Equal(t, []string{"wx-1"}, h.auth.exchangeCodes)

	h2 := newHarness(t, nil)
	h2.codes.err = errPlatform
	_, err = h2.m.LoginWithNewCode(context.Background(), false)
	assert.True(t, errors.Is(err, errs.ErrNetwork))
	assert.Equal(t, PhaseLoginFailed, h2.m.State().Phase())
}

func TestLoginWithNewCodeKeepsSessionOnPlatformFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.m.Login(ctx, "abc123")
	require.NoError(t, err)

	h.codes.err = errPlatform
	_, err = h.m.LoginWithNewCode(ctx, false)
	assert.True(t, errors.Is(err, errs.ErrNetwork))
	assert.Equal(t, PhaseLoggedIn, h.m.State().Phase())
	assert.NotNil(t, h.m.Current(ctx))
}

func TestCheckTokenValidity(t *testing.T) {
	ctx := context.Background()

	t.Run("no token", func(t *testing.T) {
		h := newHarness(t, nil)
		assert.False(t, h.m.CheckTokenValidity(ctx))
		assert.Equal(t, 0, h.auth.checkCalls)
	})

	t.Run("locally expired", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seedSession(t, "T1", model.UserProfile{"id": 1})
		require.NoError(t, store.SetInt64(ctx, h.store, model.KeyTokenExpireTime, time.Now().Add(-time.Minute).UnixMilli()))
		assert.False(t, h.m.CheckTokenValidity(ctx))
		assert.Equal(t, 0, h.auth.checkCalls)
		_, ok := h.token(t)
		assert.False(t, ok)
	})

	t.Run("network failure fails open", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seedSession(t, "T1", model.UserProfile{"id": 1})
		h.auth.checkErr = errs.New(errs.NetworkError, "offline")
		assert.True(t, h.m.CheckTokenValidity(ctx))
		_, ok := h.token(t)
		assert.True(t, ok)
	})

	t.Run("rejected", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seedSession(t, "T1", model.UserProfile{"id": 1})
		h.auth.valid = false
		assert.False(t, h.m.CheckTokenValidity(ctx))
		_, ok := h.token(t)
		assert.False(t, ok)
		assert.Equal(t, PhaseIdle, h.m.State().Phase())
	})

	t.Run("valid", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seedSession(t, "T1", model.UserProfile{"id": 1})
		assert.True(t, h.m.CheckTokenValidity(ctx))
		assert.Equal(t, PhaseLoggedIn, h.m.State().Phase())
	})
}

func TestLogout(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	var got []model.SessionEvent
	require.NoError(t, h.events.SubscribeAll(func(e model.SessionEvent) { got = append(got, e) }))

	_, err := h.m.Login(ctx, "abc123")
	require.NoError(t, err)
	h.m.Lock().Acquire()

	h.m.Logout(ctx)
	assert.Nil(t, h.m.Current(ctx))
	assert.False(t, h.m.IsLoggedIn(ctx))
	assert.Equal(t, PhaseIdle, h.m.State().Phase())
	assert.False(t, h.m.Lock().IsLocked())
	for _, key := range sessionKeys {
		_, ok, _ := h.store.Get(ctx, key)
		assert.False(t, ok, key)
	}

	require.Len(t, got, 2)
	assert.Equal(t, model.EventLoginSuccess, got[0].Type)
	assert.Equal(t, SourceLogin, got[0].Source)
	assert.Equal(t, int64(7), got[0].Profile.ID())
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, model.EventLogout, got[1].Type)
}

func TestLoginFailedEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
		return nil, errs.New(errs.RateLimited, "slow down")
	}
	var got []model.SessionEvent
	require.NoError(t, h.events.Subscribe(model.EventLoginFailed, func(e model.SessionEvent) { got = append(got, e) }))

	_, _ = h.m.Login(context.Background(), "abc123")
	_, _ = h.m.Login(context.Background(), "")

	require.Len(t, got, 1)
	assert.Equal(t, string(errs.RateLimited), got[0].ErrorKind)
	assert.Equal(t, "slow down", got[0].ErrorMessage)
}

func TestCurrentReconcilesPartialState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.seedSession(t, "T1", nil)
	assert.Nil(t, h.m.Current(ctx))

	require.NoError(t, store.SetJSON(ctx, h.store, model.KeyUserInfo, model.UserProfile{"id": 1}))
	require.NotNil(t, h.m.Current(ctx))

	require.NoError(t, store.SetInt64(ctx, h.store, model.KeyTokenExpireTime, time.Now().Add(-time.Second).UnixMilli()))
	assert.Nil(t, h.m.Current(ctx))
	_, ok := h.token(t)
	assert.False(t, ok)
}

func TestAutoLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("reuses cached session", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seedSession(t, "T1", model.UserProfile{"id": 5})
		require.NoError(t, store.SetInt64(ctx, h.store, model.KeyUserInfoUpdated, time.Now().UnixMilli()))

		sess, err := h.m.AutoLogin(ctx)
		require.NoError(t, err)
		assert.Equal(t, "T1", sess.Token)
		assert.Equal(t, 0, h.codes.count())
		assert.Equal(t, 0, h.auth.calls())
		assert.Equal(t, PhaseLoggedIn, h.m.State().Phase())
	})

	t.Run("logs in without session", func(t *testing.T) {
		h := newHarness(t, nil)
		sess, err := h.m.AutoLogin(ctx)
		require.NoError(t, err)
		assert.Equal(t, "T1", sess.Token)
		assert.Equal(t, 1, h.codes.count())
		assert.Equal(t, 1, h.auth.calls())
	})
}

func TestRefreshProfileIfNeeded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seedSession(t, "T1", model.UserProfile{"id": 5, "nickname": "old"})
	h.auth.profile = model.UserProfile{"id": float64(5), "nickname": "new"}

	require.NoError(t, store.SetInt64(ctx, h.store, model.KeyUserInfoUpdated, time.Now().UnixMilli()))
	p, err := h.m.RefreshProfileIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", p.String("nickname"))
	assert.Equal(t, 0, h.auth.profileCalls)

	require.NoError(t, store.SetInt64(ctx, h.store, model.KeyUserInfoUpdated, time.Now().Add(-time.Hour).UnixMilli()))
	p, err = h.m.RefreshProfileIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", p.String("nickname"))

	require.NoError(t, store.SetInt64(ctx, h.store, model.KeyUserInfoUpdated, time.Now().Add(-time.Hour).UnixMilli()))
	h.auth.profileErr = errs.New(errs.NetworkError, "offline")
	p, err = h.m.RefreshProfileIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", p.String("nickname"))

	h.auth.profileErr = errs.New(errs.TokenExpired, "gone")
	_, err = h.m.RefreshProfileIfNeeded(ctx)
	assert.True(t, errors.Is(err, errs.ErrTokenExpired))
	_, ok := h.token(t)
	assert.False(t, ok)
}

func TestBindPhone(t *testing.T) {
	ctx := context.Background()

	t.Run("validates input", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.m.BindPhone(ctx, "", "iv")
		assert.True(t, errors.Is(err, errs.ErrParam))
		_, err = h.m.BindPhone(ctx, "enc", "iv")
		assert.True(t, errors.Is(err, errs.ErrAuth))
	})

	t.Run("retries network errors", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seedSession(t, "T1", model.UserProfile{"id": 5})
		h.auth.bind = func(call int) (*model.BindPhoneResult, error) {
			if call < 3 {
				return nil, errs.New(errs.NetworkError, "offline")
			}
			return &model.BindPhoneResult{PhoneNumber: "13900000000"}, nil
		}

		res, err := h.m.BindPhone(ctx, "enc", "iv")
		require.NoError(t, err)
		assert.Equal(t, "13900000000", res.PhoneNumber)
		assert.Len(t, h.delays, 2)

		sess := h.m.Current(ctx)
		require.NotNil(t, sess)
		assert.Equal(t, "13900000000", sess.Profile.String("phoneNumber"))
		assert.Equal(t, true, sess.Profile["hasBindPhone"])
	})

	t.Run("binding rejected", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seedSession(t, "T1", model.UserProfile{"id": 5})
		h.auth.bind = func(int) (*model.BindPhoneResult, error) {
			return nil, errs.New(errs.PhoneBindingError, "decrypt failed")
		}
		_, err := h.m.BindPhone(ctx, "enc", "iv")
		assert.True(t, errors.Is(err, errs.ErrPhoneBinding))
		assert.Equal(t, 1, h.auth.bindCalls)
	})
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.exchange = func(int, model.LoginRequest) (*model.LoginPayload, error) {
		return nil, errs.New(errs.RateLimited, "")
	}
	_, _ = h.m.Login(context.Background(), "abc123")

	snap := h.m.Snapshot()
	assert.Equal(t, string(PhaseLoginFailed), snap.Phase)
	assert.Equal(t, string(errs.RateLimited), snap.LastError)
	assert.Equal(t, 3, snap.MaxRetries)
	assert.False(t, snap.Locked)
	assert.False(t, snap.LoggingIn)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	h := newHarness(t, func(c *config.SessionConfig) { c.SweepInterval = 5 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	old := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, store.SetJSON(ctx, h.store, model.KeyUsedLoginCodes, map[string]model.CodeEntry{
		"stale": {Status: model.CodeUsed, Time: old},
	}))

	done := make(chan struct{})
	go func() {
		h.m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return h.m.Ledger().Status(context.Background(), "stale") == model.CodeUnused
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
