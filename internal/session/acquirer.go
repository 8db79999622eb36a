package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/wordcheck/session-agent/internal/client"
	"github.com/wordcheck/session-agent/internal/errs"
	"github.com/wordcheck/session-agent/internal/logger"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	acquireKey     = "wx.login"
	maxCodeFetches = 5
	acquireTimeout = 15 * time.Second
	defaultSpacing = 500 * time.Millisecond
)

// Acquirer obtains fresh login codes from the platform. Concurrent callers
// share one in-flight platform call, calls are spaced apart, and codes the
// ledger already knows as USED are thrown away.
type Acquirer struct {
	source  client.CodeSource
	ledger  *Ledger
	limiter *rate.Limiter
	group   singleflight.Group
	log     zerolog.Logger
}

// NewAcquirer spaces platform calls at least spacing apart.
func NewAcquirer(source client.CodeSource, ledger *Ledger, spacing time.Duration, log zerolog.Logger) *Acquirer {
	if spacing <= 0 {
		spacing = defaultSpacing
	}
	return &Acquirer{
		source:  source,
		ledger:  ledger,
		limiter: rate.NewLimiter(rate.Every(spacing), 1),
		log:     logger.Component(log, "acquirer"),
	}
}

// Acquire returns a code already marked PENDING in the ledger.
func (a *Acquirer) Acquire(ctx context.Context) (string, error) {
	a.ledger.CleanExpired(ctx)

	ch := a.group.DoChan(acquireKey, func() (any, error) {
		// the shared call outlives any single caller's cancellation
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), acquireTimeout)
		defer cancel()
		return a.fetch(fctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", errs.Wrap(errs.TimeoutError, "login code acquisition cancelled", ctx.Err())
	}
}

func (a *Acquirer) fetch(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeFetches; i++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", errs.Wrap(errs.NetworkError, "login code request aborted", err)
		}

		code, err := a.source.LoginCode(ctx)
		if err != nil {
			a.log.Warn().Err(err).Msg("platform login call failed")
			return "", errs.Wrap(errs.NetworkError, "failed to get login code", err)
		}
		if code == "" {
			return "", errs.New(errs.UnknownError, "platform returned no login code")
		}
		if a.ledger.IsSpent(ctx, code) {
			a.log.Warn().Str("code", logger.Mask(code)).Msg("platform returned a spent code, fetching another")
			continue
		}

		a.ledger.MarkPending(ctx, code)
		a.log.Debug().Str("code", logger.Mask(code)).Msg("login code acquired")
		return code, nil
	}
	return "", errs.New(errs.UnknownError, "platform kept returning used login codes")
}
