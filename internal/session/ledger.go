package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wordcheck/session-agent/internal/logger"
	"github.com/wordcheck/session-agent/internal/model"
	"github.com/wordcheck/session-agent/internal/store"
)

// Ledger records the fate of every login code this client has tried, so a
// consumed code is never sent to the auth service twice.
//
// The whole map lives under one store key. Unreadable state reads as an
// empty ledger and no method returns an error.
type Ledger struct {
	mu     sync.Mutex
	store  store.Store
	window time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewLedger keeps entries for window (10 minutes when unset).
func NewLedger(s store.Store, window time.Duration, log zerolog.Logger) *Ledger {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Ledger{
		store:  s,
		window: window,
		now:    time.Now,
		log:    logger.Component(log, "ledger"),
	}
}

func (l *Ledger) IsUsed(ctx context.Context, code string) bool {
	return l.Status(ctx, code) == model.CodeUsed
}

// IsSpent reports whether code must never be sent again: it was consumed
// or its exchange failed.
func (l *Ledger) IsSpent(ctx context.Context, code string) bool {
	switch l.Status(ctx, code) {
	case model.CodeUsed, model.CodeFailed:
		return true
	}
	return false
}

// Status returns CodeUnused for codes without an entry.
func (l *Ledger) Status(ctx context.Context, code string) model.CodeStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.load(ctx)[code]; ok {
		return entry.Status
	}
	return model.CodeUnused
}

func (l *Ledger) MarkPending(ctx context.Context, code string) {
	l.mark(ctx, code, model.CodePending)
}

func (l *Ledger) MarkUsed(ctx context.Context, code string) {
	l.mark(ctx, code, model.CodeUsed)
}

func (l *Ledger) MarkFailed(ctx context.Context, code string) {
	l.mark(ctx, code, model.CodeFailed)
}

// CleanExpired drops entries older than the expiry window and reports how
// many were removed.
func (l *Ledger) CleanExpired(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.load(ctx)
	cutoff := l.now().UnixMilli() - l.window.Milliseconds()
	removed := 0
	for code, entry := range entries {
		if entry.Time < cutoff {
			delete(entries, code)
			removed++
		}
	}
	if removed > 0 {
		l.save(ctx, entries)
		l.log.Debug().Int("removed", removed).Int("remaining", len(entries)).Msg("expired login codes swept")
	}
	return removed
}

// Entries returns a copy of the ledger.
func (l *Ledger) Entries(ctx context.Context) map[string]model.CodeEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

func (l *Ledger) mark(ctx context.Context, code string, status model.CodeStatus) {
	if code == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.load(ctx)
	entries[code] = model.CodeEntry{Status: status, Time: l.now().UnixMilli()}
	l.save(ctx, entries)
	l.log.Debug().Str("code", logger.Mask(code)).Str("status", string(status)).Msg("login code marked")
}

func (l *Ledger) load(ctx context.Context) map[string]model.CodeEntry {
	entries := make(map[string]model.CodeEntry)
	if _, err := store.GetJSON(ctx, l.store, model.KeyUsedLoginCodes, &entries); err != nil {
		l.log.Warn().Err(err).Msg("ledger unreadable, starting empty")
		return make(map[string]model.CodeEntry)
	}
	return entries
}

func (l *Ledger) save(ctx context.Context, entries map[string]model.CodeEntry) {
	if err := store.SetJSON(ctx, l.store, model.KeyUsedLoginCodes, entries); err != nil {
		l.log.Error().Err(err).Msg("failed to persist ledger")
	}
}
