package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wordcheck/session-agent/internal/logger"
)

// Lock admits one login exchange at a time. Every acquisition gets a new
// generation so results of an attempt abandoned by the auto-release timer
// can be recognised and dropped.
type Lock struct {
	mu      sync.Mutex
	locked  bool
	gen     uint64
	timer   *time.Timer
	timeout time.Duration
	onAuto  func()
	log     zerolog.Logger
}

// NewLock auto-releases after timeout (30s when unset).
func NewLock(timeout time.Duration, log zerolog.Logger) *Lock {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Lock{timeout: timeout, log: logger.Component(log, "lock")}
}

// OnAutoRelease registers a hook run whenever the safety timer frees the lock.
func (l *Lock) OnAutoRelease(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAuto = fn
}

// Acquire returns false without side effects when the lock is held.
func (l *Lock) Acquire() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return 0, false
	}
	l.locked = true
	l.gen++
	gen := l.gen
	l.timer = time.AfterFunc(l.timeout, func() { l.autoRelease(gen) })
	return gen, true
}

// Release is idempotent.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked()
}

// ReleaseGen releases the lock only if gen still owns it.
func (l *Lock) ReleaseGen(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked || l.gen != gen {
		return false
	}
	l.releaseLocked()
	return true
}

// Holds reports whether gen is the current owner.
func (l *Lock) Holds(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked && l.gen == gen
}

func (l *Lock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

func (l *Lock) releaseLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.locked = false
}

func (l *Lock) autoRelease(gen uint64) {
	l.mu.Lock()
	if !l.locked || l.gen != gen {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	l.locked = false
	hook := l.onAuto
	l.mu.Unlock()

	l.log.Warn().Uint64("generation", gen).Dur("timeout", l.timeout).Msg("login lock auto-released")
	if hook != nil {
		hook()
	}
}
