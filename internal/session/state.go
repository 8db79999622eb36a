package session

import (
	"sync"

	"github.com/wordcheck/session-agent/internal/errs"
	"github.com/wordcheck/session-agent/internal/model"
)

type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhaseLoggingIn   Phase = "LOGGING_IN"
	PhaseLoggedIn    Phase = "LOGGED_IN"
	PhaseLoginFailed Phase = "LOGIN_FAILED"
	PhaseRecovering  Phase = "RECOVERING"
)

// State is the login lifecycle phase plus retry bookkeeping. Only the
// Manager mutates it.
type State struct {
	mu         sync.RWMutex
	phase      Phase
	retryCount int
	maxRetries int
	lastErr    error
}

// NewState starts IDLE and allows maxRetries retries after a failure.
func NewState(maxRetries int) *State {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &State{phase: PhaseIdle, maxRetries: maxRetries}
}

func (s *State) Set(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// IsLoggingIn is true while an exchange or a reuse recovery runs.
func (s *State) IsLoggingIn() bool {
	p := s.Phase()
	return p == PhaseLoggingIn || p == PhaseRecovering
}

func (s *State) IncrementRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCount++
	return s.retryCount
}

func (s *State) ResetRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCount = 0
}

func (s *State) CanRetry() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryCount < s.maxRetries
}

func (s *State) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryCount
}

func (s *State) SetLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *State) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// fail records err and moves to LOGIN_FAILED in one step.
func (s *State) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseLoginFailed
	s.lastErr = err
}

func (s *State) Snapshot() model.StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := model.StateSnapshot{
		Phase:      string(s.phase),
		RetryCount: s.retryCount,
		MaxRetries: s.maxRetries,
		LoggingIn:  s.phase == PhaseLoggingIn || s.phase == PhaseRecovering,
	}
	if s.lastErr != nil {
		snap.LastError = string(errs.KindOf(s.lastErr))
	}
	return snap
}
