package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wordcheck/session-agent/internal/errs"
)

func TestStateTransitions(t *testing.T) {
	s := NewState(3)
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.False(t, s.IsLoggingIn())

	s.Set(PhaseLoggingIn)
	assert.True(t, s.IsLoggingIn())
	s.Set(PhaseRecovering)
	assert.True(t, s.IsLoggingIn())
	s.Set(PhaseLoggedIn)
	assert.False(t, s.IsLoggingIn())

	s.fail(errs.New(errs.NetworkError, "offline"))
	assert.Equal(t, PhaseLoginFailed, s.Phase())
	assert.Equal(t, errs.NetworkError, errs.KindOf(s.LastError()))
}

func TestStateRetryBookkeeping(t *testing.T) {
	s := NewState(3)
	for i := 1; i <= 3; i++ {
		assert.True(t, s.CanRetry())
		assert.Equal(t, i, s.IncrementRetry())
	}
	assert.False(t, s.CanRetry())

	s.ResetRetry()
	assert.True(t, s.CanRetry())
	assert.Equal(t, 0, s.RetryCount())

	assert.False(t, NewState(0).CanRetry())
}

func TestStateSnapshot(t *testing.T) {
	s := NewState(2)
	s.Set(PhaseRecovering)
	s.IncrementRetry()
	s.SetLastError(errs.New(errs.CodeUsed, ""))

	snap := s.Snapshot()
	assert.Equal(t, "RECOVERING", snap.Phase)
	assert.Equal(t, 1, snap.RetryCount)
	assert.Equal(t, 2, snap.MaxRetries)
	assert.Equal(t, "CODE_USED", snap.LastError)
	assert.True(t, snap.LoggingIn)
}
