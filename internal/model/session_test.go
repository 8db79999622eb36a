package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionValid(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		sess *Session
		want bool
	}{
		{"nil", nil, false},
		{"no token", &Session{Profile: UserProfile{"id": 1}}, false},
		{"nil profile", &Session{Token: "T1"}, false},
		{"empty profile", &Session{Token: "T1", Profile: UserProfile{}}, false},
		{"expired", &Session{Token: "T1", Profile: UserProfile{"id": 1}, ExpiresAt: now.Add(-time.Second)}, false},
		{"no expiry", &Session{Token: "T1", Profile: UserProfile{"id": 1}}, true},
		{"unexpired", &Session{Token: "T1", Profile: UserProfile{"id": 1}, ExpiresAt: now.Add(time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sess.Valid(now))
		})
	}
}
