package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWxCodeSource(t *testing.T) {
	bodies := []string{`{"code":"abc"}`, `{"error":0,"body":{"code":"def"}}`}
	want := []string{"abc", "def"}
	for i, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			writeJSON(w, http.StatusOK, body)
		}))
		src := NewWxCodeSource(srv.URL, time.Second)
		code, err := src.LoginCode(context.Background())
		srv.Close()
		require.NoError(t, err)
		assert.Equal(t, want[i], code)
	}
}

func TestWxCodeSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{}`)
	}))
	defer srv.Close()

	_, err := NewWxCodeSource(srv.URL, time.Second).LoginCode(context.Background())
	assert.Error(t, err)

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer empty.Close()
	code, err := NewWxCodeSource(empty.URL, time.Second).LoginCode(context.Background())
	require.NoError(t, err)
	assert.Empty(t, code)
}
