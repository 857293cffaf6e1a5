package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/orderdesk/orderbook"
)

func TestVerify_UnconfiguredFails(t *testing.T) {
	err := New("", "").Verify(context.Background(), "token-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, orderbook.ErrNotConfigured))
}

func TestVerify_EmptyTokenRejectedLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty token")
	}))
	defer srv.Close()

	err := New(srv.URL, "anon-key").Verify(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, orderbook.ErrUnauthorized))
}

func TestVerify_AcceptsLiveSession(t *testing.T) {
	var gotPath, gotAPIKey, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"user-1"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "anon-key").Verify(context.Background(), "token-1")
	require.NoError(t, err)

	assert.Equal(t, "/auth/v1/user", gotPath)
	assert.Equal(t, "anon-key", gotAPIKey)
	assert.Equal(t, "Bearer token-1", gotAuth)
}

func TestVerify_RejectedTokenIsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := New(srv.URL, "anon-key").Verify(context.Background(), "expired-token")
	require.Error(t, err)
	assert.True(t, errors.Is(err, orderbook.ErrUnauthorized))
	assert.Contains(t, err.Error(), "status 401")
}

func TestVerify_TransportErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := New(srv.URL, "anon-key").Verify(context.Background(), "token-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, orderbook.ErrUpstream))
}
