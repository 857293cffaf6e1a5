package sumsub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/orderdesk/orderbook"
)

func fixedClock() func() time.Time {
	at := time.Unix(1714560000, 0)
	return func() time.Time { return at }
}

func TestSignHeaders_SignatureVector(t *testing.T) {
	client := New("https://api.sumsub.com", "app-token-1", "secret-1").WithClock(fixedClock())

	h := client.SignHeaders(http.MethodGet, "/resources/applicants/-;externalUserId=u1/one")

	assert.Equal(t, "app-token-1", h.Get("X-App-Token"))
	assert.Equal(t, "1714560000", h.Get("X-App-Access-Ts"))
	assert.Equal(t, "application/json", h.Get("Accept"))

	mac := hmac.New(sha256.New, []byte("secret-1"))
	mac.Write([]byte("1714560000GET/resources/applicants/-;externalUserId=u1/one"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), h.Get("X-App-Access-Sig"))
}

func TestProxy_UnconfiguredFails(t *testing.T) {
	client := New("https://api.sumsub.com", "", "")

	assert.False(t, client.Configured())

	_, err := client.Applicant(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, orderbook.ErrNotConfigured))
}

func TestApplicant_SignsAndPassesThrough(t *testing.T) {
	var gotPath, gotSig, gotTs, gotToken string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotSig = r.Header.Get("X-App-Access-Sig")
		gotTs = r.Header.Get("X-App-Access-Ts")
		gotToken = r.Header.Get("X-App-Token")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"applicant-1"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, "app-token-1", "secret-1").WithClock(fixedClock())

	resp, err := client.Applicant(context.Background(), "user 1")
	require.NoError(t, err)

	assert.Equal(t, "/resources/applicants/-;externalUserId=user+1/one", gotPath)
	assert.Equal(t, "app-token-1", gotToken)
	assert.Equal(t, "1714560000", gotTs)

	// The signature covers exactly the path the request was sent with
	mac := hmac.New(sha256.New, []byte("secret-1"))
	mac.Write([]byte("1714560000GET" + gotPath))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.Equal(t, `{"id":"applicant-1"}`, string(resp.Body))
}

func TestProxy_UpstreamErrorStatusPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"description":"applicant not found"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, "app-token-1", "secret-1")

	resp, err := client.Metadata(context.Background(), "applicant-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Contains(t, string(resp.Body), "applicant not found")
}

func TestImage_ProxiesBinaryBody(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	client := New(srv.URL, "app-token-1", "secret-1")

	resp, err := client.Image(context.Background(), "insp-1", "img-9")
	require.NoError(t, err)
	assert.Equal(t, "/resources/inspections/insp-1/resources/img-9", gotPath)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, resp.Body)
}

func TestProxy_TransportErrorIsUpstreamError(t *testing.T) {
	// Point at a server that is already closed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := New(srv.URL, "app-token-1", "secret-1")

	_, err := client.Applicant(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, orderbook.ErrUpstream))
}
