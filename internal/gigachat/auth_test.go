package gigachat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasiliev/invoice-auditor/internal/common"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTokenFetchSendsExchangeRequest(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "Basic secret-key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("RqUID"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "GIGACHAT_API_PERS", r.PostForm.Get("scope"))
		fmt.Fprint(w, `{"access_token": "tok-1"}`)
	}))
	defer srv.Close()

	a := NewAuthClient(AuthConfig{URL: srv.URL, AuthKey: "secret-key"}, discardLogger())
	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, fetches)

	// still valid: no second exchange
	tok, err = a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, fetches)
}

func TestTokenDefaultLifetimeWhenNoExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token": "tok"}`)
	}))
	defer srv.Close()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewAuthClient(AuthConfig{URL: srv.URL, AuthKey: "k"}, discardLogger())
	a.now = func() time.Time { return now }

	_, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTokenLifetime), a.cred.ExpiresAt)
}

func TestTokenHonorsExplicitExpiry(t *testing.T) {
	expiry := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"access_token": "tok", "expires_at": %d}`, expiry.UnixMilli())
	}))
	defer srv.Close()

	a := NewAuthClient(AuthConfig{URL: srv.URL, AuthKey: "k"}, discardLogger())
	_, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.True(t, a.cred.ExpiresAt.Equal(expiry))
}

func TestTokenRefreshesInsideBuffer(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		fmt.Fprintf(w, `{"access_token": "tok-%d"}`, fetches)
	}))
	defer srv.Close()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewAuthClient(AuthConfig{URL: srv.URL, AuthKey: "k"}, discardLogger())
	a.now = func() time.Time { return now }

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// move the clock to expiry minus the buffer: stale, must refresh
	now = a.cred.ExpiresAt.Add(-RefreshBuffer)
	tok, err = a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, fetches)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		fmt.Fprintf(w, `{"access_token": "tok-%d"}`, fetches)
	}))
	defer srv.Close()

	a := NewAuthClient(AuthConfig{URL: srv.URL, AuthKey: "k"}, discardLogger())
	_, err := a.Token(context.Background())
	require.NoError(t, err)

	a.Invalidate()
	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, fetches)
}

func TestTokenExchangeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "bad credentials")
	}))
	defer srv.Close()

	a := NewAuthClient(AuthConfig{URL: srv.URL, AuthKey: "k"}, discardLogger())
	_, err := a.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAuth)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusForbidden, authErr.Status)
	assert.Equal(t, "bad credentials", authErr.Body)
}
