package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiredSkew(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		token   Token
		expired bool
	}{
		{"no access token", Token{RefreshToken: "r"}, true},
		{"no expiry", Token{AccessToken: "a"}, false},
		{"well in the future", Token{AccessToken: "a", Expiry: now.Add(time.Hour)}, false},
		{"three minutes out", Token{AccessToken: "a", Expiry: now.Add(3 * time.Minute)}, true},
		{"exactly at skew", Token{AccessToken: "a", Expiry: now.Add(5 * time.Minute)}, true},
		{"just past skew", Token{AccessToken: "a", Expiry: now.Add(5*time.Minute + time.Second)}, false},
		{"already expired", Token{AccessToken: "a", Expiry: now.Add(-time.Minute)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expired, tc.token.Expired(now))
		})
	}
}

func newTokenEndpoint(t *testing.T, issue string, calls *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "refresh-secret", r.FormValue("refresh_token"))
		*calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": issue,
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenSourceRefreshesInsideSkewWindow(t *testing.T) {
	var calls int
	srv := newTokenEndpoint(t, "fresh-token", &calls)

	var persisted []Token
	src := NewTokenSource(srv.URL, "cid", "csecret", Token{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-secret",
		Expiry:       time.Now().Add(3 * time.Minute),
	}, func(tok Token) error {
		persisted = append(persisted, tok)
		return nil
	})

	tok, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)
	assert.Equal(t, 1, calls)

	// the replacement was persisted with its new expiry
	require.Len(t, persisted, 1)
	assert.Equal(t, "fresh-token", persisted[0].AccessToken)
	assert.True(t, persisted[0].Expiry.After(time.Now().Add(30*time.Minute)))

	// and the next call reuses it without another refresh
	tok, err = src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)
	assert.Equal(t, 1, calls)
}

func TestTokenSourceInvalidateForcesRefresh(t *testing.T) {
	var calls int
	srv := newTokenEndpoint(t, "second-token", &calls)

	src := NewTokenSource(srv.URL, "cid", "csecret", Token{
		AccessToken:  "first-token",
		RefreshToken: "refresh-secret",
		Expiry:       time.Now().Add(time.Hour),
	}, nil)

	tok, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first-token", tok)
	assert.Zero(t, calls)

	src.Invalidate()

	tok, err = src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second-token", tok)
	assert.Equal(t, 1, calls)
}

func TestTokenSourceNoRefreshToken(t *testing.T) {
	src := NewTokenSource("http://127.0.0.1:0", "cid", "csecret", Token{}, nil)
	_, err := src.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestTokenSourceEndpointRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	src := NewTokenSource(srv.URL, "cid", "csecret", Token{RefreshToken: "refresh-secret"}, nil)
	_, err := src.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrAuthExpired)
}
