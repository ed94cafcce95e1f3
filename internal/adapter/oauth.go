package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/imroc/req/v3"
)

// Provider token endpoints.
const (
	GoogleTokenURL  = "https://oauth2.googleapis.com/token"
	DropboxTokenURL = "https://api.dropbox.com/oauth2/token"
)

// Tokens within this window of their expiry count as expired, so a request
// never goes out on a token about to lapse mid-flight.
const tokenExpirySkew = 5 * time.Minute

// Token is an OAuth access token with its refresh material. Values are
// opaque secrets; they never show up in logs or error strings.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Expired reports whether the access token is unusable at now,
// applying the skew window.
func (t Token) Expired(now time.Time) bool {
	if t.AccessToken == "" {
		return true
	}
	if t.Expiry.IsZero() {
		return false
	}
	return !now.Before(t.Expiry.Add(-tokenExpirySkew))
}

// PersistFunc receives each refreshed token so the owning session can store
// it for the next run.
type PersistFunc func(Token) error

// TokenSource hands out a live access token, refreshing through the
// provider's token endpoint when the current one is expired or rejected.
// Safe for use from one adapter instance's request path.
type TokenSource struct {
	mu           sync.Mutex
	client       *req.Client
	tokenURL     string
	clientID     string
	clientSecret string
	token        Token
	persist      PersistFunc
	now          func() time.Time
}

func NewTokenSource(tokenURL, clientID, clientSecret string, tok Token, persist PersistFunc) *TokenSource {
	return &TokenSource{
		client:       req.C().SetTimeout(30 * time.Second),
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		token:        tok,
		persist:      persist,
		now:          time.Now,
	}
}

// AccessToken returns a token expected to be valid, refreshing first when
// the cached one is inside the expiry window.
func (s *TokenSource) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.token.Expired(s.now()) {
		return s.token.AccessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.token.AccessToken, nil
}

// Invalidate drops the cached access token so the next AccessToken call
// refreshes. Called when the backend rejects a request with 401.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token.AccessToken = ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *TokenSource) refreshLocked(ctx context.Context) error {
	if s.token.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token", ErrAuthExpired)
	}

	var body tokenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     s.clientID,
			"client_secret": s.clientSecret,
			"refresh_token": s.token.RefreshToken,
			"grant_type":    "refresh_token",
		}).
		SetSuccessResult(&body).
		Post(s.tokenURL)
	if err != nil {
		return fmt.Errorf("%w: token refresh: %v", ErrTransport, err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("%w: token endpoint returned %s", ErrAuthExpired, resp.Status)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("%w: token endpoint returned no access token", ErrAuthExpired)
	}

	expiresIn := body.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	s.token.AccessToken = body.AccessToken
	s.token.Expiry = s.now().Add(time.Duration(expiresIn) * time.Second)
	slog.Debug("oauth: refreshed access token", "expiry", s.token.Expiry)

	if s.persist != nil {
		if err := s.persist(s.token); err != nil {
			return fmt.Errorf("persist refreshed token: %w", err)
		}
	}
	return nil
}
