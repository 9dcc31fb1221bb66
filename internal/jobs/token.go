// Package jobs provides the authenticated client for the batch-job backend
// used to run long deletions, together with the OAuth2 token cache that
// backs it.
package jobs

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"portal-conductor/internal/domain"
)

// DefaultSafetyMargin is how long before its literal expiry a token is
// treated as expired, so a token handed out is never on the verge of
// rejection by the backend.
const DefaultSafetyMargin = 60 * time.Second

// credential is an immutable token snapshot. It is replaced wholesale on
// refresh, never mutated, so the fast path can read it without locking.
type credential struct {
	token  string
	expiry time.Time
}

// TokenCache holds a bearer credential for the job backend and refreshes it
// under a client-credentials grant when it nears expiry. Safe for
// concurrent use.
type TokenCache struct {
	conf   *clientcredentials.Config
	margin time.Duration
	logger *slog.Logger

	cur atomic.Pointer[credential]
	mu  sync.Mutex

	// overridable for tests
	httpClient *http.Client
	now        func() time.Time
}

// NewTokenCache creates a cache that obtains tokens from tokenURL using the
// given client credentials.
func NewTokenCache(tokenURL, clientID, clientSecret string, logger *slog.Logger) *TokenCache {
	return &TokenCache{
		conf: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		},
		margin:     DefaultSafetyMargin,
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Token returns a bearer token that is valid for at least the safety
// margin, refreshing it first when needed. Concurrent callers racing past
// the fast path share a single refresh rather than each issuing one.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if cur := c.cur.Load(); cur != nil && c.fresh(cur) {
		return cur.token, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under the lock: another caller may have refreshed while we
	// were waiting.
	if cur := c.cur.Load(); cur != nil && c.fresh(cur) {
		return cur.token, nil
	}
	if err := c.refresh(ctx); err != nil {
		return "", err
	}
	return c.cur.Load().token, nil
}

func (c *TokenCache) fresh(cur *credential) bool {
	return c.now().Before(cur.expiry.Add(-c.margin))
}

// refresh executes the client-credentials grant and replaces the cached
// credential. On failure the previous credential is left untouched, so a
// stale-but-valid token already in use is not discarded by a failed
// refresh attempt. Callers must hold c.mu.
func (c *TokenCache) refresh(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.conf.Token(ctx)
	if err != nil {
		c.logger.Error("token refresh failed", "error", err)
		return domain.ErrAuth("token refresh failed: %v", err)
	}

	expiry, err := tokenExpiry(tok.AccessToken)
	if err != nil {
		c.logger.Error("token refresh returned a malformed token", "error", err)
		return domain.ErrAuth("decode token expiry: %v", err)
	}

	c.cur.Store(&credential{token: tok.AccessToken, expiry: expiry})
	c.logger.Info("bearer token refreshed", "expires_in", time.Until(expiry).Round(time.Second))
	return nil
}

// tokenExpiry extracts the expiration instant from the token payload
// without verifying the signature. The token is only used as a bearer
// credential resubmitted to the issuer-trusted API, so transport security
// is trusted instead of token authenticity.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, jwt.ErrTokenInvalidClaims
	}
	return exp.Time, nil
}
