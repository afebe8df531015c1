package provider

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/listctl/internal/config"
)

// tokenRefreshMargin is how long before expiry a cached token is replaced.
const tokenRefreshMargin = 30 * time.Second

// TokenSource mints HS256 service tokens for provider requests and caches
// each token until shortly before it expires.
type TokenSource struct {
	secret []byte
	cfg    config.ProviderAuthConfig
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource creates a token source signing with secret.
func NewTokenSource(cfg config.ProviderAuthConfig, secret []byte) *TokenSource {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &TokenSource{secret: secret, cfg: cfg, now: time.Now}
}

// Token returns a valid signed token.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(tokenRefreshMargin).Before(s.expires) {
		return s.token, nil
	}

	expires := now.Add(s.cfg.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   "listctl",
		Issuer:    s.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("provider: sign service token: %w", err)
	}
	s.token, s.expires = signed, expires
	return signed, nil
}
