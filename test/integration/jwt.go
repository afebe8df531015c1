package integration

import (
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims holds the configurable claims for generating test JWT tokens.
type TestClaims struct {
	SubjectID string
	Extra     map[string]any
}

// tokenIssuer signs HS256 tokens the way the list API expects them.
type tokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{
		secret:   []byte("integration-test-secret-0123456789"),
		issuer:   "https://auth.test.listctl.dev",
		audience: "listd-test",
	}
}

func (ti *tokenIssuer) sign(claims TestClaims, issued, expires time.Time) string {
	mapClaims := jwt.MapClaims{
		"iss": ti.issuer,
		"aud": ti.audience,
		"iat": jwt.NewNumericDate(issued),
		"exp": jwt.NewNumericDate(expires),
		"sub": claims.SubjectID,
	}
	maps.Copy(mapClaims, claims.Extra)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString(ti.secret)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// GenerateToken creates a valid, signed JWT token with the given claims.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now, now.Add(time.Hour))
}

// GenerateExpiredToken creates a JWT token that expired in the past.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now.Add(-2*time.Hour), now.Add(-time.Hour))
}

// AliceClaims returns claims for the default test user.
func AliceClaims() TestClaims {
	return TestClaims{SubjectID: "user-alice"}
}

// BobClaims returns claims for a second user.
func BobClaims() TestClaims {
	return TestClaims{SubjectID: "user-bob"}
}
