package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/listctl/internal/config"
	"github.com/pitabwire/listctl/model"
)

var testSecret = []byte("listd-test-secret")

func authConfig() config.AuthConfig {
	return config.AuthConfig{Enabled: true, Issuer: "https://auth.example.com", Audience: "listd"}
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-42",
		"iss": "https://auth.example.com",
		"aud": "listd",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func authHandler(t *testing.T, wantSub string) http.Handler {
	return JWTAuthenticator(authConfig(), testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := SubjectFrom(r.Context()); got != wantSub {
			t.Errorf("SubjectFrom() = %q, want %q", got, wantSub)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestJWTAuthenticator_validToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/lists", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, testSecret, validClaims()))
	w := httptest.NewRecorder()
	authHandler(t, "user-42").ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
}

func TestJWTAuthenticator_rejections(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.example.com"
	wrongAudience := validClaims()
	wrongAudience["aud"] = "other"
	noExpiry := validClaims()
	delete(noExpiry, "exp")

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "Missing authorization header"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "Invalid authorization header format"},
		{"garbage", "Bearer not-a-token", "Invalid token"},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, expired), "Token expired"},
		{"wrong issuer", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, wrongIssuer), "Invalid token issuer"},
		{"wrong audience", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, wrongAudience), "Invalid token audience"},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims()), "Invalid token signature"},
		{"wrong algorithm", "Bearer " + signToken(t, jwt.SigningMethodHS512, testSecret, validClaims()), "Disallowed signing algorithm"},
		{"no expiry", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, noExpiry), "Missing required claim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := JWTAuthenticator(authConfig(), testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))
			req := httptest.NewRequest("GET", "/lists", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != 401 {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			var body struct {
				Error model.ErrorEnvelope `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Error.Code != model.ErrUnauthorized || body.Error.Message != tt.message {
				t.Errorf("error = %+v, want %q", body.Error, tt.message)
			}
		})
	}
}

func TestJWTAuthenticator_optionalIssuerAndAudience(t *testing.T) {
	claims := jwt.MapClaims{"sub": "svc", "exp": time.Now().Add(time.Minute).Unix()}
	handler := JWTAuthenticator(config.AuthConfig{Enabled: true}, testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/lists", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, testSecret, claims))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestSubjectFrom_unauthenticated(t *testing.T) {
	if got := SubjectFrom(httptest.NewRequest("GET", "/", nil).Context()); got != "" {
		t.Errorf("SubjectFrom() = %q, want empty", got)
	}
}
