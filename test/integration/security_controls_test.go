package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSecurity_RejectsMissingOrInvalidTokens(t *testing.T) {
	h := NewTestHarness(t)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": h.issuer.issuer,
		"aud": h.issuer.audience,
		"sub": "user-mallory",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("not-the-server-secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"expired token", h.GenerateExpiredToken(AliceClaims())},
		{"forged signature", forged},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.GET("/lists", tt.token)
			if resp.StatusCode != http.StatusUnauthorized {
				resp.Body.Close()
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
			if code := h.ErrorCode(resp); code != "UNAUTHORIZED" {
				t.Errorf("code = %q, want UNAUTHORIZED", code)
			}
		})
	}
	h.Backend().AssertCalled(t, "books", 0)
}

func TestSecurity_ProbesArePublic(t *testing.T) {
	h := NewTestHarness(t)

	h.AssertStatus(t, h.GET("/health", ""), http.StatusOK)

	var ready struct {
		Status string `json:"status"`
	}
	h.AssertJSON(t, h.GET("/ready", ""), http.StatusOK, &ready)
	if ready.Status != "ready" {
		t.Errorf("readiness status = %q, want ready", ready.Status)
	}
}

func TestSecurity_SecurityHeaders(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.GET("/lists", h.GenerateToken(AliceClaims()))
	defer resp.Body.Close()

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if resp.Header.Get("X-Correlation-Id") == "" {
		t.Error("X-Correlation-Id not set")
	}
}

func TestSecurity_SessionsScopedToSubject(t *testing.T) {
	h := NewTestHarness(t)
	alice := h.GenerateToken(AliceClaims())
	bob := h.GenerateToken(BobClaims())

	v := h.OpenList(t, "books", alice)
	path := "/lists/" + v.ID

	for _, resp := range []*http.Response{
		h.GET(path, bob),
		h.PUT(path+"/page", map[string]int{"page": 2}, bob),
		h.DELETE(path, bob),
	} {
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("foreign session access: status = %d, want 404", resp.StatusCode)
		}
		resp.Body.Close()
	}

	var own ListView
	h.AssertJSON(t, h.GET(path, alice), http.StatusOK, &own)
	if own.Page != 1 {
		t.Errorf("Page = %d, want 1: a foreign request changed the session", own.Page)
	}
}

func TestSecurity_ServiceTokenSentToBackend(t *testing.T) {
	secret := []byte("provider-secret-0123456789abcdef")
	h := NewTestHarness(t, WithProviderSecret(secret))
	userToken := h.GenerateToken(AliceClaims())
	h.OpenList(t, "books", userToken)

	last := h.Backend().LastRequest("books")
	if last == nil {
		t.Fatal("backend received no request")
	}
	raw, ok := strings.CutPrefix(last.Headers.Get("Authorization"), "Bearer ")
	if !ok {
		t.Fatalf("Authorization = %q, want a bearer token", last.Headers.Get("Authorization"))
	}
	if raw == userToken {
		t.Fatal("the caller's token was forwarded to the backend")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer("listd"),
		jwt.WithAudience("books-api"),
		jwt.WithExpirationRequired(),
	).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return secret, nil })
	if err != nil {
		t.Fatalf("service token rejected: %v", err)
	}
	if sub, _ := claims.GetSubject(); sub != "listctl" {
		t.Errorf("sub = %q, want listctl", sub)
	}
}

func TestSecurity_NoServiceTokenWithoutSecret(t *testing.T) {
	h := NewTestHarness(t)
	h.OpenList(t, "books", h.GenerateToken(AliceClaims()))

	if auth := h.Backend().LastRequest("books").Headers.Get("Authorization"); auth != "" {
		t.Errorf("Authorization = %q, want none", auth)
	}
}
