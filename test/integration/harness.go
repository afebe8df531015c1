// Package integration provides a reusable test harness for end-to-end
// testing of listd. It starts the full HTTP router over a mock REST data
// API, a Redis-backed parameter store and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/config"
	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/internal/provider"
	"github.com/pitabwire/listctl/internal/store"
	"github.com/pitabwire/listctl/internal/transport"
	"github.com/pitabwire/listctl/model"
)

// storePrefix namespaces the Redis keys written by the harness.
const storePrefix = "listctl"

// TestHarness encapsulates a fully wired listd instance with a mock data
// backend for integration testing.
type TestHarness struct {
	t       *testing.T
	server  *httptest.Server
	issuer  *tokenIssuer
	backend *MockBackend
	redis   *miniredis.Miniredis

	// Internal components exposed for advanced test scenarios.
	Sessions *transport.Sessions
	Provider *provider.REST
	Store    *store.RedisStore
	Metrics  *observability.Metrics

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	lists          map[string]config.ListConfig
	breaker        config.CircuitBreakerConfig
	retry          config.RetryConfig
	handlerTimeout time.Duration
	maxSessions    int
	providerSecret []byte
}

// WithLists replaces the default list views.
func WithLists(lists map[string]config.ListConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.lists = lists
	}
}

// WithCircuitBreaker configures the provider circuit breaker.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.breaker = cfg
	}
}

// WithRetry configures provider retries.
func WithRetry(cfg config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.retry = cfg
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithMaxSessions caps the number of open list sessions.
func WithMaxSessions(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.maxSessions = n
	}
}

// WithProviderSecret makes the provider sign service tokens with secret.
func WithProviderSecret(secret []byte) HarnessOption {
	return func(c *harnessConfig) {
		c.providerSecret = secret
	}
}

// DefaultBooks returns the records served for the "books" resource.
func DefaultBooks() []model.Record {
	return []model.Record{
		{"id": 1, "title": "War and Peace", "author": "Leo Tolstoy", "status": "published", "year": 1869},
		{"id": 2, "title": "The Little Prince", "author": "Antoine de Saint-Exupery", "status": "published", "year": 1943},
		{"id": 3, "title": "Swann's Way", "author": "Marcel Proust", "status": "draft", "year": 1913},
		{"id": 4, "title": "A Clockwork Orange", "author": "Anthony Burgess", "status": "draft", "year": 1962},
		{"id": 5, "title": "The Trial", "author": "Franz Kafka", "status": "published", "year": 1925},
	}
}

// DefaultLists returns a paged and an infinite view over "books".
func DefaultLists() map[string]config.ListConfig {
	return map[string]config.ListConfig{
		"books": {Resource: "books", PerPage: 2, SortField: "id", SortOrder: "ASC"},
		"feed":  {Resource: "books", Infinite: true, PerPage: 2, SortField: "id", SortOrder: "ASC", DisableSyncWithStore: true},
	}
}

// NewTestHarness creates and starts a full listd test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		lists:          DefaultLists(),
		handlerTimeout: 10 * time.Second,
		breaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		},
		retry:       config.RetryConfig{MaxAttempts: 1},
		maxSessions: 100,
	}
	for _, opt := range opts {
		opt(hc)
	}

	logger := zap.NewNop()
	h := &TestHarness{
		t:       t,
		issuer:  newTokenIssuer(),
		backend: newMockBackend(t, map[string][]model.Record{"books": DefaultBooks()}),
		redis:   miniredis.RunT(t),
		Metrics: observability.InitMetrics(prometheus.NewRegistry()),
	}

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.MaxSessions = hc.maxSessions
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Server.Auth = config.AuthConfig{
		Enabled:  true,
		Issuer:   h.issuer.issuer,
		Audience: h.issuer.audience,
	}
	h.cfg.Provider.BaseURL = h.backend.URL()
	h.cfg.Provider.Timeout = 5 * time.Second
	h.cfg.Provider.CircuitBreaker = hc.breaker
	h.cfg.Provider.Retry = hc.retry
	h.cfg.Provider.Auth = config.ProviderAuthConfig{Issuer: "listd", Audience: "books-api", TTL: time.Minute}
	h.cfg.Observability.Metrics.Enabled = false
	h.cfg.Lists = hc.lists

	client := redis.NewClient(&redis.Options{Addr: h.redis.Addr()})
	t.Cleanup(func() { client.Close() })
	h.Store = store.NewRedisStore(client, storePrefix, time.Hour)

	h.Provider = provider.NewREST(provider.RESTOptions{
		Config:  h.cfg.Provider,
		Secret:  hc.providerSecret,
		Logger:  logger,
		Metrics: h.Metrics,
	})
	dataProvider := provider.Instrument(h.Provider, "rest", logger)

	h.Sessions = transport.NewSessions(context.Background(), transport.SessionOptions{
		Lists:       h.cfg.Lists,
		Store:       h.Store,
		Provider:    dataProvider,
		MaxSessions: h.cfg.Server.MaxSessions,
		Logger:      logger,
		Metrics:     h.Metrics,
	})
	t.Cleanup(h.Sessions.Close)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Sessions:     h.Sessions,
		Authenticate: transport.JWTAuthenticator(h.cfg.Server.Auth, h.issuer.secret),
		Checks: map[string]observability.HealthChecker{
			"provider": dataProvider,
			"store":    h.Store,
		},
		Logger:  logger,
		Metrics: h.Metrics,
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Backend returns the mock data backend.
func (h *TestHarness) Backend() *MockBackend {
	return h.backend
}

// Redis returns the in-process Redis server behind the store.
func (h *TestHarness) Redis() *miniredis.Miniredis {
	return h.redis
}

// RedisKey returns the Redis key under which the store saves key.
func RedisKey(key string) string {
	return storePrefix + ":" + key
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token)
}

func (h *TestHarness) doRequest(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- List helpers ---

// ListView is the client-side view of a list session.
type ListView struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Data         []map[string]any `json:"data"`
	Total        *int             `json:"total"`
	Status       string           `json:"status"`
	Error        *ErrorBody       `json:"error"`
	IsPending    bool             `json:"isPending"`
	IsFetching   bool             `json:"isFetching"`
	Page         int              `json:"page"`
	PerPage      int              `json:"perPage"`
	PageCount    int              `json:"pageCount"`
	FilterValues map[string]any   `json:"filterValues"`
	Sort         struct {
		Field string `json:"field"`
		Order string `json:"order"`
	} `json:"sort"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// ErrorBody is the error envelope returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IDs returns the record ids of the view as JSON-decoded numbers.
func (v ListView) IDs() []float64 {
	ids := make([]float64, 0, len(v.Data))
	for _, rec := range v.Data {
		id, _ := rec["id"].(float64)
		ids = append(ids, id)
	}
	return ids
}

// OpenList opens a session of the named list and waits for its first page.
func (h *TestHarness) OpenList(t *testing.T, name, token string) ListView {
	t.Helper()
	var v ListView
	h.AssertJSON(t, h.POST("/lists?wait=true", map[string]string{"name": name}, token), http.StatusCreated, &v)
	return v
}

// Do sends an authenticated request that must succeed and returns the
// settled list view.
func (h *TestHarness) Do(t *testing.T, method, path string, body any, token string) ListView {
	t.Helper()
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var v ListView
	h.AssertJSON(t, h.doRequest(method, path+sep+"wait=true", body, token), http.StatusOK, &v)
	return v
}

// ErrorCode parses the error envelope of resp and returns its code.
func (h *TestHarness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	var body struct {
		Error ErrorBody `json:"error"`
	}
	h.ParseJSON(resp, &body)
	return body.Error.Code
}
