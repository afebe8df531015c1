package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pitabwire/listctl/internal/config"
	"github.com/pitabwire/listctl/internal/provider"
)

func TestResilience_RetriesTransientFailures(t *testing.T) {
	h := NewTestHarness(t, WithRetry(config.RetryConfig{
		MaxAttempts:       3,
		BackoffInitial:    time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        5 * time.Millisecond,
	}))
	h.Backend().OnResource("books").FailWith(2, http.StatusServiceUnavailable)

	v := h.OpenList(t, "books", h.GenerateToken(AliceClaims()))
	if v.Status != "success" {
		t.Fatalf("Status = %q, error = %+v, want success after retries", v.Status, v.Error)
	}
	assertIDs(t, v, 1, 2)
	h.Backend().AssertCalled(t, "books", 3)
}

func TestResilience_ClientErrorsAreNotRetried(t *testing.T) {
	h := NewTestHarness(t, WithRetry(config.RetryConfig{MaxAttempts: 3, BackoffInitial: time.Millisecond}))
	h.Backend().OnResource("books").FailWith(1, http.StatusBadRequest)

	v := h.OpenList(t, "books", h.GenerateToken(AliceClaims()))
	if v.Status != "error" || v.Error == nil || v.Error.Code != "FETCH_ERROR" {
		t.Fatalf("Status = %q, error = %+v, want FETCH_ERROR", v.Status, v.Error)
	}
	h.Backend().AssertCalled(t, "books", 1)
}

func TestResilience_FailedRefetchKeepsStaleData(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AliceClaims())
	v := h.OpenList(t, "books", token)
	assertIDs(t, v, 1, 2)

	h.Backend().OnResource("books").FailWith(1, http.StatusInternalServerError)
	v = h.Do(t, http.MethodPost, "/lists/"+v.ID+"/refetch", nil, token)
	if v.Status != "error" || v.Error == nil || v.Error.Code != "FETCH_ERROR" {
		t.Fatalf("Status = %q, error = %+v, want FETCH_ERROR", v.Status, v.Error)
	}
	assertIDs(t, v, 1, 2)
	if v.Total == nil || *v.Total != 5 {
		t.Errorf("Total = %v, want the stale total 5", v.Total)
	}
}

func TestResilience_ConnectionErrorIsReported(t *testing.T) {
	h := NewTestHarness(t)
	h.Backend().OnResource("books").RespondWithConnectionError()

	v := h.OpenList(t, "books", h.GenerateToken(AliceClaims()))
	if v.Status != "error" || v.Error == nil || v.Error.Code != "FETCH_ERROR" {
		t.Fatalf("Status = %q, error = %+v, want FETCH_ERROR", v.Status, v.Error)
	}
	if len(v.Data) != 0 {
		t.Errorf("Data = %v, want none", v.Data)
	}
}

func TestResilience_CircuitBreakerOpensAndRecovers(t *testing.T) {
	h := NewTestHarness(t, WithCircuitBreaker(config.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          300 * time.Millisecond,
	}))
	token := h.GenerateToken(AliceClaims())
	h.Backend().OnResource("books").FailWith(2, http.StatusInternalServerError)

	v := h.OpenList(t, "books", token)
	base := "/lists/" + v.ID
	h.Do(t, http.MethodPost, base+"/refetch", nil, token)
	if state := h.Provider.Breaker().State(); state != provider.BreakerOpen {
		t.Fatalf("breaker state = %v, want open", state)
	}

	// The open breaker short-circuits without reaching the backend.
	v = h.Do(t, http.MethodPost, base+"/refetch", nil, token)
	if v.Status != "error" || v.Error == nil || v.Error.Code != "FETCH_ERROR" {
		t.Fatalf("Status = %q, error = %+v, want FETCH_ERROR", v.Status, v.Error)
	}
	h.Backend().AssertCalled(t, "books", 2)
	h.AssertStatus(t, h.GET("/ready", ""), http.StatusServiceUnavailable)

	require.Eventually(t, func() bool {
		return h.Provider.Breaker().State() != provider.BreakerOpen
	}, 2*time.Second, 20*time.Millisecond)

	v = h.Do(t, http.MethodPost, base+"/refetch", nil, token)
	if v.Status != "success" {
		t.Fatalf("Status = %q, error = %+v, want success after recovery", v.Status, v.Error)
	}
	assertIDs(t, v, 1, 2)
	if state := h.Provider.Breaker().State(); state != provider.BreakerClosed {
		t.Errorf("breaker state = %v, want closed", state)
	}
	h.AssertStatus(t, h.GET("/ready", ""), http.StatusOK)
}

func TestResilience_SlowBackendOutlivesHandlerTimeout(t *testing.T) {
	h := NewTestHarness(t, WithHandlerTimeout(100*time.Millisecond))
	token := h.GenerateToken(AliceClaims())
	h.Backend().OnResource("books").RespondWithDelay(400 * time.Millisecond)

	v := h.OpenList(t, "books", token)
	if !v.IsPending || !v.IsFetching {
		t.Fatalf("IsPending = %v IsFetching = %v, want the first fetch still running", v.IsPending, v.IsFetching)
	}

	require.Eventually(t, func() bool {
		var cur ListView
		h.AssertJSON(t, h.GET("/lists/"+v.ID, token), http.StatusOK, &cur)
		return cur.Status == "success" && len(cur.Data) == 2
	}, 3*time.Second, 25*time.Millisecond)
}
