package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/listctl/internal/provider"
	"github.com/pitabwire/listctl/model"
)

// MockBackend is an HTTP test server that serves resources the way a simple
// REST data API does: sort, range and filter come as JSON query parameters
// and the total comes back in the Content-Range header. Failures can be
// queued per resource, and every received request is recorded.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server
	data   *provider.Memory

	mu       sync.Mutex
	failures map[string][]*mockResponse
	received map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Path        string
	QueryParams map[string]string
	Headers     http.Header
	ReceivedAt  time.Time
}

type mockResponse struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
}

// ResourceMock is a builder for queuing responses for a specific resource.
type ResourceMock struct {
	backend  *MockBackend
	resource string
}

// newMockBackend creates a mock backend serving data and starts the HTTP
// test server.
func newMockBackend(t *testing.T, data map[string][]model.Record) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:        t,
		data:     provider.NewMemory(data),
		failures: make(map[string][]*mockResponse),
		received: make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{resource}", mb.handleList)
	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)

	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// SetRecords replaces the records served for resource.
func (mb *MockBackend) SetRecords(resource string, records []model.Record) {
	mb.data.Set(resource, records)
}

// OnResource returns a builder for queuing responses for resource.
func (mb *MockBackend) OnResource(resource string) *ResourceMock {
	return &ResourceMock{backend: mb, resource: resource}
}

// FailWith queues n responses with the given status. Once the queue is
// drained the resource is served normally again.
func (rm *ResourceMock) FailWith(n, status int) *ResourceMock {
	for range n {
		rm.backend.enqueue(rm.resource, &mockResponse{
			status: status,
			body:   map[string]any{"message": http.StatusText(status)},
		})
	}
	return rm
}

// RespondWithDelay queues a successful response delayed by d.
func (rm *ResourceMock) RespondWithDelay(d time.Duration) *ResourceMock {
	rm.backend.enqueue(rm.resource, &mockResponse{delay: d})
	return rm
}

// RespondWithConnectionError queues a response that closes the connection
// to simulate a backend failure.
func (rm *ResourceMock) RespondWithConnectionError() *ResourceMock {
	rm.backend.enqueue(rm.resource, &mockResponse{connError: true})
	return rm
}

func (mb *MockBackend) enqueue(resource string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.failures[resource] = append(mb.failures[resource], resp)
}

func (mb *MockBackend) next(resource string) *mockResponse {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	queue := mb.failures[resource]
	if len(queue) == 0 {
		return nil
	}
	mb.failures[resource] = queue[1:]
	return queue[0]
}

func (mb *MockBackend) handleList(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")

	rec := &RecordedRequest{
		Path:        r.URL.Path,
		QueryParams: make(map[string]string),
		Headers:     r.Header.Clone(),
		ReceivedAt:  time.Now(),
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			rec.QueryParams[key] = values[0]
		}
	}
	mb.mu.Lock()
	mb.received[resource] = append(mb.received[resource], rec)
	mb.mu.Unlock()

	if resp := mb.next(resource); resp != nil {
		if resp.connError {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, _ := hj.Hijack(); conn != nil {
					conn.Close()
				}
			}
			return
		}
		if resp.delay > 0 {
			time.Sleep(resp.delay)
		}
		if resp.status != 0 {
			writeJSON(w, resp.status, resp.body)
			return
		}
	}

	params, err := parseListParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}
	res, err := mb.data.GetList(context.Background(), resource, params)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
		return
	}

	start := 0
	if pp := params.Pagination.PerPage; pp > 0 {
		start = (params.Pagination.Page - 1) * pp
	}
	w.Header().Set("Content-Range", fmt.Sprintf("%s %d-%d/%d", resource, start, start+max(len(res.Data)-1, 0), *res.Total))
	writeJSON(w, http.StatusOK, res.Data)
}

// parseListParams reads sort=["title","ASC"], range=[0,24] and
// filter={"q":"war"}.
func parseListParams(r *http.Request) (model.GetListParams, error) {
	q := r.URL.Query()
	var params model.GetListParams

	if raw := q.Get("sort"); raw != "" {
		var sort []string
		if err := json.Unmarshal([]byte(raw), &sort); err != nil || len(sort) != 2 {
			return params, fmt.Errorf("invalid sort %q", raw)
		}
		params.Sort = model.SortSpec{Field: sort[0], Order: model.SortOrder(strings.ToUpper(sort[1]))}
	}
	if raw := q.Get("range"); raw != "" {
		var rng []int
		if err := json.Unmarshal([]byte(raw), &rng); err != nil || len(rng) != 2 || rng[1] < rng[0] {
			return params, fmt.Errorf("invalid range %q", raw)
		}
		perPage := rng[1] - rng[0] + 1
		params.Pagination = model.Pagination{Page: rng[0]/perPage + 1, PerPage: perPage}
	}
	if raw := q.Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.Filter); err != nil {
			return params, fmt.Errorf("invalid filter %q", raw)
		}
	}
	return params, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// Calls returns how many requests resource received.
func (mb *MockBackend) Calls(resource string) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.received[resource])
}

// AssertCalled verifies that resource was requested the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, resource string, expectedCount int) {
	t.Helper()
	if actual := mb.Calls(resource); actual != expectedCount {
		t.Errorf("mock backend: resource %q called %d times, want %d", resource, actual, expectedCount)
	}
}

// LastRequest returns the last request received for resource, or nil.
func (mb *MockBackend) LastRequest(resource string) *RecordedRequest {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	reqs := mb.received[resource]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// Reset clears recorded requests and queued responses.
func (mb *MockBackend) Reset() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.failures = make(map[string][]*mockResponse)
	mb.received = make(map[string][]*RecordedRequest)
}
