package transport

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/listctl/internal/config"
	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/internal/provider"
	"github.com/pitabwire/listctl/model"
)

func newTestSessions(t *testing.T, idle time.Duration) (*Sessions, *observability.Metrics) {
	t.Helper()
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	s := NewSessions(context.Background(), SessionOptions{
		Lists:    testLists(),
		Provider: provider.NewMemory(map[string][]model.Record{"books": books()}),
		IdleTTL:  idle,
		Metrics:  metrics,
	})
	t.Cleanup(s.Close)
	return s, metrics
}

func TestSessions_createAndGet(t *testing.T) {
	s, metrics := newTestSessions(t, 0)

	paged, err := s.Create("books", "alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := paged.Infinite(); ok {
		t.Error("paged session reports an infinite controller")
	}
	feed, err := s.Create("feed", "alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := feed.Infinite(); !ok {
		t.Error("infinite session has no infinite controller")
	}
	if paged.ID() == feed.ID() {
		t.Error("sessions share an id")
	}

	got, err := s.Get(paged.ID(), "alice")
	if err != nil || got != paged {
		t.Errorf("Get() = %v, %v", got, err)
	}
	if _, err := s.Get(paged.ID(), "bob"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("Get() by another owner error = %v, want NOT_FOUND", err)
	}
	if v := testutil.ToFloat64(metrics.ActiveSessions); v != 2 {
		t.Errorf("active sessions gauge = %v, want 2", v)
	}
}

func TestSessions_sweepClosesIdleSessions(t *testing.T) {
	s, metrics := newTestSessions(t, time.Hour)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	idle, _ := s.Create("books", "")
	now = now.Add(40 * time.Minute)
	active, _ := s.Create("books", "")
	now = now.Add(30 * time.Minute)

	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if _, err := s.Get(idle.ID(), ""); err == nil {
		t.Error("idle session still reachable")
	}
	if _, err := s.Get(active.ID(), ""); err != nil {
		t.Errorf("active session swept: %v", err)
	}
	if v := testutil.ToFloat64(metrics.ActiveSessions); v != 1 {
		t.Errorf("active sessions gauge = %v, want 1", v)
	}
}

func TestSessions_getKeepsSessionAlive(t *testing.T) {
	s, _ := newTestSessions(t, time.Hour)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	sess, _ := s.Create("books", "")
	now = now.Add(50 * time.Minute)
	s.Get(sess.ID(), "")
	now = now.Add(50 * time.Minute)

	if n := s.Sweep(); n != 0 {
		t.Errorf("Sweep() = %d, want 0 for a recently used session", n)
	}
}

func TestSessions_closeClosesEverything(t *testing.T) {
	s, metrics := newTestSessions(t, 0)
	s.Create("books", "")
	s.Create("feed", "")

	s.Close()
	if n := s.Len(); n != 0 {
		t.Errorf("Len() = %d after Close, want 0", n)
	}
	if v := testutil.ToFloat64(metrics.ActiveSessions); v != 0 {
		t.Errorf("active sessions gauge = %v, want 0", v)
	}
}

func TestSessions_invalidListConfig(t *testing.T) {
	s, _ := newTestSessions(t, 0)
	s.opts.Lists = map[string]config.ListConfig{
		"broken": {Filter: map[string]any{"bad": struct{}{}}},
	}
	if _, err := s.Create("broken", ""); !model.IsCode(err, model.ErrConfiguration) {
		t.Errorf("Create() error = %v, want CONFIGURATION_ERROR", err)
	}
}
