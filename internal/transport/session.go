package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/config"
	"github.com/pitabwire/listctl/internal/list"
	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/internal/store"
	"github.com/pitabwire/listctl/model"
)

// SessionOptions configures a Sessions registry.
type SessionOptions struct {
	// Lists are the named list views sessions can be opened on.
	Lists    map[string]config.ListConfig
	Store    store.Store
	Provider model.DataProvider

	// MaxSessions caps open sessions. Zero means unlimited.
	MaxSessions int
	// IdleTTL closes sessions unused for longer. Zero disables expiry.
	IdleTTL time.Duration

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Session is one server-side list controller opened by a client.
type Session struct {
	*list.Controller

	Name     string
	Owner    string
	infinite *list.InfiniteController
	lastUsed atomic.Int64
}

// Infinite returns the infinite controller of the session, if any.
func (s *Session) Infinite() (*list.InfiniteController, bool) {
	return s.infinite, s.infinite != nil
}

// Sessions owns the list controllers opened through the API. Controllers
// outlive the request that opened them and are closed on Delete, on idle
// expiry, or on Close.
type Sessions struct {
	opts   SessionOptions
	logger *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates a registry. Controllers run under a context derived
// from ctx. When IdleTTL is set, idle sessions are swept in the background
// until Close.
func NewSessions(ctx context.Context, opts SessionOptions) *Sessions {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Sessions{
		opts:     opts,
		logger:   opts.Logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
	if opts.IdleTTL > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return s
}

// Names returns the configured list names in order.
func (s *Sessions) Names() []string {
	names := make([]string, 0, len(s.opts.Lists))
	for name := range s.opts.Lists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create opens a session on the configured list name for owner.
func (s *Sessions) Create(name, owner string) (*Session, error) {
	cfg, ok := s.opts.Lists[name]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("list %q is not configured", name))
	}
	opts, err := list.OptionsFromConfig(name, cfg)
	if err != nil {
		return nil, err
	}
	opts.ID = uuid.NewString()
	opts.Store = s.opts.Store
	opts.Provider = s.opts.Provider
	opts.Logger = s.logger
	opts.Metrics = s.opts.Metrics

	if s.full() {
		return nil, model.NewRateLimitedError("too many open list sessions")
	}

	sess := &Session{Name: name, Owner: owner}
	if cfg.Infinite {
		ic, err := list.NewInfinite(s.ctx, opts)
		if err != nil {
			return nil, err
		}
		sess.Controller, sess.infinite = ic.Controller, ic
	} else {
		c, err := list.New(s.ctx, opts)
		if err != nil {
			return nil, err
		}
		sess.Controller = c
	}
	sess.lastUsed.Store(s.now().UnixNano())

	s.mu.Lock()
	if s.fullLocked() {
		s.mu.Unlock()
		sess.Close()
		return nil, model.NewRateLimitedError("too many open list sessions")
	}
	s.sessions[sess.ID()] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	s.opts.Metrics.SetActiveSessions(n)

	s.logger.Info("list session opened",
		zap.String("list_id", sess.ID()),
		zap.String("list", name),
		zap.Bool("infinite", cfg.Infinite),
	)
	return sess, nil
}

func (s *Sessions) full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullLocked()
}

func (s *Sessions) fullLocked() bool {
	return s.opts.MaxSessions > 0 && len(s.sessions) >= s.opts.MaxSessions
}

// Get returns the session id of owner and marks it used.
func (s *Sessions) Get(id, owner string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok || sess.Owner != owner {
		return nil, model.NewNotFoundError(fmt.Sprintf("list session %q not found", id))
	}
	sess.lastUsed.Store(s.now().UnixNano())
	return sess, nil
}

// Delete closes the session id of owner.
func (s *Sessions) Delete(id, owner string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.Owner != owner {
		s.mu.Unlock()
		return model.NewNotFoundError(fmt.Sprintf("list session %q not found", id))
	}
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()

	sess.Close()
	s.opts.Metrics.SetActiveSessions(n)
	s.logger.Info("list session closed", zap.String("list_id", id))
	return nil
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep closes the sessions idle for longer than IdleTTL and returns how
// many were closed.
func (s *Sessions) Sweep() int {
	if s.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.opts.IdleTTL).UnixNano()

	s.mu.Lock()
	var idle []*Session
	for id, sess := range s.sessions {
		if sess.lastUsed.Load() < cutoff {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range idle {
		sess.Close()
		s.logger.Info("idle list session expired", zap.String("list_id", sess.ID()))
	}
	if len(idle) > 0 {
		s.opts.Metrics.SetActiveSessions(n)
	}
	return len(idle)
}

func (s *Sessions) sweepLoop() {
	defer s.wg.Done()
	interval := s.opts.IdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close stops the sweeper and closes every session.
func (s *Sessions) Close() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.Close()
	}
	s.opts.Metrics.SetActiveSessions(0)
}
