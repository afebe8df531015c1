// Package filter holds the filter state of a list: the active filter
// values, which filter inputs are displayed, debounced commits, and
// persistence of both to a key-value store.
package filter

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/internal/store"
	"github.com/pitabwire/listctl/model"
)

// DefaultDebounce is the coalescing window applied when Options.Debounce
// is zero.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a filter State.
type Options struct {
	Resource string
	// StoreKey names the persisted entry. Defaults to Resource.
	StoreKey    string
	Store       store.Store
	DisableSync bool

	DefaultValues model.Filter
	// AlwaysOn keys are always displayed and cannot be hidden.
	AlwaysOn []string
	Debounce time.Duration

	// OnCommit is called after every committed change, outside the state
	// lock. Calls from a debounced commit run on a timer goroutine.
	OnCommit func(Snapshot)

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Snapshot is an immutable view of the filter state.
type Snapshot struct {
	Values    model.Filter
	Displayed []string
}

// persisted is the document stored under <storeKey>.listParams.filter.
type persisted struct {
	Filter           model.Filter    `json:"filter"`
	DisplayedFilters map[string]bool `json:"displayedFilters"`
}

// State is the filter store of one list. It is safe for concurrent use.
type State struct {
	ctx       context.Context
	opts      Options
	key       string
	alwaysOn  map[string]bool
	debouncer *Debouncer
	logger    *zap.Logger

	mu        sync.Mutex
	values    model.Filter
	displayed map[string]bool
	closed    bool
}

// New creates a filter State, hydrating it from the store when sync is
// enabled. Store failures are logged and fall back to the default values.
// ctx bounds persistence calls for the lifetime of the State.
func New(ctx context.Context, opts Options) *State {
	if opts.StoreKey == "" {
		opts.StoreKey = opts.Resource
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &State{
		ctx:       ctx,
		opts:      opts,
		key:       store.ListParamsKey(opts.StoreKey) + ".filter",
		alwaysOn:  make(map[string]bool, len(opts.AlwaysOn)),
		debouncer: NewDebouncer(opts.Debounce),
		logger:    logger,
	}
	for _, k := range opts.AlwaysOn {
		s.alwaysOn[k] = true
	}

	s.values = removeEmpty(opts.DefaultValues)
	s.displayed = make(map[string]bool)
	for _, k := range s.values.Keys() {
		s.displayed[k] = true
	}
	s.hydrate()
	for k := range s.alwaysOn {
		s.displayed[k] = true
	}
	return s
}

func (s *State) syncEnabled() bool {
	return s.opts.Store != nil && !s.opts.DisableSync
}

func (s *State) hydrate() {
	if !s.syncEnabled() {
		return
	}
	var doc persisted
	found, err := store.Load(s.ctx, s.opts.Store, s.key, &doc)
	if err != nil {
		s.logger.Warn("filter state unavailable, using defaults",
			zap.String("key", s.key), zap.Error(err))
		s.opts.Metrics.RecordPersistenceFailure("read")
		return
	}
	if !found {
		return
	}
	s.values = removeEmpty(doc.Filter)
	s.displayed = make(map[string]bool, len(doc.DisplayedFilters))
	for k, on := range doc.DisplayedFilters {
		if on {
			s.displayed[k] = true
		}
	}
}

// Values returns the committed filter values.
func (s *State) Values() model.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Clone()
}

// Snapshot returns the committed values and displayed keys.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	displayed := make([]string, 0, len(s.displayed))
	for k := range s.displayed {
		displayed = append(displayed, k)
	}
	sort.Strings(displayed)
	return Snapshot{Values: s.values.Clone(), Displayed: displayed}
}

// SetFilters replaces the filter values and the displayed keys. With
// debounce, calls inside the window coalesce and the last one is
// committed when the window ends. Without it, any pending debounced call
// is dropped and the change is committed before SetFilters returns.
func (s *State) SetFilters(values model.Filter, displayedKeys []string, debounce bool) {
	values = removeEmpty(values)
	displayed := make(map[string]bool, len(displayedKeys)+len(s.alwaysOn))
	for _, k := range displayedKeys {
		displayed[k] = true
	}
	replace := func(model.Filter, map[string]bool) (model.Filter, map[string]bool) {
		return values, displayed
	}

	if debounce {
		s.debouncer.Schedule(func() { s.apply("debounced", replace) })
		return
	}
	s.debouncer.Cancel()
	s.apply("immediate", replace)
}

// HideFilter removes the value and the displayed flag of key. Keys marked
// always-on are left untouched.
func (s *State) HideFilter(key string) {
	if s.alwaysOn[key] {
		return
	}
	s.apply("immediate", func(values model.Filter, displayed map[string]bool) (model.Filter, map[string]bool) {
		next := copySet(displayed)
		delete(next, key)
		return values.Delete(key), next
	})
}

// ShowFilter marks key as displayed. When the key has no value and
// defaultValue is defined, the default is applied.
func (s *State) ShowFilter(key string, defaultValue model.FilterValue) {
	s.apply("immediate", func(values model.Filter, displayed map[string]bool) (model.Filter, map[string]bool) {
		next := copySet(displayed)
		next[key] = true
		if !values.Has(key) && !defaultValue.IsUndefined() {
			values = values.Set(key, defaultValue)
		}
		return values, next
	})
}

// Flush commits a pending debounced change now.
func (s *State) Flush() bool {
	return s.debouncer.Flush()
}

// Close drops any pending debounced change. No commit happens afterwards.
func (s *State) Close() {
	s.debouncer.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *State) apply(mode string, mutate func(model.Filter, map[string]bool) (model.Filter, map[string]bool)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	values, displayed := mutate(s.values.Clone(), s.displayed)
	for k := range s.alwaysOn {
		displayed[k] = true
	}
	if values.Equal(s.values) && sameSet(displayed, s.displayed) {
		s.mu.Unlock()
		return
	}
	s.values = values
	s.displayed = displayed
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snap)
	s.opts.Metrics.RecordFilterCommit(s.opts.Resource, mode)
	s.logger.Debug("filter committed",
		zap.String("mode", mode),
		zap.String("filter", snap.Values.Canonical()))

	if s.opts.OnCommit != nil {
		s.opts.OnCommit(snap)
	}
}

func (s *State) persist(snap Snapshot) {
	if !s.syncEnabled() {
		return
	}
	doc := persisted{
		Filter:           snap.Values,
		DisplayedFilters: make(map[string]bool, len(snap.Displayed)),
	}
	for _, k := range snap.Displayed {
		doc.DisplayedFilters[k] = true
	}
	if err := store.Save(s.ctx, s.opts.Store, s.key, doc); err != nil {
		s.logger.Warn("filter state not persisted", zap.String("key", s.key), zap.Error(err))
		s.opts.Metrics.RecordPersistenceFailure("write")
	}
}

// removeEmpty drops empty strings, nulls, undefined values and nested
// mappings left empty.
func removeEmpty(f model.Filter) model.Filter {
	out := make(model.Filter, len(f))
	for k, v := range f {
		if cleaned, ok := cleanValue(v); ok {
			out[k] = cleaned
		}
	}
	return out
}

func cleanValue(v model.FilterValue) (model.FilterValue, bool) {
	switch v.Kind() {
	case model.KindUndefined, model.KindNull:
		return v, false
	case model.KindString:
		s, _ := v.Str()
		return v, s != ""
	case model.KindMap:
		nested := removeEmpty(v.Fields())
		if len(nested) == 0 {
			return v, false
		}
		return model.Map(nested), true
	default:
		return v, true
	}
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
