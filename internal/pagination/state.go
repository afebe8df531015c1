// Package pagination holds the sort and page window of a paged list.
package pagination

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/internal/store"
	"github.com/pitabwire/listctl/model"
)

// DefaultPerPage is used when Options.PerPage is not positive.
const DefaultPerPage = 10

// Options configures a pagination State.
type Options struct {
	StoreKey    string
	Store       store.Store
	DisableSync bool

	Sort    model.SortSpec
	PerPage int

	// OnChange is called after every transition, outside the state lock.
	OnChange func(View)

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// View is the current sort and window.
type View struct {
	Sort    model.SortSpec `json:"sort"`
	Page    int            `json:"page"`
	PerPage int            `json:"perPage"`
	// Total is the last known total, nil when unknown.
	Total *int `json:"-"`
}

// LastPage returns the last page number for the known total, or 0 when
// the total is unknown.
func (v View) LastPage() int {
	if v.Total == nil {
		return 0
	}
	return lastPage(*v.Total, v.PerPage)
}

func lastPage(total, perPage int) int {
	if total <= 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}

// State is the sort and pagination store of one list. It is safe for
// concurrent use.
type State struct {
	ctx    context.Context
	opts   Options
	key    string
	logger *zap.Logger

	mu   sync.Mutex
	view View
}

// New creates a State, hydrating {sort, page, perPage} from the store when
// sync is enabled. Store failures are logged and ignored.
func New(ctx context.Context, opts Options) *State {
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}
	if opts.Sort.Order == "" && opts.Sort.Field != "" {
		opts.Sort.Order = model.SortASC
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &State{
		ctx:    ctx,
		opts:   opts,
		key:    store.ListParamsKey(opts.StoreKey) + ".view",
		logger: logger,
		view:   View{Sort: opts.Sort, Page: 1, PerPage: opts.PerPage},
	}
	s.hydrate()
	return s
}

func (s *State) syncEnabled() bool {
	return s.opts.Store != nil && !s.opts.DisableSync && s.opts.StoreKey != ""
}

func (s *State) hydrate() {
	if !s.syncEnabled() {
		return
	}
	var v View
	found, err := store.Load(s.ctx, s.opts.Store, s.key, &v)
	if err != nil {
		s.logger.Warn("list view unavailable, using defaults",
			zap.String("key", s.key), zap.Error(err))
		s.opts.Metrics.RecordPersistenceFailure("read")
		return
	}
	if !found {
		return
	}
	if v.Sort.Field != "" && (v.Sort.Order == model.SortASC || v.Sort.Order == model.SortDESC) {
		s.view.Sort = v.Sort
	}
	if v.Page >= 1 {
		s.view.Page = v.Page
	}
	if v.PerPage > 0 {
		s.view.PerPage = v.PerPage
	}
}

// View returns the current view.
func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// SetSort replaces the sort and returns to the first page.
func (s *State) SetSort(sort model.SortSpec) {
	if sort.Order == "" {
		sort.Order = model.SortASC
	}
	s.update(func(v *View) {
		v.Sort = sort
		v.Page = 1
	})
}

// ToggleSort sorts by field ascending, or flips the order when field is
// already the active sort.
func (s *State) ToggleSort(field string) {
	s.update(func(v *View) {
		if v.Sort.Field == field {
			v.Sort = v.Sort.Toggle()
		} else {
			v.Sort = model.SortSpec{Field: field, Order: model.SortASC}
		}
		v.Page = 1
	})
}

// SetPage moves to page n. Values below 1 clamp to 1.
func (s *State) SetPage(n int) {
	if n < 1 {
		n = 1
	}
	s.update(func(v *View) { v.Page = n })
}

// SetPerPage changes the page size. Non-positive sizes are ignored. When
// the total is known the current page is clamped to the new last page.
func (s *State) SetPerPage(n int) {
	if n <= 0 {
		return
	}
	s.update(func(v *View) {
		v.PerPage = n
		if v.Total != nil {
			if last := lastPage(*v.Total, n); v.Page > last {
				v.Page = last
			}
		}
	})
}

// ResetPage returns to the first page.
func (s *State) ResetPage() {
	s.update(func(v *View) { v.Page = 1 })
}

// SetTotal records the total reported by the provider and clamps the page
// when it now lies past the end. It fires OnChange only when the page
// moves.
func (s *State) SetTotal(total *int) {
	s.mu.Lock()
	if total == nil {
		s.view.Total = nil
		s.mu.Unlock()
		return
	}
	t := *total
	s.view.Total = &t
	last := lastPage(t, s.view.PerPage)
	if s.view.Page <= last {
		s.mu.Unlock()
		return
	}
	s.view.Page = last
	v := s.view
	s.mu.Unlock()
	s.changed(v)
}

func (s *State) update(mutate func(*View)) {
	s.mu.Lock()
	before := s.view
	mutate(&s.view)
	v := s.view
	s.mu.Unlock()

	if v.Sort == before.Sort && v.Page == before.Page && v.PerPage == before.PerPage {
		return
	}
	s.changed(v)
}

func (s *State) changed(v View) {
	s.persist(v)
	if s.opts.OnChange != nil {
		s.opts.OnChange(v)
	}
}

func (s *State) persist(v View) {
	if !s.syncEnabled() {
		return
	}
	if err := store.Save(s.ctx, s.opts.Store, s.key, v); err != nil {
		s.logger.Warn("list view not persisted", zap.String("key", s.key), zap.Error(err))
		s.opts.Metrics.RecordPersistenceFailure("write")
	}
}
