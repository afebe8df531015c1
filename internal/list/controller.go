package list

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/fetch"
	"github.com/pitabwire/listctl/internal/filter"
	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/internal/pagination"
	"github.com/pitabwire/listctl/model"
)

// fetcher is the part of a fetch coordinator a controller drives.
type fetcher interface {
	Result() fetch.Result
	Subscribe(fn func(fetch.Result)) (unsubscribe func())
	SetKey(key fetch.Key)
	Refetch()
	Close()
}

// Controller is a paged list controller. Every operation is safe for
// concurrent use. State changes apply before the operation returns; the
// fetch they trigger runs in the background and subscribers are notified
// as it progresses.
type Controller struct {
	opts     Options
	logger   *zap.Logger
	filters  *filter.State
	view     *pagination.State
	fetcher  fetcher
	infinite bool
	actions  Actions
	saved    *filter.SavedQueries

	// suspended defers fetches while several parameters change together.
	suspended atomic.Int32

	mu          sync.Mutex
	subs        map[int]func(ListContext)
	nextSub     int
	unsubscribe func()
	closed      bool
}

// New creates a paged list controller and issues the fetch for its
// initial parameters. It returns a CONFIGURATION_ERROR when the resource
// or the data provider is missing.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	c := newController(ctx, opts, false)
	c.fetcher = fetch.NewCoordinator(ctx, c.fetchOptions())
	c.actions = c
	c.start()
	return c, nil
}

func newController(ctx context.Context, opts Options, infinite bool) *Controller {
	c := &Controller{
		opts:     opts,
		logger:   observability.ListLogger(opts.Logger, opts.Resource, opts.StoreKey, opts.ID),
		infinite: infinite,
		subs:     make(map[int]func(ListContext)),
	}
	c.filters = filter.New(ctx, filter.Options{
		Resource:      opts.Resource,
		StoreKey:      opts.StoreKey,
		Store:         opts.Store,
		DisableSync:   opts.DisableSyncWithStore,
		DefaultValues: opts.FilterDefaultValues,
		AlwaysOn:      opts.AlwaysOn,
		Debounce:      opts.Debounce,
		OnCommit:      c.onFilterCommit,
		Logger:        c.logger,
		Metrics:       opts.Metrics,
	})
	c.view = pagination.New(ctx, pagination.Options{
		StoreKey:    opts.StoreKey,
		Store:       opts.Store,
		DisableSync: opts.DisableSyncWithStore,
		Sort:        opts.Sort,
		PerPage:     opts.PerPage,
		OnChange:    c.onViewChange,
		Logger:      c.logger,
		Metrics:     opts.Metrics,
	})
	if opts.Store != nil {
		c.saved = filter.NewSavedQueries(opts.Store, opts.Resource)
	}
	return c
}

func (c *Controller) fetchOptions() fetch.Options {
	return fetch.Options{Provider: c.opts.Provider, Logger: c.logger, Metrics: c.opts.Metrics}
}

func (c *Controller) start() {
	c.unsubscribe = c.fetcher.Subscribe(c.onResult)
	c.refresh()
}

// Resource returns the resource name.
func (c *Controller) Resource() string { return c.opts.Resource }

// ID returns the controller instance identifier.
func (c *Controller) ID() string { return c.opts.ID }

// Context returns the current snapshot.
func (c *Controller) Context() ListContext {
	snap := c.filters.Snapshot()
	view := c.view.View()
	res := c.fetcher.Result()

	lc := ListContext{
		Resource:               c.opts.Resource,
		Data:                   res.Data,
		Total:                  res.Total,
		PageInfo:               res.PageInfo,
		Status:                 res.Status,
		Error:                  res.Error,
		IsPending:              res.IsPending,
		IsFetching:             res.IsFetching,
		Page:                   view.Page,
		PerPage:                view.PerPage,
		Sort:                   view.Sort,
		FilterValues:           snap.Values,
		DisplayedFilters:       snap.Displayed,
		Infinite:               c.infinite,
		HasNextPage:            res.HasNextPage,
		HasPreviousPage:        res.HasPreviousPage,
		IsFetchingNextPage:     res.IsFetchingNextPage,
		IsFetchingPreviousPage: res.IsFetchingPreviousPage,
		Actions:                c.actions,
	}
	if res.Total != nil && view.PerPage > 0 {
		lc.PageCount = (*res.Total + view.PerPage - 1) / view.PerPage
	}
	if !c.infinite {
		switch {
		case res.PageInfo != nil:
			lc.HasNextPage = res.PageInfo.HasNextPage
			lc.HasPreviousPage = res.PageInfo.HasPreviousPage
		default:
			lc.HasNextPage = res.Total != nil && view.Page*view.PerPage < *res.Total
			lc.HasPreviousPage = view.Page > 1
		}
	}
	return lc
}

// Subscribe registers fn to receive a fresh snapshot after every change.
// fn may run on a background goroutine and must not call Close. After
// Close, fn is never called.
func (c *Controller) Subscribe(fn func(ListContext)) (unsubscribe func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// SetFilters replaces the user filter. See filter.State.SetFilters.
func (c *Controller) SetFilters(values model.Filter, displayedKeys []string, debounce bool) {
	c.filters.SetFilters(values, displayedKeys, debounce)
}

// ShowFilter displays the input of key, seeding defaultValue when unset.
func (c *Controller) ShowFilter(key string, defaultValue model.FilterValue) {
	c.filters.ShowFilter(key, defaultValue)
}

// HideFilter removes the value and the input of key.
func (c *Controller) HideFilter(key string) { c.filters.HideFilter(key) }

// FlushFilters commits a pending debounced filter change now.
func (c *Controller) FlushFilters() bool { return c.filters.Flush() }

// SetSort replaces the sort and returns to the first page.
func (c *Controller) SetSort(sort model.SortSpec) { c.view.SetSort(sort) }

// ToggleSort sorts by field ascending or flips its order.
func (c *Controller) ToggleSort(field string) { c.view.ToggleSort(field) }

// SetPage moves to page.
func (c *Controller) SetPage(page int) { c.view.SetPage(page) }

// SetPerPage changes the page size.
func (c *Controller) SetPerPage(perPage int) { c.view.SetPerPage(perPage) }

// Refetch re-requests the current parameters, bypassing deduplication.
func (c *Controller) Refetch() {
	if c.isClosed() {
		return
	}
	c.fetcher.Refetch()
}

// SavedQueries returns the saved queries of the resource, or nil when
// the controller has no store.
func (c *Controller) SavedQueries() *filter.SavedQueries { return c.saved }

// SaveQuery stores the current filter, sort and page size under label.
func (c *Controller) SaveQuery(ctx context.Context, label string) error {
	if c.saved == nil {
		return model.NewConfigurationError("list: saved queries need a store")
	}
	snap := c.filters.Snapshot()
	view := c.view.View()
	return c.saved.Save(ctx, filter.SavedQuery{
		Label:            label,
		Filter:           snap.Values,
		Sort:             view.Sort,
		PerPage:          view.PerPage,
		DisplayedFilters: snap.Displayed,
	})
}

// ApplySavedQuery restores the saved query named label. The resulting
// parameters are fetched once.
func (c *Controller) ApplySavedQuery(ctx context.Context, label string) error {
	if c.saved == nil {
		return model.NewConfigurationError("list: saved queries need a store")
	}
	q, ok, err := c.saved.Find(ctx, label)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("saved query %q not found", label))
	}

	c.suspended.Add(1)
	c.filters.SetFilters(q.Filter, q.DisplayedFilters, false)
	if q.Sort.Field != "" {
		c.view.SetSort(q.Sort)
	}
	c.view.SetPerPage(q.PerPage)
	c.view.ResetPage()
	c.suspended.Add(-1)

	c.refresh()
	c.notify()
	return nil
}

// Close stops the controller. Pending debounced filter changes are
// dropped, outstanding requests are cancelled and no subscriber is called
// afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.subs = nil
	unsubscribe := c.unsubscribe
	c.mu.Unlock()

	c.filters.Close()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.fetcher.Close()
	c.logger.Debug("list controller closed")
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// key is the composite request key of the current parameters.
func (c *Controller) key() fetch.Key {
	view := c.view.View()
	return fetch.Key{
		Resource: c.opts.Resource,
		Filter:   c.filters.Values().Merge(c.opts.Filter),
		Sort:     view.Sort,
		Page:     view.Page,
		PerPage:  view.PerPage,
	}
}

func (c *Controller) refresh() {
	if c.suspended.Load() > 0 || c.isClosed() {
		return
	}
	c.fetcher.SetKey(c.key())
}

func (c *Controller) onFilterCommit(filter.Snapshot) {
	c.view.ResetPage()
	c.refresh()
	c.notify()
}

func (c *Controller) onViewChange(pagination.View) {
	c.refresh()
	c.notify()
}

// onResult may see snapshots out of order, so the total is read from the
// coordinator's current result rather than from res.
func (c *Controller) onResult(res fetch.Result) {
	if !c.infinite {
		if cur := c.fetcher.Result(); cur.Status == model.StatusSuccess {
			c.view.SetTotal(cur.Total)
		}
	}
	if res.Error != nil && res.Status == model.StatusError {
		c.logger.Warn("list fetch failed", zap.Error(res.Error))
	}
	c.notify()
}

func (c *Controller) notify() {
	if c.suspended.Load() > 0 {
		return
	}
	c.mu.Lock()
	if c.closed || len(c.subs) == 0 {
		c.mu.Unlock()
		return
	}
	fns := make([]func(ListContext), 0, len(c.subs))
	for id := 1; id <= c.nextSub; id++ {
		if fn, ok := c.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()

	lc := c.Context()
	for _, fn := range fns {
		fn(lc)
	}
}

// InfiniteController accumulates pages of one list into a single
// sequence. The page of its parameters is the start page.
type InfiniteController struct {
	*Controller
	pages *fetch.InfiniteCoordinator
}

// NewInfinite creates an infinite list controller and fetches its start
// page. It returns a CONFIGURATION_ERROR when the resource or the data
// provider is missing.
func NewInfinite(ctx context.Context, opts Options) (*InfiniteController, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	c := newController(ctx, opts, true)
	pages := fetch.NewInfiniteCoordinator(ctx, c.fetchOptions())
	c.fetcher = pages
	ic := &InfiniteController{Controller: c, pages: pages}
	c.actions = ic
	c.start()
	return ic, nil
}

// FetchNextPage appends the next page. It is a no-op while there is no
// next page or one is already being fetched.
func (c *InfiniteController) FetchNextPage() { c.pages.FetchNextPage() }

// FetchPreviousPage prepends the previous page. It is a no-op while there
// is no previous page or one is already being fetched.
func (c *InfiniteController) FetchPreviousPage() { c.pages.FetchPreviousPage() }

// Pages returns the loaded page numbers in order.
func (c *InfiniteController) Pages() []int { return c.pages.Pages() }
