package fetch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/listctl/model"
)

type direction int

const (
	dirStart direction = iota
	dirNext
	dirPrevious
)

func (d direction) String() string {
	switch d {
	case dirNext:
		return "next"
	case dirPrevious:
		return "previous"
	default:
		return "start"
	}
}

// page is one fetched page of an infinite list.
type page struct {
	number   int
	records  []model.Record
	fetched  int
	pageInfo *model.PageInfo
}

// InfiniteCoordinator accumulates consecutive pages of one key into a
// single sequence without duplicate identifiers. The page of the key is
// the start page; FetchNextPage and FetchPreviousPage extend the sequence
// in either direction.
//
// A key change starts a new lineage: the sequence is replaced when the
// start page of the new lineage arrives, and page fetches issued under an
// older lineage are dropped.
type InfiniteCoordinator struct {
	opts   Options
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group
	wg     sync.WaitGroup

	mu       sync.Mutex
	key      Key
	keyStr   string
	hasKey   bool
	lineage  uint64
	seq      uint64
	applied  uint64
	starting int
	received bool

	pages        []page
	pagesKey     string
	seen         map[string]struct{}
	total        *int
	hasNext      bool
	hasPrev      bool
	fetchingNext bool
	fetchingPrev bool
	status       model.FetchStatus
	err          error

	subs   subscribers
	closed bool
}

// NewInfiniteCoordinator creates an InfiniteCoordinator. Requests run
// under a context derived from ctx and cancelled by Close.
func NewInfiniteCoordinator(ctx context.Context, opts Options) *InfiniteCoordinator {
	ctx, cancel := context.WithCancel(ctx)
	return &InfiniteCoordinator{
		opts:   opts,
		logger: opts.logger(),
		ctx:    ctx,
		cancel: cancel,
		seen:   make(map[string]struct{}),
		status: model.StatusIdle,
	}
}

// Result returns the current state. Data is the concatenation of every
// loaded page.
func (c *InfiniteCoordinator) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *InfiniteCoordinator) snapshotLocked() Result {
	r := Result{
		Key:                    c.key,
		Total:                  c.total,
		Status:                 c.status,
		IsPending:              !c.received,
		IsFetching:             c.starting > 0 || c.fetchingNext || c.fetchingPrev,
		Error:                  c.err,
		HasNextPage:            c.hasNext,
		HasPreviousPage:        c.hasPrev,
		IsFetchingNextPage:     c.fetchingNext,
		IsFetchingPreviousPage: c.fetchingPrev,
	}
	if c.received {
		n := 0
		for _, p := range c.pages {
			n += len(p.records)
		}
		r.Data = make([]model.Record, 0, n)
		for _, p := range c.pages {
			r.Data = append(r.Data, p.records...)
		}
	}
	if len(c.pages) > 0 {
		first, last := c.pages[0], c.pages[len(c.pages)-1]
		if first.pageInfo != nil || last.pageInfo != nil {
			r.PageInfo = &model.PageInfo{HasNextPage: c.hasNext, HasPreviousPage: c.hasPrev}
		}
	}
	return r
}

// Pages returns the page numbers currently loaded, in order.
func (c *InfiniteCoordinator) Pages() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.pages))
	for i, p := range c.pages {
		out[i] = p.number
	}
	return out
}

// Subscribe registers fn to be called after every state change.
func (c *InfiniteCoordinator) Subscribe(fn func(Result)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.subs.add(fn)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs.funcs, id)
		c.mu.Unlock()
	}
}

// SetKey makes key current and fetches its start page. Setting the
// current key again is a no-op.
func (c *InfiniteCoordinator) SetKey(key Key) {
	if key.Page < 1 {
		key.Page = 1
	}
	ks := key.String()
	c.mu.Lock()
	if c.closed || (c.hasKey && ks == c.keyStr) {
		c.mu.Unlock()
		return
	}
	c.key, c.keyStr, c.hasKey = key, ks, true
	c.newLineageLocked()
	c.startLocked(false)
	c.publishLocked()
}

// Refetch reloads the start page. On success it replaces the whole
// sequence.
func (c *InfiniteCoordinator) Refetch() {
	c.mu.Lock()
	if c.closed || !c.hasKey {
		c.mu.Unlock()
		return
	}
	c.newLineageLocked()
	c.startLocked(true)
	c.publishLocked()
}

// FetchNextPage appends the page after the last loaded one. It is a no-op
// while there is no next page or a next page fetch is outstanding.
func (c *InfiniteCoordinator) FetchNextPage() {
	c.mu.Lock()
	if c.closed || !c.hasKey || !c.hasNext || c.fetchingNext || len(c.pages) == 0 {
		c.mu.Unlock()
		return
	}
	c.fetchingNext = true
	key := c.key
	key.Page = c.pages[len(c.pages)-1].number + 1
	c.wg.Add(1)
	go c.runPage(dirNext, key, c.lineage)
	c.publishLocked()
}

// FetchPreviousPage prepends the page before the first loaded one. It is
// a no-op while there is no previous page or a previous page fetch is
// outstanding.
func (c *InfiniteCoordinator) FetchPreviousPage() {
	c.mu.Lock()
	if c.closed || !c.hasKey || !c.hasPrev || c.fetchingPrev || len(c.pages) == 0 {
		c.mu.Unlock()
		return
	}
	key := c.key
	key.Page = c.pages[0].number - 1
	if key.Page < 1 {
		c.mu.Unlock()
		return
	}
	c.fetchingPrev = true
	c.wg.Add(1)
	go c.runPage(dirPrevious, key, c.lineage)
	c.publishLocked()
}

// Close cancels outstanding requests and waits for them to return.
func (c *InfiniteCoordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.subs.funcs = nil
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// newLineageLocked invalidates every outstanding page fetch. Loaded pages
// stay visible until the new start page arrives.
func (c *InfiniteCoordinator) newLineageLocked() {
	c.lineage++
	c.seq = 0
	c.applied = 0
	c.hasNext = false
	c.hasPrev = false
	c.fetchingNext = false
	c.fetchingPrev = false
}

func (c *InfiniteCoordinator) startLocked(force bool) {
	c.seq++
	c.starting++
	if c.received {
		c.status = model.StatusRefreshing
	} else {
		c.status = model.StatusLoading
	}
	c.wg.Add(1)
	go c.runStart(c.key, c.keyStr, c.lineage, c.seq, force)
}

func (c *InfiniteCoordinator) runStart(key Key, ks string, lineage, seq uint64, force bool) {
	defer c.wg.Done()

	if force {
		c.group.Forget(ks)
	}
	v, err, _ := c.group.Do(ks, func() (any, error) {
		return call(c.ctx, c.opts, key)
	})
	res, _ := v.(model.GetListResult)

	c.mu.Lock()
	c.starting--
	if c.closed {
		c.mu.Unlock()
		return
	}
	if lineage != c.lineage || seq < c.applied {
		c.dropStaleLocked(dirStart, key)
		return
	}
	c.applied = seq
	c.received = true
	if err != nil {
		// Pages still loaded for this key keep their boundaries.
		if len(c.pages) > 0 && c.pagesKey == ks {
			c.recomputeLocked()
		}
		c.failLocked(dirStart, err)
		return
	}

	c.seen = make(map[string]struct{})
	records := c.dedupLocked(key.Resource, res.Data)
	c.pages = []page{{number: key.Page, records: records, fetched: len(res.Data), pageInfo: res.PageInfo}}
	c.pagesKey = ks
	c.total = res.Total
	c.recomputeLocked()
	c.status = model.StatusSuccess
	c.err = nil
	c.publishLocked()
}

func (c *InfiniteCoordinator) runPage(dir direction, key Key, lineage uint64) {
	defer c.wg.Done()

	res, err := call(c.ctx, c.opts, key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if lineage != c.lineage {
		c.dropStaleLocked(dir, key)
		return
	}
	if dir == dirNext {
		c.fetchingNext = false
	} else {
		c.fetchingPrev = false
	}
	if err != nil {
		c.failLocked(dir, err)
		return
	}

	records := c.dedupLocked(key.Resource, res.Data)
	p := page{number: key.Page, records: records, fetched: len(res.Data), pageInfo: res.PageInfo}
	if dir == dirNext {
		c.pages = append(c.pages, p)
	} else {
		c.pages = append([]page{p}, c.pages...)
	}
	if res.Total != nil {
		c.total = res.Total
	}
	c.recomputeLocked()
	c.status = model.StatusSuccess
	c.err = nil
	c.publishLocked()
}

// dedupLocked drops records whose identifier is already loaded. The first
// occurrence wins.
func (c *InfiniteCoordinator) dedupLocked(resource string, data []model.Record) []model.Record {
	out := make([]model.Record, 0, len(data))
	dropped := 0
	for _, rec := range data {
		id, ok := rec.ID()
		if ok {
			if _, dup := c.seen[id.Key()]; dup {
				dropped++
				continue
			}
			c.seen[id.Key()] = struct{}{}
		}
		out = append(out, rec)
	}
	if dropped > 0 {
		c.opts.Metrics.RecordDuplicateRecords(resource, dropped)
		c.logger.Debug("dropped duplicate records", zap.Int("count", dropped))
	}
	return out
}

// recomputeLocked derives the boundary flags from the loaded pages.
func (c *InfiniteCoordinator) recomputeLocked() {
	first, last := c.pages[0], c.pages[len(c.pages)-1]
	perPage := c.key.PerPage

	switch {
	case last.pageInfo != nil:
		c.hasNext = last.pageInfo.HasNextPage
	case c.total != nil:
		c.hasNext = last.number*perPage < *c.total
	default:
		c.hasNext = perPage > 0 && last.fetched >= perPage
	}

	if first.pageInfo != nil {
		c.hasPrev = first.pageInfo.HasPreviousPage && first.number > 1
	} else {
		c.hasPrev = first.number > 1
	}
}

func (c *InfiniteCoordinator) failLocked(dir direction, err error) {
	c.logger.Warn("page fetch failed, keeping loaded pages",
		zap.String("direction", dir.String()), zap.Error(err))
	c.status = model.StatusError
	c.err = err
	c.publishLocked()
}

func (c *InfiniteCoordinator) dropStaleLocked(dir direction, key Key) {
	c.opts.Metrics.RecordStaleResult(key.Resource)
	c.logger.Debug("dropping page from previous lineage",
		zap.String("direction", dir.String()), zap.Int("page", key.Page))
	c.publishLocked()
}

// publishLocked releases c.mu and notifies subscribers.
func (c *InfiniteCoordinator) publishLocked() {
	r := c.snapshotLocked()
	fns := c.subs.snapshot()
	c.mu.Unlock()
	notify(fns, r)
}
