package fetch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/listctl/model"
)

// Coordinator fetches one page per key. Setting a new key issues exactly
// one request; identical in-flight keys share a single provider call.
// Results that arrive for a superseded key, or that are older than the
// last result applied for the current key, are dropped.
//
// Subscribers run on the goroutine that produced the change and must not
// call Close.
type Coordinator struct {
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
	seq      uint64
	applied  uint64
	inflight map[string]int
	received bool
	result   Result
	subs     subscribers
	closed   bool
}

// NewCoordinator creates a Coordinator. Requests run under a context
// derived from ctx and cancelled by Close.
func NewCoordinator(ctx context.Context, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(ctx)
	return &Coordinator{
		opts:     opts,
		logger:   opts.logger(),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]int),
		result:   Result{Status: model.StatusIdle, IsPending: true},
	}
}

// Result returns the current state.
func (c *Coordinator) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Result {
	r := c.result
	if r.Data != nil {
		r.Data = append([]model.Record(nil), r.Data...)
	}
	r.IsFetching = c.hasKey && c.inflight[c.keyStr] > 0
	return r
}

// Subscribe registers fn to be called after every state change. It
// returns a function that removes the subscription.
func (c *Coordinator) Subscribe(fn func(Result)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.subs.add(fn)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs.funcs, id)
		c.mu.Unlock()
	}
}

// SetKey makes key current. Setting the current key again is a no-op.
func (c *Coordinator) SetKey(key Key) {
	ks := key.String()
	c.mu.Lock()
	if c.closed || (c.hasKey && ks == c.keyStr) {
		c.mu.Unlock()
		return
	}
	c.key, c.keyStr, c.hasKey = key, ks, true
	c.applied = 0
	c.result.Key = key
	c.startLocked(false)
	c.publishLocked()
}

// Refetch re-requests the current key without joining an in-flight call.
func (c *Coordinator) Refetch() {
	c.mu.Lock()
	if c.closed || !c.hasKey {
		c.mu.Unlock()
		return
	}
	c.startLocked(true)
	c.publishLocked()
}

// Close cancels outstanding requests and waits for them to return. No
// result is applied and no subscriber is called afterwards.
func (c *Coordinator) Close() {
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

func (c *Coordinator) startLocked(force bool) {
	c.seq++
	seq := c.seq
	key, ks := c.key, c.keyStr

	if c.received {
		c.result.Status = model.StatusRefreshing
	} else {
		c.result.Status = model.StatusLoading
	}
	if c.inflight[ks] > 0 && !force {
		c.opts.Metrics.RecordDeduplicated(key.Resource)
		c.logger.Debug("joining in-flight fetch", zap.String("key", ks))
	}
	c.inflight[ks]++

	c.wg.Add(1)
	go c.run(key, ks, seq, force)
}

func (c *Coordinator) run(key Key, ks string, seq uint64, force bool) {
	defer c.wg.Done()

	if force {
		c.group.Forget(ks)
	}
	v, err, _ := c.group.Do(ks, func() (any, error) {
		return call(c.ctx, c.opts, key)
	})
	res, _ := v.(model.GetListResult)
	c.apply(ks, seq, res, err)
}

func (c *Coordinator) apply(ks string, seq uint64, res model.GetListResult, err error) {
	c.mu.Lock()
	if c.inflight[ks]--; c.inflight[ks] <= 0 {
		delete(c.inflight, ks)
	}
	if c.closed {
		c.mu.Unlock()
		return
	}

	if ks != c.keyStr || seq < c.applied {
		c.opts.Metrics.RecordStaleResult(c.key.Resource)
		c.logger.Debug("dropping stale fetch result", zap.String("key", ks), zap.Uint64("seq", seq))
		if ks == c.keyStr {
			c.publishLocked()
			return
		}
		c.mu.Unlock()
		return
	}
	c.applied = seq
	c.received = true
	c.result.IsPending = false

	if err != nil {
		c.logger.Warn("fetch failed, keeping previous data", zap.String("key", ks), zap.Error(err))
		c.result.Status = model.StatusError
		c.result.Error = err
	} else {
		c.result.Status = model.StatusSuccess
		c.result.Error = nil
		c.result.Data = res.Data
		if c.result.Data == nil {
			c.result.Data = []model.Record{}
		}
		c.result.Total = res.Total
		c.result.PageInfo = res.PageInfo
	}
	if c.inflight[ks] > 0 && c.result.Status == model.StatusSuccess {
		c.result.Status = model.StatusRefreshing
	}
	c.publishLocked()
}

// publishLocked releases c.mu and notifies subscribers.
func (c *Coordinator) publishLocked() {
	r := c.snapshotLocked()
	fns := c.subs.snapshot()
	c.mu.Unlock()
	notify(fns, r)
}
