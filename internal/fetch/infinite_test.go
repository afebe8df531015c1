package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/listctl/model"
)

func newInfinite(t *testing.T, p model.DataProvider) (*InfiniteCoordinator, Options) {
	t.Helper()
	opts := Options{Provider: p, Metrics: newMetrics()}
	c := NewInfiniteCoordinator(context.Background(), opts)
	t.Cleanup(c.Close)
	return c, opts
}

func waitIdle(t *testing.T, c *InfiniteCoordinator) Result {
	t.Helper()
	require.Eventually(t, func() bool {
		r := c.Result()
		return !r.IsPending && !r.IsFetching
	}, time.Second, 5*time.Millisecond)
	return c.Result()
}

func TestInfinite_initialFetchLoadsStartPageOnly(t *testing.T) {
	p := newFakeProvider()
	c, _ := newInfinite(t, p)

	c.SetKey(postsKey(1))
	call := p.next(t)
	if call.params.Pagination.Page != 1 {
		t.Fatalf("page = %d, want 1", call.params.Pagination.Page)
	}
	call.succeed(model.GetListResult{Data: records(1, 2), Total: model.IntPtr(5)})
	p.assertNoCall(t)

	r := waitIdle(t, c)
	if !r.HasNextPage || r.HasPreviousPage {
		t.Errorf("hasNext=%v hasPrev=%v, want true false", r.HasNextPage, r.HasPreviousPage)
	}
	if r.Status != model.StatusSuccess {
		t.Errorf("status = %q", r.Status)
	}
}

func TestInfinite_fetchNextPageTwiceIssuesOneRequest(t *testing.T) {
	p := newFakeProvider()
	c, _ := newInfinite(t, p)

	c.SetKey(postsKey(1))
	p.next(t).succeed(model.GetListResult{Data: records(1, 2), Total: model.IntPtr(5)})
	waitIdle(t, c)

	c.FetchNextPage()
	c.FetchNextPage()
	next := p.next(t)
	p.assertNoCall(t)

	if r := c.Result(); !r.IsFetchingNextPage || r.IsFetchingPreviousPage {
		t.Errorf("fetching next=%v previous=%v", r.IsFetchingNextPage, r.IsFetchingPreviousPage)
	}
	if next.params.Pagination.Page != 2 {
		t.Errorf("page = %d, want 2", next.params.Pagination.Page)
	}

	next.succeed(model.GetListResult{Data: records(3, 4), Total: model.IntPtr(5)})
	r := waitIdle(t, c)
	if diff := cmp.Diff([]string{"1", "2", "3", "4"}, ids(r.Data)); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if !r.HasNextPage {
		t.Error("HasNextPage = false with 4 of 5 loaded")
	}
	if diff := cmp.Diff([]int{1, 2}, c.Pages()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestInfinite_duplicateIdentifiersAreDropped(t *testing.T) {
	p := newFakeProvider()
	c, opts := newInfinite(t, p)

	c.SetKey(postsKey(1))
	p.next(t).succeed(model.GetListResult{Data: records(1, 2), Total: model.IntPtr(6)})
	waitIdle(t, c)

	c.FetchNextPage()
	dup := model.Record{"id": float64(2), "title": "moved"}
	p.next(t).succeed(model.GetListResult{Data: []model.Record{dup, {"id": 3}}, Total: model.IntPtr(6)})
	r := waitIdle(t, c)

	if diff := cmp.Diff([]string{"1", "2", "3"}, ids(r.Data)); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if r.Data[1]["title"] != "Post 2" {
		t.Errorf("first occurrence not kept: %v", r.Data[1])
	}
	if got := testutil.ToFloat64(opts.Metrics.DuplicateRecordsDropped.WithLabelValues("posts")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestInfinite_hasNextPage(t *testing.T) {
	tests := []struct {
		name string
		res  model.GetListResult
		want bool
	}{
		{"page info wins over total", model.GetListResult{Data: records(1, 2), Total: model.IntPtr(10), PageInfo: &model.PageInfo{HasNextPage: false}}, false},
		{"total not reached", model.GetListResult{Data: records(1, 2), Total: model.IntPtr(3)}, true},
		{"total reached", model.GetListResult{Data: records(1, 2), Total: model.IntPtr(2)}, false},
		{"full page without total", model.GetListResult{Data: records(1, 2)}, true},
		{"short page without total", model.GetListResult{Data: records(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider()
			c, _ := newInfinite(t, p)
			c.SetKey(postsKey(1))
			p.next(t).succeed(tt.res)

			if got := waitIdle(t, c).HasNextPage; got != tt.want {
				t.Errorf("HasNextPage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInfinite_fetchNextPageWithoutNextIsNoop(t *testing.T) {
	p := newFakeProvider()
	c, _ := newInfinite(t, p)

	c.SetKey(postsKey(1))
	p.next(t).succeed(model.GetListResult{Data: records(1), Total: model.IntPtr(1)})
	waitIdle(t, c)

	c.FetchNextPage()
	p.assertNoCall(t)
}

func TestInfinite_fetchPreviousPagePrepends(t *testing.T) {
	p := newFakeProvider()
	c, _ := newInfinite(t, p)

	c.SetKey(postsKey(3))
	p.next(t).succeed(model.GetListResult{Data: records(5, 6), Total: model.IntPtr(6)})
	r := waitIdle(t, c)
	if !r.HasPreviousPage || r.HasNextPage {
		t.Fatalf("hasPrev=%v hasNext=%v, want true false", r.HasPreviousPage, r.HasNextPage)
	}

	c.FetchPreviousPage()
	c.FetchPreviousPage()
	prev := p.next(t)
	p.assertNoCall(t)
	if prev.params.Pagination.Page != 2 {
		t.Errorf("page = %d, want 2", prev.params.Pagination.Page)
	}
	prev.succeed(model.GetListResult{Data: records(3, 4), Total: model.IntPtr(6)})

	r = waitIdle(t, c)
	if diff := cmp.Diff([]string{"3", "4", "5", "6"}, ids(r.Data)); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if !r.HasPreviousPage {
		t.Error("HasPreviousPage = false at page 2")
	}
}

func TestInfinite_bothDirectionsInFlight(t *testing.T) {
	p := newFakeProvider()
	c, _ := newInfinite(t, p)

	c.SetKey(postsKey(2))
	p.next(t).succeed(model.GetListResult{Data: records(3, 4), Total: model.IntPtr(6)})
	waitIdle(t, c)

	c.FetchNextPage()
	c.FetchPreviousPage()
	a, b := p.next(t), p.next(t)

	r := c.Result()
	if !r.IsFetchingNextPage || !r.IsFetchingPreviousPage {
		t.Errorf("fetching next=%v previous=%v, want both", r.IsFetchingNextPage, r.IsFetchingPreviousPage)
	}
	for _, call := range []*pendingCall{a, b} {
		if call.params.Pagination.Page == 1 {
			call.succeed(model.GetListResult{Data: records(1, 2), Total: model.IntPtr(6)})
		} else {
			call.succeed(model.GetListResult{Data: records(5, 6), Total: model.IntPtr(6)})
		}
	}

	r = waitIdle(t, c)
	if diff := cmp.Diff([]string{"1", "2", "3", "4", "5", "6"}, ids(r.Data)); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestInfinite_keyChangeDropsOlderLineage(t *testing.T) {
	p := newFakeProvider()
	c, opts := newInfinite(t, p)

	c.SetKey(postsKey(1))
	p.next(t).succeed(model.GetListResult{Data: records(1, 2), Total: model.IntPtr(10)})
	waitIdle(t, c)

	c.FetchNextPage()
	stale := p.next(t)

	filtered := postsKey(1)
	filtered.Filter = model.Filter{"q": model.String("war")}
	c.SetKey(filtered)
	start := p.next(t)

	if r := c.Result(); r.IsFetchingNextPage || r.HasNextPage {
		t.Errorf("next page flags survived key change: %+v", r)
	}

	stale.succeed(model.GetListResult{Data: records(3, 4), Total: model.IntPtr(10)})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(opts.Metrics.FetchStaleResultsTotal.WithLabelValues("posts")) == 1
	}, time.Second, 5*time.Millisecond)

	start.succeed(model.GetListResult{Data: records(7), Total: model.IntPtr(1)})
	r := waitIdle(t, c)
	if diff := cmp.Diff([]string{"7"}, ids(r.Data)); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1}, c.Pages()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestInfinite_errorKeepsLoadedPages(t *testing.T) {
	p := newFakeProvider()
	c, _ := newInfinite(t, p)

	c.SetKey(postsKey(1))
	p.next(t).succeed(model.GetListResult{Data: records(1, 2), Total: model.IntPtr(4)})
	waitIdle(t, c)

	c.FetchNextPage()
	p.next(t).fail(errors.New("timeout"))
	r := waitIdle(t, c)

	if r.Status != model.StatusError || !model.IsCode(r.Error, model.ErrFetch) {
		t.Errorf("status=%q error=%v", r.Status, r.Error)
	}
	if diff := cmp.Diff([]string{"1", "2"}, ids(r.Data)); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if !r.HasNextPage {
		t.Error("HasNextPage cleared by a failed fetch")
	}
}

func TestInfinite_failedRefetchKeepsBoundaries(t *testing.T) {
	p := newFakeProvider()
	c, _ := newInfinite(t, p)

	c.SetKey(postsKey(1))
	p.next(t).succeed(model.GetListResult{Data: records(1, 2), Total: model.IntPtr(6)})
	waitIdle(t, c)

	c.Refetch()
	p.next(t).fail(errors.New("timeout"))
	r := waitIdle(t, c)

	if r.Status != model.StatusError || !model.IsCode(r.Error, model.ErrFetch) {
		t.Errorf("status=%q error=%v", r.Status, r.Error)
	}
	if diff := cmp.Diff([]string{"1", "2"}, ids(r.Data)); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if !r.HasNextPage {
		t.Fatal("HasNextPage cleared by a failed refetch")
	}

	c.FetchNextPage()
	if call := p.next(t); call.params.Pagination.Page != 2 {
		t.Errorf("next page = %d, want 2", call.params.Pagination.Page)
	}
}

func TestInfinite_refetchReplacesSequence(t *testing.T) {
	p := newFakeProvider()
	c, _ := newInfinite(t, p)

	c.SetKey(postsKey(1))
	p.next(t).succeed(model.GetListResult{Data: records(1, 2), Total: model.IntPtr(4)})
	waitIdle(t, c)
	c.FetchNextPage()
	p.next(t).succeed(model.GetListResult{Data: records(3, 4), Total: model.IntPtr(4)})
	waitIdle(t, c)

	c.Refetch()
	call := p.next(t)
	if call.params.Pagination.Page != 1 {
		t.Errorf("refetch page = %d, want 1", call.params.Pagination.Page)
	}
	call.succeed(model.GetListResult{Data: records(1, 9), Total: model.IntPtr(4)})

	r := waitIdle(t, c)
	if diff := cmp.Diff([]string{"1", "9"}, ids(r.Data)); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestInfinite_closeCancelsOutstandingFetches(t *testing.T) {
	p := newFakeProvider()
	c, _ := newInfinite(t, p)

	c.SetKey(postsKey(1))
	p.next(t).succeed(model.GetListResult{Data: records(1, 2), Total: model.IntPtr(4)})
	waitIdle(t, c)
	c.FetchNextPage()
	p.next(t)

	c.Close()
	c.FetchNextPage()
	p.assertNoCall(t)
}
