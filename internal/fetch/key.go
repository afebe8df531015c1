// Package fetch issues list requests against a data provider and tracks
// their lifecycle. Coordinator serves paged lists and InfiniteCoordinator
// accumulates pages for infinite lists.
package fetch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/model"
)

// Key is the composite identity of a list request.
type Key struct {
	Resource string
	Filter   model.Filter
	Sort     model.SortSpec
	Page     int
	PerPage  int
}

// String returns a canonical encoding. Keys with structurally equal
// filters encode identically.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Resource)
	b.WriteByte('|')
	b.WriteString(k.Filter.Canonical())
	b.WriteByte('|')
	b.WriteString(k.Sort.Field)
	b.WriteByte(':')
	b.WriteString(string(k.Sort.Order))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(k.Page))
	b.WriteByte('/')
	b.WriteString(strconv.Itoa(k.PerPage))
	return b.String()
}

// lineage is the key without its page, shared by every page of an
// infinite list.
func (k Key) lineage() string {
	k.Page = 0
	return k.String()
}

// Params returns the provider parameters for the key.
func (k Key) Params() model.GetListParams {
	return model.GetListParams{
		Pagination: model.Pagination{Page: k.Page, PerPage: k.PerPage},
		Sort:       k.Sort,
		Filter:     k.Filter.Clone(),
	}
}

// Result is the observable state of a coordinator.
type Result struct {
	Key      Key
	Data     []model.Record
	Total    *int
	PageInfo *model.PageInfo
	Status   model.FetchStatus

	// IsPending is true until the first response is applied.
	IsPending bool
	// IsFetching is true while a request for the current key is outstanding.
	IsFetching bool
	Error      error

	HasNextPage            bool
	HasPreviousPage        bool
	IsFetchingNextPage     bool
	IsFetchingPreviousPage bool
}

// Options configures a coordinator.
type Options struct {
	Provider model.DataProvider
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// call performs one provider request inside a span and records its
// outcome.
func call(ctx context.Context, opts Options, key Key) (model.GetListResult, error) {
	ctx, span := observability.StartSpan(ctx, "fetch.GetList",
		observability.AttrResource.String(key.Resource),
		observability.AttrPage.Int(key.Page),
		observability.AttrPerPage.Int(key.PerPage),
		observability.AttrSortField.String(key.Sort.Field),
		observability.AttrSortOrder.String(string(key.Sort.Order)),
		observability.AttrFilter.String(key.Filter.Canonical()),
	)
	start := time.Now()
	res, err := opts.Provider.GetList(ctx, key.Resource, key.Params())
	opts.Metrics.RecordFetch(key.Resource, err, time.Since(start))
	if err != nil {
		err = model.NewFetchError(key.Resource, err)
	} else {
		span.SetAttributes(observability.AttrRecords.Int(len(res.Data)))
	}
	observability.EndSpanWithError(span, err)
	return res, err
}

// subscribers is a registry of change callbacks.
type subscribers struct {
	next  int
	funcs map[int]func(Result)
}

func (s *subscribers) add(fn func(Result)) int {
	if s.funcs == nil {
		s.funcs = make(map[int]func(Result))
	}
	s.next++
	s.funcs[s.next] = fn
	return s.next
}

func (s *subscribers) snapshot() []func(Result) {
	out := make([]func(Result), 0, len(s.funcs))
	for i := 1; i <= s.next; i++ {
		if fn, ok := s.funcs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(fns []func(Result), r Result) {
	for _, fn := range fns {
		fn(r)
	}
}
