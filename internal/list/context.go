package list

import (
	"iter"

	"github.com/pitabwire/listctl/model"
)

// Actions is the write side of a list controller.
type Actions interface {
	SetFilters(values model.Filter, displayedKeys []string, debounce bool)
	ShowFilter(key string, defaultValue model.FilterValue)
	HideFilter(key string)
	SetSort(sort model.SortSpec)
	ToggleSort(field string)
	SetPage(page int)
	SetPerPage(perPage int)
	Refetch()
}

// InfiniteActions extends Actions with cursor navigation.
type InfiniteActions interface {
	Actions
	FetchNextPage()
	FetchPreviousPage()
}

// ListContext is an immutable snapshot of a list controller. Callers must
// not modify Data or FilterValues.
type ListContext struct {
	Resource string
	Data     []model.Record
	Total    *int
	PageInfo *model.PageInfo
	Status   model.FetchStatus
	Error    error

	IsPending  bool
	IsFetching bool

	Page    int
	PerPage int
	// PageCount is 0 while the total is unknown.
	PageCount        int
	Sort             model.SortSpec
	FilterValues     model.Filter
	DisplayedFilters []string

	Infinite               bool
	HasNextPage            bool
	HasPreviousPage        bool
	IsFetchingNextPage     bool
	IsFetchingPreviousPage bool

	Actions Actions
}

// InfiniteActions returns the cursor operations of an infinite controller.
func (c ListContext) InfiniteActions() (InfiniteActions, bool) {
	a, ok := c.Actions.(InfiniteActions)
	return a, ok
}

// IsEmpty reports whether a resolved list has no records.
func (c ListContext) IsEmpty() bool {
	return !c.IsPending && len(c.Data) == 0
}

// Records iterates the current records in order. The sequence can be
// ranged over any number of times.
func (c ListContext) Records() iter.Seq2[int, model.Record] {
	data := c.Data
	return func(yield func(int, model.Record) bool) {
		for i, rec := range data {
			if !yield(i, rec) {
				return
			}
		}
	}
}

// IDs returns the identifiers of the current records in order.
func (c ListContext) IDs() []model.Identifier {
	out := make([]model.Identifier, 0, len(c.Data))
	for _, rec := range c.Data {
		if id, ok := rec.ID(); ok {
			out = append(out, id)
		}
	}
	return out
}
