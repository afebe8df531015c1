package list

import (
	"iter"

	"github.com/pitabwire/listctl/model"
)

// Branch is the mutually exclusive outcome of iterating a ListContext.
type Branch int

const (
	// BranchLoading is chosen while the first response is pending.
	BranchLoading Branch = iota
	// BranchEmpty is chosen when a resolved list has no records.
	BranchEmpty
	// BranchRecords projects every record.
	BranchRecords
)

func (b Branch) String() string {
	switch b {
	case BranchLoading:
		return "loading"
	case BranchEmpty:
		return "empty"
	default:
		return "records"
	}
}

// Iterator projects the records of a ListContext into values of type T.
// It holds no state of its own: every call recomputes from the snapshot
// it is given.
type Iterator[T any] struct {
	render     func(model.Record) T
	loading    T
	hasLoading bool
	empty      T
	hasEmpty   bool
}

// IteratorOption configures an Iterator.
type IteratorOption[T any] func(*Iterator[T])

// WithLoading sets the value produced while the list is pending.
func WithLoading[T any](v T) IteratorOption[T] {
	return func(it *Iterator[T]) { it.loading, it.hasLoading = v, true }
}

// WithEmpty sets the value produced when the list has no records.
func WithEmpty[T any](v T) IteratorOption[T] {
	return func(it *Iterator[T]) { it.empty, it.hasEmpty = v, true }
}

// NewIterator creates an Iterator calling render once per record. It
// returns a CONFIGURATION_ERROR when render is nil.
func NewIterator[T any](render func(model.Record) T, opts ...IteratorOption[T]) (*Iterator[T], error) {
	if render == nil {
		return nil, model.NewConfigurationError("list iterator requires a render function")
	}
	it := &Iterator[T]{render: render}
	for _, opt := range opts {
		opt(it)
	}
	return it, nil
}

// Branch returns the branch Project takes for lc.
func (it *Iterator[T]) Branch(lc ListContext) Branch {
	switch {
	case lc.IsPending:
		return BranchLoading
	case len(lc.Data) == 0:
		return BranchEmpty
	default:
		return BranchRecords
	}
}

// Seq yields the loading value, the empty value, or one projection per
// record in order. The loading and empty branches yield nothing when no
// value was configured for them.
func (it *Iterator[T]) Seq(lc ListContext) iter.Seq[T] {
	branch := it.Branch(lc)
	return func(yield func(T) bool) {
		switch branch {
		case BranchLoading:
			if it.hasLoading {
				yield(it.loading)
			}
		case BranchEmpty:
			if it.hasEmpty {
				yield(it.empty)
			}
		default:
			for _, rec := range lc.Records() {
				if !yield(it.render(rec)) {
					return
				}
			}
		}
	}
}

// Project collects Seq into a slice.
func (it *Iterator[T]) Project(lc ListContext) []T {
	var out []T
	for v := range it.Seq(lc) {
		out = append(out, v)
	}
	return out
}
