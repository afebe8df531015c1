package filter

import (
	"context"
	"sort"
	"sync"

	"github.com/pitabwire/listctl/internal/store"
	"github.com/pitabwire/listctl/model"
)

// SavedQuery is a named combination of list parameters a user can restore.
type SavedQuery struct {
	Label            string         `json:"label"`
	Filter           model.Filter   `json:"filter"`
	Sort             model.SortSpec `json:"sort"`
	PerPage          int            `json:"perPage"`
	DisplayedFilters []string       `json:"displayedFilters"`
}

// SavedQueries manages the saved queries of one resource. Unlike the
// filter state, store failures are returned to the caller.
type SavedQueries struct {
	store store.Store
	key   string

	// mu serialises read-modify-write cycles made through this value.
	mu sync.Mutex
}

// NewSavedQueries returns the saved queries of resource in s.
func NewSavedQueries(s store.Store, resource string) *SavedQueries {
	return &SavedQueries{store: s, key: store.SavedQueriesKey(resource)}
}

// List returns the saved queries sorted by label.
func (q *SavedQueries) List(ctx context.Context) ([]SavedQuery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

func (q *SavedQueries) load(ctx context.Context) ([]SavedQuery, error) {
	var queries []SavedQuery
	if _, err := store.Load(ctx, q.store, q.key, &queries); err != nil {
		return nil, err
	}
	sort.SliceStable(queries, func(i, j int) bool { return queries[i].Label < queries[j].Label })
	return queries, nil
}

// Save stores query, replacing a query with the same label.
func (q *SavedQueries) Save(ctx context.Context, query SavedQuery) error {
	if query.Label == "" {
		return model.NewBadRequestError("saved query label is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	queries, err := q.load(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range queries {
		if queries[i].Label == query.Label {
			queries[i] = query
			replaced = true
			break
		}
	}
	if !replaced {
		queries = append(queries, query)
	}
	return store.Save(ctx, q.store, q.key, queries)
}

// Remove deletes the query with the given label. It returns a NOT_FOUND
// error when no query has that label.
func (q *SavedQueries) Remove(ctx context.Context, label string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	queries, err := q.load(ctx)
	if err != nil {
		return err
	}
	kept := queries[:0]
	for _, sq := range queries {
		if sq.Label != label {
			kept = append(kept, sq)
		}
	}
	if len(kept) == len(queries) {
		return model.NewNotFoundError("saved query " + label + " not found")
	}
	if len(kept) == 0 {
		if err := q.store.RemoveItem(ctx, q.key); err != nil {
			return model.NewPersistenceError(q.key, err)
		}
		return nil
	}
	return store.Save(ctx, q.store, q.key, kept)
}

// Find returns the query with the given label.
func (q *SavedQueries) Find(ctx context.Context, label string) (SavedQuery, bool, error) {
	queries, err := q.List(ctx)
	if err != nil {
		return SavedQuery{}, false, err
	}
	for _, sq := range queries {
		if sq.Label == label {
			return sq, true, nil
		}
	}
	return SavedQuery{}, false, nil
}
