// Package store provides the key-value storage capability used to persist
// list state (filters, sort, pagination, saved queries) across sessions.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitabwire/listctl/model"
)

// Store is a key-value store holding JSON documents.
//
// Concurrent writers to the same key are not coordinated: the last write
// wins.
type Store interface {
	// GetItem returns the stored value. found is false when the key is absent.
	GetItem(ctx context.Context, key string) (value []byte, found bool, err error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key string, value []byte) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// Load decodes the JSON document stored under key into v. It returns
// false without error when the key is absent. Failures are returned as
// PERSISTENCE_ERROR envelopes.
func Load(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, found, err := s.GetItem(ctx, key)
	if err != nil {
		return false, model.NewPersistenceError(key, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, model.NewPersistenceError(key, fmt.Errorf("decode: %w", err))
	}
	return true, nil
}

// Save encodes v as JSON and stores it under key.
func Save(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return model.NewPersistenceError(key, fmt.Errorf("encode: %w", err))
	}
	if err := s.SetItem(ctx, key, raw); err != nil {
		return model.NewPersistenceError(key, err)
	}
	return nil
}

// ListParamsKey returns the key prefix for the persisted params of a list.
// storeKey defaults to the resource name.
func ListParamsKey(storeKey string) string {
	return storeKey + ".listParams"
}

// SavedQueriesKey returns the key holding the saved queries of a resource.
func SavedQueriesKey(resource string) string {
	return resource + ".savedQueries"
}
