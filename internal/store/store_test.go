package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pitabwire/listctl/model"
)

// failingStore fails every operation.
type failingStore struct{ err error }

func (s failingStore) GetItem(context.Context, string) ([]byte, bool, error) { return nil, false, s.err }
func (s failingStore) SetItem(context.Context, string, []byte) error         { return s.err }
func (s failingStore) RemoveItem(context.Context, string) error              { return s.err }

type params struct {
	Page int    `json:"page"`
	Sort string `json:"sort"`
}

func TestLoadSave_roundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := Save(ctx, s, "posts.listParams", params{Page: 3, Sort: "title"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	var got params
	found, err := Load(ctx, s, "posts.listParams", &got)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if got.Page != 3 || got.Sort != "title" {
		t.Errorf("got = %+v", got)
	}
}

func TestLoad_missingKey(t *testing.T) {
	var got params
	found, err := Load(context.Background(), NewMemoryStore(), "absent", &got)
	if err != nil || found {
		t.Errorf("Load(absent) = %v, %v; want false, nil", found, err)
	}
}

func TestLoad_corruptValueIsPersistenceError(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SetItem(context.Background(), "posts.listParams", []byte("{not json"))

	var got params
	_, err := Load(context.Background(), s, "posts.listParams", &got)
	if !model.IsCode(err, model.ErrPersistence) {
		t.Errorf("err = %v, want PERSISTENCE_ERROR", err)
	}
}

func TestLoadSave_storeFailureIsPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	s := failingStore{err: cause}

	if err := Save(context.Background(), s, "k", params{}); !model.IsCode(err, model.ErrPersistence) || !errors.Is(err, cause) {
		t.Errorf("Save err = %v", err)
	}
	var got params
	if _, err := Load(context.Background(), s, "k", &got); !model.IsCode(err, model.ErrPersistence) {
		t.Errorf("Load err = %v", err)
	}
}

func TestKeys(t *testing.T) {
	if got := ListParamsKey("posts"); got != "posts.listParams" {
		t.Errorf("ListParamsKey = %q", got)
	}
	if got := SavedQueriesKey("posts"); got != "posts.savedQueries" {
		t.Errorf("SavedQueriesKey = %q", got)
	}
}
