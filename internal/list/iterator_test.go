package list

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/listctl/internal/config"
	"github.com/pitabwire/listctl/model"
)

func titleOf(rec model.Record) string { return fmt.Sprint(rec["title"]) }

func TestNewIterator_requiresRender(t *testing.T) {
	_, err := NewIterator[string](nil)
	if !model.IsCode(err, model.ErrConfiguration) {
		t.Errorf("NewIterator(nil) error = %v, want CONFIGURATION_ERROR", err)
	}
}

func TestIterator_branches(t *testing.T) {
	it, err := NewIterator(titleOf, WithLoading("Loading..."), WithEmpty("No data"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		lc     ListContext
		branch Branch
		want   []string
	}{
		{
			name:   "pending",
			lc:     ListContext{IsPending: true, Data: books()},
			branch: BranchLoading,
			want:   []string{"Loading..."},
		},
		{
			name:   "empty",
			lc:     ListContext{Data: []model.Record{}},
			branch: BranchEmpty,
			want:   []string{"No data"},
		},
		{
			name:   "records",
			lc:     ListContext{Data: books()[:3]},
			branch: BranchRecords,
			want:   []string{"War and Peace", "The Little Prince", "Swann's Way"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := it.Branch(tt.lc); got != tt.branch {
				t.Errorf("Branch() = %v, want %v", got, tt.branch)
			}
			if diff := cmp.Diff(tt.want, it.Project(tt.lc)); diff != "" {
				t.Errorf("Project() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIterator_unsetPlaceholdersYieldNothing(t *testing.T) {
	it, _ := NewIterator(titleOf)
	if got := it.Project(ListContext{IsPending: true}); len(got) != 0 {
		t.Errorf("loading Project() = %v, want nothing", got)
	}
	if got := it.Project(ListContext{}); len(got) != 0 {
		t.Errorf("empty Project() = %v, want nothing", got)
	}
}

func TestIterator_isRestartable(t *testing.T) {
	calls := 0
	it, _ := NewIterator(func(rec model.Record) string {
		calls++
		return titleOf(rec)
	})
	lc := ListContext{Data: books()}

	first := it.Project(lc)
	second := it.Project(lc)
	if !slices.Equal(first, second) {
		t.Errorf("second pass = %v, want %v", second, first)
	}
	if calls != 10 {
		t.Errorf("render calls = %d, want one per record per pass", calls)
	}

	var got []string
	for title := range it.Seq(lc) {
		got = append(got, title)
		if len(got) == 2 {
			break
		}
	}
	if len(got) != 2 || calls != 12 {
		t.Errorf("early break rendered %d records", calls-10)
	}
}

func TestListContext_records(t *testing.T) {
	lc := ListContext{Data: books()[:2]}
	var idx []int
	for i, rec := range lc.Records() {
		idx = append(idx, i)
		if _, ok := rec.ID(); !ok {
			t.Errorf("record %d has no id", i)
		}
	}
	for i := range lc.Records() {
		idx = append(idx, i)
	}
	if !slices.Equal(idx, []int{0, 1, 0, 1}) {
		t.Errorf("indexes = %v", idx)
	}
	if (ListContext{IsPending: true}).IsEmpty() {
		t.Error("pending list reported empty")
	}
	if !(ListContext{}).IsEmpty() {
		t.Error("resolved list without records not reported empty")
	}
}

func TestLocal(t *testing.T) {
	l, err := NewLocal(context.Background(), books(), Options{PerPage: 2, Sort: model.SortSpec{Field: "title", Order: model.SortASC}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(l.Close)

	lc := waitResolved(t, l.Controller, []string{"4", "3"})
	if lc.Resource != "local" {
		t.Errorf("Resource = %q, want local", lc.Resource)
	}

	l.SetFilters(mustFilter(t, map[string]any{"q": "war"}), []string{"q"}, false)
	waitResolved(t, l.Controller, []string{"1"})

	l.SetData([]model.Record{{"id": 9, "title": "The War of the Worlds"}, {"id": 1, "title": "War and Peace"}})
	waitResolved(t, l.Controller, []string{"9", "1"})
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig("recent_posts", config.ListConfig{
		Resource:            "posts",
		PerPage:             25,
		SortField:           "published_at",
		SortOrder:           "DESC",
		Filter:              map[string]any{"status": "published"},
		FilterDefaultValues: map[string]any{"author": map[string]any{"id": 3}},
		AlwaysOn:            []string{"q"},
	})
	if err != nil {
		t.Fatalf("OptionsFromConfig() error = %v", err)
	}
	if opts.Resource != "posts" || opts.StoreKey != "recent_posts" || opts.PerPage != 25 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Sort != (model.SortSpec{Field: "published_at", Order: model.SortDESC}) {
		t.Errorf("Sort = %+v", opts.Sort)
	}
	if v, ok := opts.FilterDefaultValues.Get("author.id"); !ok || !v.Equal(model.Number(3)) {
		t.Errorf("FilterDefaultValues = %v", opts.FilterDefaultValues)
	}

	opts, _ = OptionsFromConfig("comments", config.ListConfig{})
	if opts.Resource != "comments" {
		t.Errorf("Resource = %q, want the list name", opts.Resource)
	}
}
