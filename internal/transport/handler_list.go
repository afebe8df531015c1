package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/listctl/internal/filter"
	"github.com/pitabwire/listctl/internal/inference"
	"github.com/pitabwire/listctl/internal/list"
	"github.com/pitabwire/listctl/model"
)

// listView is the JSON rendering of a session snapshot.
type listView struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Resource string               `json:"resource"`
	Data     []model.Record       `json:"data"`
	Total    *int                 `json:"total,omitempty"`
	PageInfo *model.PageInfo      `json:"pageInfo,omitempty"`
	Status   model.FetchStatus    `json:"status"`
	Error    *model.ErrorEnvelope `json:"error,omitempty"`

	IsPending  bool `json:"isPending"`
	IsFetching bool `json:"isFetching"`

	Page             int            `json:"page"`
	PerPage          int            `json:"perPage"`
	PageCount        int            `json:"pageCount"`
	Sort             model.SortSpec `json:"sort"`
	FilterValues     model.Filter   `json:"filterValues"`
	DisplayedFilters []string       `json:"displayedFilters"`

	Infinite               bool `json:"infinite"`
	HasNextPage            bool `json:"hasNextPage"`
	HasPreviousPage        bool `json:"hasPreviousPage"`
	IsFetchingNextPage     bool `json:"isFetchingNextPage,omitempty"`
	IsFetchingPreviousPage bool `json:"isFetchingPreviousPage,omitempty"`
}

func newListView(sess *Session, lc list.ListContext) listView {
	v := listView{
		ID:                     sess.ID(),
		Name:                   sess.Name,
		Resource:               lc.Resource,
		Data:                   lc.Data,
		Total:                  lc.Total,
		PageInfo:               lc.PageInfo,
		Status:                 lc.Status,
		IsPending:              lc.IsPending,
		IsFetching:             lc.IsFetching,
		Page:                   lc.Page,
		PerPage:                lc.PerPage,
		PageCount:              lc.PageCount,
		Sort:                   lc.Sort,
		FilterValues:           lc.FilterValues,
		DisplayedFilters:       lc.DisplayedFilters,
		Infinite:               lc.Infinite,
		HasNextPage:            lc.HasNextPage,
		HasPreviousPage:        lc.HasPreviousPage,
		IsFetchingNextPage:     lc.IsFetchingNextPage,
		IsFetchingPreviousPage: lc.IsFetchingPreviousPage,
	}
	if lc.Error != nil {
		v.Error = envelope(lc.Error)
	}
	return v
}

// settle waits until no fetch is in flight or ctx ends, and returns the
// latest snapshot.
func settle(ctx context.Context, c *list.Controller) list.ListContext {
	changed := make(chan struct{}, 1)
	unsubscribe := c.Subscribe(func(list.ListContext) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		lc := c.Context()
		if settled(lc) {
			return lc
		}
		select {
		case <-ctx.Done():
			return c.Context()
		case <-changed:
		}
	}
}

func settled(lc list.ListContext) bool {
	if lc.IsFetching {
		return false
	}
	return lc.Status == model.StatusSuccess || lc.Status == model.StatusError
}

// writeView writes the session snapshot. With ?wait=true the response is
// held until the fetch triggered by the request completes.
func writeView(w http.ResponseWriter, r *http.Request, status int, sess *Session) {
	lc := sess.Context()
	if queryBool(r, "wait") {
		lc = settle(r.Context(), sess.Controller)
	}
	WriteJSON(w, status, newListView(sess, lc))
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}

// sessionHandler resolves the {listId} session of the caller.
func sessionHandler(sessions *Sessions, fn func(http.ResponseWriter, *http.Request, *Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := sessions.Get(chi.URLParam(r, "listId"), SubjectFrom(r.Context()))
		if err != nil {
			WriteError(w, err)
			return
		}
		fn(w, r, sess)
	}
}

func handleListNames(sessions *Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string][]string{"lists": sessions.Names()})
	}
}

func handleCreateList(sessions *Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		if body.Name == "" {
			WriteError(w, model.NewBadRequestError("list name is required"))
			return
		}
		sess, err := sessions.Create(body.Name, SubjectFrom(r.Context()))
		if err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Location", "/lists/"+sess.ID())
		writeView(w, r, http.StatusCreated, sess)
	}
}

func handleGetList(w http.ResponseWriter, r *http.Request, sess *Session) {
	writeView(w, r, http.StatusOK, sess)
}

func handleDeleteList(sessions *Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Delete(chi.URLParam(r, "listId"), SubjectFrom(r.Context())); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSetFilters(w http.ResponseWriter, r *http.Request, sess *Session) {
	var body struct {
		Values    model.Filter `json:"values"`
		Displayed []string     `json:"displayed"`
		Debounce  bool         `json:"debounce"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteError(w, err)
		return
	}
	displayed := body.Displayed
	if displayed == nil {
		displayed = body.Values.Keys()
	}
	sess.SetFilters(body.Values, displayed, body.Debounce)
	writeView(w, r, http.StatusOK, sess)
}

func handleShowFilter(w http.ResponseWriter, r *http.Request, sess *Session) {
	var body struct {
		Default model.FilterValue `json:"default"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteError(w, err)
		return
	}
	sess.ShowFilter(chi.URLParam(r, "key"), body.Default)
	writeView(w, r, http.StatusOK, sess)
}

func handleHideFilter(w http.ResponseWriter, r *http.Request, sess *Session) {
	sess.HideFilter(chi.URLParam(r, "key"))
	writeView(w, r, http.StatusOK, sess)
}

func handleSetSort(w http.ResponseWriter, r *http.Request, sess *Session) {
	var sort model.SortSpec
	if err := decodeBody(r, &sort); err != nil {
		WriteError(w, err)
		return
	}
	if sort.Order != "" && sort.Order != model.SortASC && sort.Order != model.SortDESC {
		WriteError(w, model.NewBadRequestError("sort order must be ASC or DESC"))
		return
	}
	sess.SetSort(sort)
	writeView(w, r, http.StatusOK, sess)
}

func handleToggleSort(w http.ResponseWriter, r *http.Request, sess *Session) {
	var body struct {
		Field string `json:"field"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteError(w, err)
		return
	}
	if body.Field == "" {
		WriteError(w, model.NewBadRequestError("sort field is required"))
		return
	}
	sess.ToggleSort(body.Field)
	writeView(w, r, http.StatusOK, sess)
}

func handleSetPage(w http.ResponseWriter, r *http.Request, sess *Session) {
	var body struct {
		Page    *int `json:"page"`
		PerPage *int `json:"perPage"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteError(w, err)
		return
	}
	if body.PerPage != nil {
		sess.SetPerPage(*body.PerPage)
	}
	if body.Page != nil {
		sess.SetPage(*body.Page)
	}
	writeView(w, r, http.StatusOK, sess)
}

func handleFetchNext(w http.ResponseWriter, r *http.Request, sess *Session) {
	ic, ok := sess.Infinite()
	if !ok {
		WriteError(w, model.NewBadRequestError("list is not infinite"))
		return
	}
	ic.FetchNextPage()
	writeView(w, r, http.StatusOK, sess)
}

func handleFetchPrevious(w http.ResponseWriter, r *http.Request, sess *Session) {
	ic, ok := sess.Infinite()
	if !ok {
		WriteError(w, model.NewBadRequestError("list is not infinite"))
		return
	}
	ic.FetchPreviousPage()
	writeView(w, r, http.StatusOK, sess)
}

func handleRefetch(w http.ResponseWriter, r *http.Request, sess *Session) {
	sess.Refetch()
	writeView(w, r, http.StatusOK, sess)
}

func handleFields(w http.ResponseWriter, r *http.Request, sess *Session) {
	lc := sess.Context()
	if queryBool(r, "wait") {
		lc = settle(r.Context(), sess.Controller)
	}
	WriteJSON(w, http.StatusOK, map[string][]inference.Field{"fields": inference.InferFields(lc.Data)})
}

func savedQueries(sess *Session) (*filter.SavedQueries, error) {
	q := sess.SavedQueries()
	if q == nil {
		return nil, model.NewConfigurationError("saved queries need a store")
	}
	return q, nil
}

func handleListQueries(w http.ResponseWriter, r *http.Request, sess *Session) {
	q, err := savedQueries(sess)
	if err != nil {
		WriteError(w, err)
		return
	}
	queries, err := q.List(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	if queries == nil {
		queries = []filter.SavedQuery{}
	}
	WriteJSON(w, http.StatusOK, map[string][]filter.SavedQuery{"queries": queries})
}

func handleSaveQuery(w http.ResponseWriter, r *http.Request, sess *Session) {
	if err := sess.SaveQuery(r.Context(), chi.URLParam(r, "label")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleApplyQuery(w http.ResponseWriter, r *http.Request, sess *Session) {
	if err := sess.ApplySavedQuery(r.Context(), chi.URLParam(r, "label")); err != nil {
		WriteError(w, err)
		return
	}
	writeView(w, r, http.StatusOK, sess)
}

func handleDeleteQuery(w http.ResponseWriter, r *http.Request, sess *Session) {
	q, err := savedQueries(sess)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := q.Remove(r.Context(), chi.URLParam(r, "label")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
