package fetch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reply struct {
	res model.GetListResult
	err error
}

// pendingCall is a provider request held until the test replies.
type pendingCall struct {
	resource string
	params   model.GetListParams
	replyCh  chan reply
}

func (p *pendingCall) succeed(res model.GetListResult) { p.replyCh <- reply{res: res} }
func (p *pendingCall) fail(err error)                  { p.replyCh <- reply{err: err} }

// fakeProvider hands every request to the test and blocks until a reply
// or cancellation.
type fakeProvider struct {
	calls chan *pendingCall
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: make(chan *pendingCall, 32)}
}

func (f *fakeProvider) GetList(ctx context.Context, resource string, params model.GetListParams) (model.GetListResult, error) {
	p := &pendingCall{resource: resource, params: params, replyCh: make(chan reply, 1)}
	f.calls <- p
	select {
	case r := <-p.replyCh:
		return r.res, r.err
	case <-ctx.Done():
		return model.GetListResult{}, ctx.Err()
	}
}

func (f *fakeProvider) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case p := <-f.calls:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a provider call")
		return nil
	}
}

func (f *fakeProvider) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case p := <-f.calls:
		t.Fatalf("unexpected provider call for page %d", p.params.Pagination.Page)
	case <-time.After(30 * time.Millisecond):
	}
}

func records(ids ...int) []model.Record {
	out := make([]model.Record, len(ids))
	for i, id := range ids {
		out[i] = model.Record{"id": id, "title": fmt.Sprintf("Post %d", id)}
	}
	return out
}

func ids(data []model.Record) []string {
	out := make([]string, len(data))
	for i, r := range data {
		id, _ := r.ID()
		out[i] = id.String()
	}
	return out
}

func postsKey(page int) Key {
	return Key{
		Resource: "posts",
		Filter:   model.Filter{},
		Sort:     model.SortSpec{Field: "id", Order: model.SortASC},
		Page:     page,
		PerPage:  2,
	}
}

func newMetrics() *observability.Metrics {
	return observability.InitMetrics(prometheus.NewRegistry())
}

func TestKey_stringIsCanonical(t *testing.T) {
	a := postsKey(1)
	a.Filter = model.Filter{"q": model.String("war"), "status": model.String("published")}
	b := postsKey(1)
	b.Filter = model.Filter{"status": model.String("published"), "q": model.String("war")}

	if a.String() != b.String() {
		t.Errorf("equal keys encode differently:\n%s\n%s", a.String(), b.String())
	}
	if a.String() == postsKey(2).String() {
		t.Error("different pages encode identically")
	}
	if a.lineage() != func() Key { k := a; k.Page = 7; return k }().lineage() {
		t.Error("lineage depends on page")
	}
}
