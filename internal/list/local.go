package list

import (
	"context"

	"github.com/pitabwire/listctl/internal/provider"
	"github.com/pitabwire/listctl/model"
)

// localResource is the resource name used when a local list has none.
const localResource = "local"

// Local is a paged controller over records held in memory. Filter, sort
// and pagination apply to the slice the way a data provider would apply
// them. Nothing is persisted.
type Local struct {
	*Controller
	mem *provider.Memory
}

// NewLocal creates a Local controller over records.
func NewLocal(ctx context.Context, records []model.Record, opts Options) (*Local, error) {
	if opts.Resource == "" {
		opts.Resource = localResource
	}
	mem := provider.NewMemory(map[string][]model.Record{opts.Resource: records})
	opts.Provider = mem
	opts.Store = nil
	opts.DisableSyncWithStore = true
	c, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Local{Controller: c, mem: mem}, nil
}

// SetData replaces the records and fetches the current page again.
func (l *Local) SetData(records []model.Record) {
	l.mem.Set(l.opts.Resource, records)
	l.Refetch()
}
