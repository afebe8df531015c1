// Package list composes the filter store, the sort and pagination state
// and a fetch coordinator into one list controller. A controller exposes
// an immutable ListContext snapshot to the rendering layer together with
// the operations that change it.
package list

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/config"
	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/internal/store"
	"github.com/pitabwire/listctl/model"
)

// Options configures a list controller.
type Options struct {
	// Resource names the collection passed to the data provider.
	Resource string
	// StoreKey names the persisted list parameters. Defaults to Resource.
	StoreKey             string
	DisableSyncWithStore bool

	// Filter is the permanent filter, merged over the user filter on every
	// request and never shown as a filter value.
	Filter              model.Filter
	FilterDefaultValues model.Filter
	AlwaysOn            []string
	Debounce            time.Duration

	Sort    model.SortSpec
	PerPage int

	Store    store.Store
	Provider model.DataProvider

	// ID identifies the controller instance in logs. Defaults to a random
	// UUID.
	ID      string
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

func (o Options) validate() error {
	if o.Resource == "" {
		return model.NewConfigurationError("list: resource is required")
	}
	if o.Provider == nil {
		return model.NewConfigurationError(fmt.Sprintf("list %q: data provider is required", o.Resource))
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.StoreKey == "" {
		o.StoreKey = o.Resource
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// OptionsFromConfig builds controller options from a named list of the
// configuration file. Store, provider and observability are left for the
// caller.
func OptionsFromConfig(name string, cfg config.ListConfig) (Options, error) {
	opts := Options{
		Resource:             cfg.Resource,
		StoreKey:             cfg.StoreKey,
		DisableSyncWithStore: cfg.DisableSyncWithStore,
		AlwaysOn:             cfg.AlwaysOn,
		Debounce:             cfg.Debounce,
		PerPage:              cfg.PerPage,
		Sort:                 model.SortSpec{Field: cfg.SortField, Order: model.SortOrder(cfg.SortOrder)},
	}
	if opts.Resource == "" {
		opts.Resource = name
	}
	if opts.StoreKey == "" {
		opts.StoreKey = name
	}

	var err error
	if opts.Filter, err = model.FilterFromMap(cfg.Filter); err != nil {
		return Options{}, model.NewConfigurationError(fmt.Sprintf("list %q: %v", name, err))
	}
	if opts.FilterDefaultValues, err = model.FilterFromMap(cfg.FilterDefaultValues); err != nil {
		return Options{}, model.NewConfigurationError(fmt.Sprintf("list %q: %v", name, err))
	}
	return opts, nil
}
