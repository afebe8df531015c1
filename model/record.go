// Package model defines the shared data types of listctl: records, filters,
// sort and pagination parameters, the data provider contract, and errors.
package model

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
)

// Identifier uniquely identifies a record inside a resource collection.
// It holds either a string or a number. Numbers of any Go kind with the
// same value compare equal; a string never equals a number. Integers keep
// their exact value beyond the float64 mantissa.
type Identifier struct {
	str     string
	numeric bool
}

// NewIdentifier converts v into an Identifier. It returns false for values
// that are neither strings nor numbers.
func NewIdentifier(v any) (Identifier, bool) {
	switch id := v.(type) {
	case string:
		return Identifier{str: id}, true
	case int:
		return intIdentifier(int64(id)), true
	case int8:
		return intIdentifier(int64(id)), true
	case int16:
		return intIdentifier(int64(id)), true
	case int32:
		return intIdentifier(int64(id)), true
	case int64:
		return intIdentifier(id), true
	case uint:
		return uintIdentifier(uint64(id)), true
	case uint8:
		return uintIdentifier(uint64(id)), true
	case uint16:
		return uintIdentifier(uint64(id)), true
	case uint32:
		return uintIdentifier(uint64(id)), true
	case uint64:
		return uintIdentifier(id), true
	case float32:
		return floatIdentifier(float64(id))
	case float64:
		return floatIdentifier(id)
	case json.Number:
		if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
			return intIdentifier(n), true
		}
		if n, err := strconv.ParseUint(string(id), 10, 64); err == nil {
			return uintIdentifier(n), true
		}
		f, err := id.Float64()
		if err != nil {
			return Identifier{}, false
		}
		return floatIdentifier(f)
	default:
		return Identifier{}, false
	}
}

func intIdentifier(n int64) Identifier {
	return Identifier{str: strconv.FormatInt(n, 10), numeric: true}
}

func uintIdentifier(n uint64) Identifier {
	return Identifier{str: strconv.FormatUint(n, 10), numeric: true}
}

// floatIdentifier renders f in its shortest form, so integral floats match
// the integer kinds holding the same value.
func floatIdentifier(f float64) (Identifier, bool) {
	if math.IsNaN(f) {
		return Identifier{}, false
	}
	if f == 0 {
		f = 0 // folds -0
	}
	return Identifier{str: strconv.FormatFloat(f, 'f', -1, 64), numeric: true}, true
}

// IsNumeric reports whether the identifier holds a number.
func (i Identifier) IsNumeric() bool { return i.numeric }

// String renders the identifier. Numbers use the shortest exact decimal
// representation.
func (i Identifier) String() string { return i.str }

// Key returns a map key that keeps strings and numbers apart.
func (i Identifier) Key() string {
	if i.numeric {
		return "n:" + i.str
	}
	return "s:" + i.str
}

// Record is a schema-free mapping of field name to value. Every record
// carries an "id" field.
type Record map[string]any

// ID returns the record identifier.
func (r Record) ID() (Identifier, bool) {
	if r == nil {
		return Identifier{}, false
	}
	return NewIdentifier(r["id"])
}

// SortOrder is the direction of a sort.
type SortOrder string

const (
	SortASC  SortOrder = "ASC"
	SortDESC SortOrder = "DESC"
)

// SortSpec is the single active sort of a list.
type SortSpec struct {
	Field string    `json:"field"`
	Order SortOrder `json:"order"`
}

// Toggle returns the same field with the opposite order.
func (s SortSpec) Toggle() SortSpec {
	if s.Order == SortASC {
		return SortSpec{Field: s.Field, Order: SortDESC}
	}
	return SortSpec{Field: s.Field, Order: SortASC}
}

// Pagination is the paged-mode window.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

// PageInfo is returned by providers that paginate with cursors and know
// their boundaries without a total count.
type PageInfo struct {
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// GetListParams describes one list request.
type GetListParams struct {
	Pagination Pagination     `json:"pagination"`
	Sort       SortSpec       `json:"sort"`
	Filter     Filter         `json:"filter"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// GetListResult is the response of a list request. Total may be nil when
// the provider does not count.
type GetListResult struct {
	Data     []Record  `json:"data"`
	Total    *int      `json:"total,omitempty"`
	PageInfo *PageInfo `json:"pageInfo,omitempty"`
}

// DataProvider is the data-access capability injected into controllers.
// Timeouts and cancellation of the underlying transport are the
// provider's concern.
type DataProvider interface {
	GetList(ctx context.Context, resource string, params GetListParams) (GetListResult, error)
}

// DataProviderFunc adapts a function to DataProvider.
type DataProviderFunc func(ctx context.Context, resource string, params GetListParams) (GetListResult, error)

// GetList calls f.
func (f DataProviderFunc) GetList(ctx context.Context, resource string, params GetListParams) (GetListResult, error) {
	return f(ctx, resource, params)
}

// FetchStatus is the lifecycle of the current list request.
type FetchStatus string

const (
	StatusIdle       FetchStatus = "idle"
	StatusLoading    FetchStatus = "loading"
	StatusRefreshing FetchStatus = "refreshing"
	StatusSuccess    FetchStatus = "success"
	StatusError      FetchStatus = "error"
)

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }
