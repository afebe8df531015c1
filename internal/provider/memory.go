// Package provider implements model.DataProvider: an in-memory provider,
// a REST provider guarded by a circuit breaker, and an instrumentation
// decorator.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pitabwire/listctl/model"
)

// Filter key suffixes understood by Memory, as in "width_gte".
var operatorSuffixes = []string{"_gte", "_lte", "_gt", "_lt", "_neq", "_q"}

// Memory serves lists from in-memory record slices. Filtering supports
// equality, array membership, "q" full-text search across every field,
// the comparison suffixes _gte, _lte, _gt, _lt and _neq, the per-field
// text search suffix _q, and dot-path fields into nested records.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]model.Record
}

// NewMemory creates a provider over data, keyed by resource name.
func NewMemory(data map[string][]model.Record) *Memory {
	m := &Memory{data: make(map[string][]model.Record, len(data))}
	for resource, records := range data {
		m.data[resource] = append([]model.Record(nil), records...)
	}
	return m
}

// Set replaces the records of resource.
func (m *Memory) Set(resource string, records []model.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[resource] = append([]model.Record(nil), records...)
}

// GetList filters, sorts and paginates the records of resource. Unknown
// resources return a NOT_FOUND error.
func (m *Memory) GetList(ctx context.Context, resource string, params model.GetListParams) (model.GetListResult, error) {
	if err := ctx.Err(); err != nil {
		return model.GetListResult{}, err
	}
	m.mu.RLock()
	records, ok := m.data[resource]
	m.mu.RUnlock()
	if !ok {
		return model.GetListResult{}, model.NewNotFoundError(fmt.Sprintf("resource %q not found", resource))
	}

	clauses := flatten("", params.Filter)
	matched := make([]model.Record, 0, len(records))
	for _, rec := range records {
		if matchesAll(rec, clauses) {
			matched = append(matched, rec)
		}
	}

	if params.Sort.Field != "" {
		field, desc := params.Sort.Field, params.Sort.Order == model.SortDESC
		sort.SliceStable(matched, func(i, j int) bool {
			c := compare(lookup(matched[i], field), lookup(matched[j], field))
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	total := len(matched)
	page := matched
	if pp := params.Pagination.PerPage; pp > 0 {
		p := max(params.Pagination.Page, 1)
		start := min((p-1)*pp, total)
		end := min(start+pp, total)
		page = matched[start:end]
	}
	return model.GetListResult{Data: append([]model.Record(nil), page...), Total: model.IntPtr(total)}, nil
}

type clause struct {
	key   string
	value model.FilterValue
}

// flatten turns nested filter mappings into dot-path clauses.
func flatten(prefix string, f model.Filter) []clause {
	var out []clause
	for _, k := range f.Keys() {
		v := f[k]
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if v.Kind() == model.KindMap {
			out = append(out, flatten(path, v.Fields())...)
			continue
		}
		out = append(out, clause{key: path, value: v})
	}
	return out
}

func matchesAll(rec model.Record, clauses []clause) bool {
	for _, c := range clauses {
		if !matches(rec, c) {
			return false
		}
	}
	return true
}

func matches(rec model.Record, c clause) bool {
	if c.key == "q" {
		return fullText(rec, c.value)
	}
	for _, suffix := range operatorSuffixes {
		field, ok := strings.CutSuffix(c.key, suffix)
		if !ok {
			continue
		}
		if _, exists := fieldValue(rec, c.key); exists {
			break
		}
		actual, _ := fieldValue(rec, field)
		switch suffix {
		case "_q":
			return containsFold(stringify(actual), filterString(c.value))
		case "_neq":
			return !equalLoose(actual, c.value)
		default:
			if actual == nil {
				return false
			}
			cmp := compare(actual, c.value.Any())
			switch suffix {
			case "_gte":
				return cmp >= 0
			case "_lte":
				return cmp <= 0
			case "_gt":
				return cmp > 0
			default:
				return cmp < 0
			}
		}
	}

	actual, _ := fieldValue(rec, c.key)
	if c.value.Kind() == model.KindArray {
		for _, item := range c.value.Items() {
			if equalLoose(actual, item) {
				return true
			}
		}
		return false
	}
	return equalLoose(actual, c.value)
}

// fieldValue reads a field, trying the literal key before a dot-path walk.
func fieldValue(rec model.Record, path string) (any, bool) {
	if v, ok := rec[path]; ok {
		return v, true
	}
	var cur any = map[string]any(rec)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func lookup(rec model.Record, path string) any {
	v, _ := fieldValue(rec, path)
	return v
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case model.Record:
		return m, true
	default:
		return nil, false
	}
}

// equalLoose compares a record value with a filter value. Array record
// values match when any element matches.
func equalLoose(actual any, want model.FilterValue) bool {
	if items, ok := actual.([]any); ok {
		for _, item := range items {
			if equalLoose(item, want) {
				return true
			}
		}
		return false
	}
	if want.Kind() == model.KindNull {
		return actual == nil
	}
	if actual == nil {
		return false
	}
	return stringify(actual) == stringify(want.Any())
}

func fullText(rec model.Record, v model.FilterValue) bool {
	needle := filterString(v)
	if needle == "" {
		return true
	}
	for _, field := range rec {
		if containsFold(searchable(field), needle) {
			return true
		}
	}
	return false
}

func searchable(v any) string {
	switch x := v.(type) {
	case map[string]any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, searchable(item))
		}
		return strings.Join(parts, " ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, searchable(item))
		}
		return strings.Join(parts, " ")
	default:
		return stringify(v)
	}
}

func filterString(v model.FilterValue) string {
	if s, ok := v.Str(); ok {
		return s
	}
	return stringify(v.Any())
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	id, ok := model.NewIdentifier(v)
	if !ok || !id.IsNumeric() {
		return 0, false
	}
	f, err := strconv.ParseFloat(id.String(), 64)
	return f, err == nil
}

// compare orders two values: nil first, then numbers numerically, then
// everything else by string form.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}
