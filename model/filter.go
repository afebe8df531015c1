package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// FilterKind tags the variant held by a FilterValue.
type FilterKind uint8

const (
	KindUndefined FilterKind = iota
	KindNull
	KindString
	KindNumber
	KindBool
	KindArray
	KindMap
)

func (k FilterKind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// FilterValue is a filter value: a primitive, an array of values, or a
// nested mapping. The zero value is undefined. Values are immutable once
// built; Filter operations copy along the paths they change.
type FilterValue struct {
	kind FilterKind
	str  string
	num  float64
	b    bool
	arr  []FilterValue
	obj  map[string]FilterValue
}

// String returns a string value.
func String(s string) FilterValue { return FilterValue{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(n float64) FilterValue { return FilterValue{kind: KindNumber, num: n} }

// Bool returns a boolean value.
func Bool(b bool) FilterValue { return FilterValue{kind: KindBool, b: b} }

// Null returns the explicit null value.
func Null() FilterValue { return FilterValue{kind: KindNull} }

// Array returns an array value.
func Array(items ...FilterValue) FilterValue {
	arr := make([]FilterValue, len(items))
	copy(arr, items)
	return FilterValue{kind: KindArray, arr: arr}
}

// Map returns a nested mapping value.
func Map(m map[string]FilterValue) FilterValue {
	obj := make(map[string]FilterValue, len(m))
	for k, v := range m {
		obj[k] = v
	}
	return FilterValue{kind: KindMap, obj: obj}
}

// FromAny converts a decoded JSON-like value into a FilterValue.
func FromAny(v any) (FilterValue, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case FilterValue:
		return x, nil
	case Filter:
		return Map(x), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return FilterValue{}, fmt.Errorf("filter value %q: %w", x, err)
		}
		return Number(f), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		items := make([]FilterValue, rv.Len())
		for i := range items {
			item, err := FromAny(rv.Index(i).Interface())
			if err != nil {
				return FilterValue{}, err
			}
			items[i] = item
		}
		return FilterValue{kind: KindArray, arr: items}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return FilterValue{}, fmt.Errorf("filter map keys must be strings, got %s", rv.Type().Key())
		}
		obj := make(map[string]FilterValue, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := FromAny(iter.Value().Interface())
			if err != nil {
				return FilterValue{}, err
			}
			obj[iter.Key().String()] = item
		}
		return FilterValue{kind: KindMap, obj: obj}, nil
	default:
		return FilterValue{}, fmt.Errorf("unsupported filter value type %T", v)
	}
}

// Kind returns the variant tag.
func (v FilterValue) Kind() FilterKind { return v.kind }

// IsUndefined reports whether the value is absent.
func (v FilterValue) IsUndefined() bool { return v.kind == KindUndefined }

// Str returns the string payload.
func (v FilterValue) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the numeric payload.
func (v FilterValue) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Boolean returns the boolean payload.
func (v FilterValue) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Items returns the array payload. The slice must not be modified.
func (v FilterValue) Items() []FilterValue { return v.arr }

// Fields returns the nested mapping payload. The map must not be modified.
func (v FilterValue) Fields() map[string]FilterValue { return v.obj }

// Any converts the value back to plain Go values (string, float64, bool,
// nil, []any, map[string]any).
func (v FilterValue) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			if item.IsUndefined() {
				continue
			}
			out[k] = item.Any()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep structural equality. Map comparison ignores key
// order; array comparison does not.
func (v FilterValue) Equal(o FilterValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return Filter(v.obj).Equal(Filter(o.obj))
	default:
		return true
	}
}

// MarshalJSON encodes the value; undefined encodes as null.
func (v FilterValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes any JSON value.
func (v *FilterValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Filter maps filter keys to values. Keys may be dot-paths into nested
// mappings ("nested.foo").
type Filter map[string]FilterValue

// FilterFromMap converts a plain map into a Filter.
func FilterFromMap(m map[string]any) (Filter, error) {
	f := make(Filter, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", k, err)
		}
		f[k] = v
	}
	return f, nil
}

// Get resolves a key. An exact top-level key wins over a dot-path walk.
func (f Filter) Get(path string) (FilterValue, bool) {
	if v, ok := f[path]; ok && !v.IsUndefined() {
		return v, true
	}
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return FilterValue{}, false
	}
	cur, ok := f[parts[0]]
	for _, p := range parts[1:] {
		if !ok || cur.kind != KindMap {
			return FilterValue{}, false
		}
		cur, ok = cur.obj[p]
	}
	if !ok || cur.IsUndefined() {
		return FilterValue{}, false
	}
	return cur, true
}

// Has reports whether the key resolves to a defined value.
func (f Filter) Has(path string) bool {
	_, ok := f.Get(path)
	return ok
}

// Set assigns the value at path, creating nested mappings for dot-paths.
// It returns a new Filter and leaves f untouched.
func (f Filter) Set(path string, v FilterValue) Filter {
	out := f.Clone()
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		out[path] = v
		return out
	}
	out[parts[0]] = setIn(out[parts[0]], parts[1:], v)
	return out
}

func setIn(parent FilterValue, parts []string, v FilterValue) FilterValue {
	obj := make(map[string]FilterValue, len(parent.obj)+1)
	if parent.kind == KindMap {
		for k, item := range parent.obj {
			obj[k] = item
		}
	}
	if len(parts) == 1 {
		obj[parts[0]] = v
	} else {
		obj[parts[0]] = setIn(obj[parts[0]], parts[1:], v)
	}
	return FilterValue{kind: KindMap, obj: obj}
}

// Delete removes the value at path and prunes nested mappings left empty.
// It returns a new Filter and leaves f untouched.
func (f Filter) Delete(path string) Filter {
	out := f.Clone()
	if _, ok := out[path]; ok {
		delete(out, path)
		return out
	}
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return out
	}
	root, ok := out[parts[0]]
	if !ok || root.kind != KindMap {
		return out
	}
	pruned, empty := deleteIn(root, parts[1:])
	if empty {
		delete(out, parts[0])
	} else {
		out[parts[0]] = pruned
	}
	return out
}

func deleteIn(parent FilterValue, parts []string) (FilterValue, bool) {
	child, ok := parent.obj[parts[0]]
	if !ok {
		return parent, len(parent.obj) == 0
	}
	obj := make(map[string]FilterValue, len(parent.obj))
	for k, item := range parent.obj {
		obj[k] = item
	}
	if len(parts) == 1 {
		delete(obj, parts[0])
	} else if child.kind == KindMap {
		pruned, empty := deleteIn(child, parts[1:])
		if empty {
			delete(obj, parts[0])
		} else {
			obj[parts[0]] = pruned
		}
	}
	return FilterValue{kind: KindMap, obj: obj}, len(obj) == 0
}

// Clone returns a shallow copy. Values are immutable so sharing them is safe.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge returns f overlaid with the keys of overlay.
func (f Filter) Merge(overlay Filter) Filter {
	out := f.Clone()
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Equal compares two filters, treating undefined values as absent.
func (f Filter) Equal(o Filter) bool {
	count := 0
	for k, v := range f {
		if v.IsUndefined() {
			continue
		}
		count++
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	for _, v := range o {
		if !v.IsUndefined() {
			count--
		}
	}
	return count == 0
}

// Keys returns the defined top-level keys in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k, v := range f {
		if !v.IsUndefined() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ToMap converts the filter to plain Go values.
func (f Filter) ToMap() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		if v.IsUndefined() {
			continue
		}
		out[k] = v.Any()
	}
	return out
}

// MarshalJSON encodes the filter, omitting undefined values. Keys are
// sorted, so the encoding is canonical.
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.ToMap())
}

// Canonical returns a stable encoding suitable for composite keys.
func (f Filter) Canonical() string {
	data, err := json.Marshal(f.ToMap())
	if err != nil {
		return fmt.Sprintf("%v", f.ToMap())
	}
	return string(data)
}
