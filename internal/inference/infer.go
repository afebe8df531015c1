// Package inference guesses the type of record fields from sample values
// so a list can be rendered before its columns are declared.
package inference

import (
	"sort"
	"strings"

	"github.com/pitabwire/listctl/model"
)

// FieldType is an inferred field type.
type FieldType string

const (
	TypeID             FieldType = "id"
	TypeReference      FieldType = "reference"
	TypeReferenceArray FieldType = "reference_array"
	TypeBoolean        FieldType = "boolean"
	TypeNumber         FieldType = "number"
	TypeDate           FieldType = "date"
	TypeURL            FieldType = "url"
	TypeImage          FieldType = "image"
	TypeEmail          FieldType = "email"
	TypeRichText       FieldType = "rich_text"
	TypeArray          FieldType = "array"
	TypeObject         FieldType = "object"
	TypeString         FieldType = "string"
)

// Field is the inferred type of one record field. Object fields carry the
// inferred types of their own fields.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Children []Field   `json:"children,omitempty"`
}

// InferType infers the type of the field name from its values. Nil and
// empty string values carry no type information and are ignored; a field
// with no other value is a string.
func InferType(name string, values []any) FieldType {
	switch {
	case name == "id":
		return TypeID
	case strings.HasSuffix(name, "_ids"):
		return TypeReferenceArray
	case strings.HasSuffix(name, "_id"):
		return TypeReference
	}

	values = informative(values)
	if len(values) == 0 {
		return TypeString
	}

	switch {
	case every(values, isArray):
		return TypeArray
	case every(values, isBoolean):
		return TypeBoolean
	case every(values, isDate):
		return TypeDate
	case every(values, isString):
		return inferString(name, values)
	case every(values, isInteger), every(values, isNumeric):
		return TypeNumber
	case every(values, isObject):
		return TypeObject
	default:
		return TypeString
	}
}

func inferString(name string, values []any) FieldType {
	switch {
	case name == "email" || every(values, isEmail):
		return TypeEmail
	case name == "url" || every(values, isURL):
		if every(values, isImageURL) {
			return TypeImage
		}
		return TypeURL
	case every(values, isBooleanString):
		return TypeBoolean
	case every(values, isDateString):
		return TypeDate
	case every(values, isHTML):
		return TypeRichText
	case every(values, isInteger), every(values, isNumeric):
		return TypeNumber
	default:
		return TypeString
	}
}

func informative(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// InferFields infers one Field per field name found in records. The id
// field comes first and the others follow in name order.
func InferFields(records []model.Record) []Field {
	values := make(map[string][]any)
	for _, rec := range records {
		for name, v := range rec {
			values[name] = append(values[name], v)
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "id" || names[j] == "id" {
			return names[i] == "id"
		}
		return names[i] < names[j]
	})

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		f := Field{Name: name, Type: InferType(name, values[name])}
		if f.Type == TypeObject {
			f.Children = InferFields(nested(values[name]))
		}
		fields = append(fields, f)
	}
	return fields
}

func nested(values []any) []model.Record {
	out := make([]model.Record, 0, len(values))
	for _, v := range values {
		switch m := v.(type) {
		case map[string]any:
			out = append(out, m)
		case model.Record:
			out = append(out, m)
		}
	}
	return out
}
