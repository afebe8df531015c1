package inference

import (
	"encoding/json"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/listctl/model"
)

var (
	openTagRegexp  = regexp.MustCompile(`(?i)<([A-Z][A-Z0-9]*)\b[^>]*>`)
	urlRegexp      = regexp.MustCompile(`(?i)http(s*)://.*`)
	imageURLRegexp = regexp.MustCompile(`(?i)^http(s*)://.*\.(jpeg|jpg|jfif|pjpeg|pjp|png|svg|gif|webp|apng|bmp|ico|cur|tif|tiff)`)
	intPrefix      = regexp.MustCompile(`^\s*[+-]?\d`)
)

// isoLayouts are the ISO 8601 forms accepted as date strings. A bare year
// is not accepted so that numeric strings stay numbers.
var isoLayouts = []string{
	"2006-01",
	"2006-01-02",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
}

// usLayouts are MM/dd/yyyy and MM/dd/yy.
var usLayouts = []string{"01/02/2006", "01/02/06"}

func every(values []any, pred func(any) bool) bool {
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}

// isNumeric accepts finite numbers and strings that parse entirely as one.
func isNumeric(v any) bool {
	switch x := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
	case json.Number:
		f, err := x.Float64()
		return err == nil && !math.IsInf(f, 0)
	case bool:
		return false
	}
	f, ok := toFloat(v)
	return ok && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// isInteger accepts integral numbers and strings starting with an integer.
func isInteger(v any) bool {
	if s, ok := v.(string); ok {
		return intPrefix.MatchString(s)
	}
	if n, ok := v.(json.Number); ok {
		return intPrefix.MatchString(n.String())
	}
	f, ok := toFloat(v)
	return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
}

func isBoolean(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isBooleanString(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	s = strings.ToLower(s)
	return s == "true" || s == "false"
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

// isHTML looks for an element with a matching closing tag on the same
// line, as in "<p>text</p>".
func isHTML(v any) bool {
	s, _ := v.(string)
	for _, line := range strings.Split(s, "\n") {
		for _, m := range openTagRegexp.FindAllStringSubmatchIndex(line, -1) {
			closing := "</" + strings.ToLower(line[m[2]:m[3]]) + ">"
			if strings.Contains(strings.ToLower(line[m[1]:]), closing) {
				return true
			}
		}
	}
	return false
}

func isURL(v any) bool {
	s, _ := v.(string)
	return urlRegexp.MatchString(s)
}

func isImageURL(v any) bool {
	s, _ := v.(string)
	return imageURLRegexp.MatchString(s)
}

func isEmail(v any) bool {
	s, _ := v.(string)
	return strings.Contains(s, "@")
}

func isArray(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func isDate(v any) bool {
	switch v.(type) {
	case time.Time, *time.Time:
		return true
	}
	return false
}

func isDateString(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, layout := range usLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	for _, layout := range isoLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isObject(v any) bool {
	switch v.(type) {
	case map[string]any, model.Record:
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	id, ok := model.NewIdentifier(v)
	if !ok || !id.IsNumeric() {
		return 0, false
	}
	f, err := strconv.ParseFloat(id.String(), 64)
	return f, err == nil
}
