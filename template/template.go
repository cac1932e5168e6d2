// Package template implements the placeholder language used by webhook
// definitions.
//
// A template is plain text containing {{identifier}} or {{{identifier}}}
// placeholders. Each placeholder is replaced by the stringified value of
// identifier in a flat context map; identifiers absent from the context
// become the empty string. There is no nesting, no expression syntax and no escaping.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeLayout renders time values as ISO-8601 UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// A third brace on both sides ({{{identifier}}}) is accepted as a synonym.
// An unbalanced extra brace is left in the output.
var placeholder = regexp.MustCompile(`\{\{(\{?)\s*([A-Za-z0-9_.\-]+)\s*\}\}(\}?)`)

// Compile substitutes every placeholder in tpl with its value from ctx.
func Compile(tpl string, ctx map[string]any) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}
	return placeholder.ReplaceAllStringFunc(tpl, func(match string) string {
		m := placeholder.FindStringSubmatch(match)
		open, key, closing := m[1], m[2], m[3]
		value := ""
		if v, ok := ctx[key]; ok {
			value = Stringify(v)
		}
		if open != "" && closing != "" {
			return value
		}
		return open + value + closing
	})
}

// HasPlaceholders reports whether s contains at least one placeholder.
func HasPlaceholders(s string) bool {
	return placeholder.MatchString(s)
}

// CompileObject returns a copy of obj with every string leaf compiled against
// ctx. Nested maps and slices are walked; other leaves and all keys are copied
// unchanged. A nil obj yields nil.
func CompileObject(obj map[string]any, ctx map[string]any) map[string]any {
	if obj == nil {
		return nil
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = compileValue(v, ctx)
	}
	return out
}

func compileValue(v any, ctx map[string]any) any {
	switch val := v.(type) {
	case string:
		return Compile(val, ctx)
	case map[string]any:
		return CompileObject(val, ctx)
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = Compile(s, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = compileValue(item, ctx)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = Compile(s, ctx)
		}
		return out
	default:
		return v
	}
}

// Stringify renders a context value the way it appears inside a compiled
// template.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32, int16, int8, uint, uint64, uint32, uint16, uint8:
		return fmt.Sprint(val)
	case time.Time:
		return val.UTC().Format(TimeLayout)
	case fmt.Stringer:
		return val.String()
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}
