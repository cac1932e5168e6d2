package template_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/sparkcloud/template"
)

func TestCompile(t *testing.T) {
	ctx := map[string]any{
		"t":        "123",
		"g":        "foo bar",
		"n":        123.0,
		"f":        1.5,
		"ok":       true,
		"nothing":  nil,
		"nested":   map[string]any{"a": 1.0},
		"DEVICE":   "D1",
		"dash-key": "x",
	}

	tests := []struct {
		name string
		tpl  string
		want string
	}{
		{"no placeholders", "https://test.com/", "https://test.com/"},
		{"single", "{{t}}", "123"},
		{"multiple", "https://test.com/{{t}}/{{g}}", "https://test.com/123/foo bar"},
		{"repeated", "{{t}}-{{t}}", "123-123"},
		{"integral float", "v={{n}}", "v=123"},
		{"fractional float", "v={{f}}", "v=1.5"},
		{"bool", "{{ok}}", "true"},
		{"nil value", "[{{nothing}}]", "[]"},
		{"missing key", "a{{missing}}b", "ab"},
		{"whitespace in braces", "{{ t }}", "123"},
		{"object value", "{{nested}}", `{"a":1}`},
		{"dashed identifier", "{{dash-key}}", "x"},
		{"upper case", "hook-response/pour-{{DEVICE}}", "hook-response/pour-D1"},
		{"single braces untouched", "{t}", "{t}"},
		{"unterminated untouched", "{{t", "{{t"},
		{"expression not supported", "{{t + g}}", "{{t + g}}"},
		{"triple braces", "{{{t}}}", "123"},
		{"triple braces inline", "pre{{{t}}}post", "pre123post"},
		{"triple braces with whitespace", "{{{ g }}}", "foo bar"},
		{"triple braces missing key", "a{{{missing}}}b", "ab"},
		{"mixed braces", "{{t}}/{{{g}}}", "123/foo bar"},
		{"unbalanced open brace kept", "{{{t}}", "{123"},
		{"unbalanced close brace kept", "{{t}}}", "123}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, template.Compile(tt.tpl, ctx))
		})
	}
}

func TestCompileNilContext(t *testing.T) {
	assert.Equal(t, "a-b", template.Compile("a-{{x}}b", nil))
}

func TestCompileObject(t *testing.T) {
	ctx := map[string]any{"t": "123", "g": "foobar"}
	obj := map[string]any{
		"testValue":   "{{t}}",
		"{{g}}":       "key is not templated",
		"count":       7.0,
		"enabled":     false,
		"nested":      map[string]any{"inner": "{{g}}", "n": 1.0},
		"list":        []any{"{{t}}", 2.0, map[string]any{"deep": "{{g}}"}},
		"plainString": "literal",
	}

	got := template.CompileObject(obj, ctx)

	assert.Equal(t, "123", got["testValue"])
	assert.Equal(t, "key is not templated", got["{{g}}"])
	assert.Equal(t, 7.0, got["count"])
	assert.Equal(t, false, got["enabled"])
	assert.Equal(t, map[string]any{"inner": "foobar", "n": 1.0}, got["nested"])
	assert.Equal(t, []any{"123", 2.0, map[string]any{"deep": "foobar"}}, got["list"])
	assert.Equal(t, "literal", got["plainString"])

	// Source object is left untouched.
	assert.Equal(t, "{{t}}", obj["testValue"])
}

func TestCompileObjectNil(t *testing.T) {
	assert.Nil(t, template.CompileObject(nil, map[string]any{"a": 1}))
}

func TestHasPlaceholders(t *testing.T) {
	assert.True(t, template.HasPlaceholders("x {{y}}"))
	assert.False(t, template.HasPlaceholders("x {y}"))
	assert.False(t, template.HasPlaceholders(""))
}

func TestStringifyTime(t *testing.T) {
	ts := time.Date(2017, 3, 4, 5, 6, 7, 8_000_000, time.FixedZone("x", 3600))
	assert.Equal(t, "2017-03-04T04:06:07.008Z", template.Stringify(ts))
}
