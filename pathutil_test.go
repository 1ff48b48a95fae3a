// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resolveDoc = `{
	"data": {"items": [{"id": 1}, {"id": 2, "tags": ["a", "b"]}], "total": 12345678901234567890},
	"empty": null,
	"grid": [[1, 2], [3, 4]],
	"flag": false
}`

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path     string
		expected []PathSegment
	}{
		{"", nil},
		{"a", []PathSegment{{Key: "a"}}},
		{"a.b[1].c", []PathSegment{{Key: "a"}, {Key: "b", Indexes: []int{1}}, {Key: "c"}}},
		{"grid[1][0]", []PathSegment{{Key: "grid", Indexes: []int{1, 0}}}},
		{"a[x]", []PathSegment{{Key: "a[x]"}}},
		{"a[-1]", []PathSegment{{Key: "a[-1]"}}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitPath(tt.path))
		})
	}
}

func TestResolve(t *testing.T) {
	doc, err := DecodeJSON([]byte(resolveDoc))
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		expected any
		found    bool
	}{
		{"nested index", "data.items[1].id", json.Number("2"), true},
		{"big number kept exact", "data.total", json.Number("12345678901234567890"), true},
		{"double index", "grid[1][0]", json.Number("3"), true},
		{"false is a value", "flag", false, true},
		{"null is absent", "empty", nil, false},
		{"missing key", "data.missing", nil, false},
		{"index out of range", "data.items[5]", nil, false},
		{"index into object", "data[0]", nil, false},
		{"jq expression", "jq:.data.items | length", 2, true},
		{"jq select", `jq:.data.items[] | select(.id == 2) | .tags[0]`, "a", true},
		{"jq no output", "jq:empty", nil, false},
		{"invalid jq", "jq:.[", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := Resolve(doc, tt.path)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestResolverCachesCompiledJQ(t *testing.T) {
	r := NewResolver()
	doc := map[string]any{"a": json.Number("1")}

	for i := 0; i < 3; i++ {
		v, ok := r.Resolve(doc, "jq:.a + 1")
		require.True(t, ok)
		assert.Equal(t, 2, v)
	}
	assert.Len(t, r.cache, 1)
}

func TestResolveBytes(t *testing.T) {
	raw := []byte(resolveDoc)

	v, ok := ResolveBytes(raw, "data.items[1].tags[1]")
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	v, ok = ResolveBytes(raw, "data.items[0].id")
	assert.True(t, ok)
	assert.Equal(t, float64(1), v)

	_, ok = ResolveBytes(raw, "empty")
	assert.False(t, ok)

	_, ok = ResolveBytes([]byte("{not json"), "a")
	assert.False(t, ok)
}

func TestToGJSONPath(t *testing.T) {
	assert.Equal(t, "a.b.1.c", ToGJSONPath("a.b[1].c"))
	assert.Equal(t, "grid.1.0", ToGJSONPath("grid[1][0]"))
	assert.Equal(t, `a\*b`, ToGJSONPath("a*b"))
}

func TestDecodeJSON(t *testing.T) {
	t.Run("numbers stay json.Number", func(t *testing.T) {
		v, err := DecodeJSON([]byte(`{"n": 1.50}`))
		require.NoError(t, err)
		assert.Equal(t, json.Number("1.50"), v.(map[string]any)["n"])
	})

	t.Run("trailing whitespace allowed", func(t *testing.T) {
		_, err := DecodeJSON([]byte("[1]\n\n"))
		assert.NoError(t, err)
	})

	t.Run("trailing document rejected", func(t *testing.T) {
		_, err := DecodeJSON([]byte(`{"a":1} {"b":2}`))
		assert.Error(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := DecodeJSON([]byte(`{"a":`))
		assert.Error(t, err)
	})
}

func TestEncodeCompactJSON(t *testing.T) {
	s, err := EncodeCompactJSON(map[string]any{"a": "<b>", "n": json.Number("12345678901234567890")})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<b>","n":12345678901234567890}`, s)
}

func TestScalarString(t *testing.T) {
	tests := []struct {
		input    any
		expected string
		ok       bool
	}{
		{"x", "x", true},
		{json.Number("1e3"), "1e3", true},
		{float64(2.5), "2.5", true},
		{7, "7", true},
		{int64(-3), "-3", true},
		{true, "true", true},
		{nil, "", false},
		{map[string]any{}, "", false},
		{[]any{1}, "", false},
	}

	for _, tt := range tests {
		s, ok := ScalarString(tt.input)
		assert.Equal(t, tt.ok, ok, "%#v", tt.input)
		assert.Equal(t, tt.expected, s, "%#v", tt.input)
	}
}
