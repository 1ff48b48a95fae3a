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

const mutateCmd = `curl -X POST 'https://api.example.com/api?params=%7B%22page%22%3A1%2C%22pageSize%22%3A10%2C%22filter%22%3A%7B%22id%22%3A1%7D%7D&q=a' -d '{"a":1,"b":{"c":2},"ids":[1,2,3],"on":true}'`

func mustParse(t *testing.T, cmd string) *RequestTemplate {
	t.Helper()
	tmpl, err := Parse(cmd)
	require.NoError(t, err)
	return tmpl
}

func paramsDoc(t *testing.T, tmpl *RequestTemplate) map[string]any {
	t.Helper()
	raw, ok := tmpl.Query.Get(ParamsKey)
	require.True(t, ok)
	doc, err := DecodeJSON([]byte(QueryParamDecode(raw)))
	require.NoError(t, err)
	return doc.(map[string]any)
}

func TestModifyBody(t *testing.T) {
	base := mustParse(t, mutateCmd)

	tests := []struct {
		name  string
		path  string
		value string
		check func(t *testing.T, body map[string]any)
	}{
		{"nested number keeps type", "b.c", "9", func(t *testing.T, body map[string]any) {
			assert.Equal(t, json.Number("9"), body["b"].(map[string]any)["c"])
		}},
		{"non numeric becomes string", "a", "hello", func(t *testing.T, body map[string]any) {
			assert.Equal(t, "hello", body["a"])
		}},
		{"top level number", "a", "42", func(t *testing.T, body map[string]any) {
			assert.Equal(t, json.Number("42"), body["a"])
		}},
		{"bool keeps type", "on", "false", func(t *testing.T, body map[string]any) {
			assert.Equal(t, false, body["on"])
		}},
		{"array element", "ids[1]", "99", func(t *testing.T, body map[string]any) {
			assert.Equal(t, []any{json.Number("1"), json.Number("99"), json.Number("3")}, body["ids"])
		}},
		{"new leaf in existing object", "b.d", "v", func(t *testing.T, body map[string]any) {
			assert.Equal(t, map[string]any{"c": json.Number("2"), "d": "v"}, body["b"])
		}},
		{"scalar intermediate replaced", "b.c.d", "v", func(t *testing.T, body map[string]any) {
			assert.Equal(t, map[string]any{"c": map[string]any{"d": "v"}}, body["b"])
		}},
		{"unknown key on POST goes to body", "newkey", "v", func(t *testing.T, body map[string]any) {
			assert.Equal(t, "v", body["newkey"])
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := base.Clone()
			got := Modify(base, tt.path, tt.value)
			tt.check(t, got.Body)
			assert.Equal(t, before, base, "base must not change")
		})
	}
}

func TestModifyParams(t *testing.T) {
	base := mustParse(t, mutateCmd)

	t.Run("paging field becomes int", func(t *testing.T) {
		got := Modify(base, "params.page", "5")
		doc := paramsDoc(t, got)
		assert.Equal(t, json.Number("5"), doc["page"])
		assert.Equal(t, 5, got.Body["page"], "mirror follows")

		raw, _ := got.Query.Get(ParamsKey)
		assert.Contains(t, QueryParamDecode(raw), `"page":5`)
		assert.Contains(t, got.FullURL(), "params=%7B")
	})

	t.Run("non numeric paging value stays string", func(t *testing.T) {
		got := Modify(base, "params.pageSize", "all")
		assert.Equal(t, "all", paramsDoc(t, got)["pageSize"])
	})

	t.Run("nested params field", func(t *testing.T) {
		got := Modify(base, "params.filter.id", "3")
		assert.Equal(t, map[string]any{"id": json.Number("3")}, paramsDoc(t, got)["filter"])
		assert.Equal(t, map[string]any{"id": json.Number("3")}, got.Body["filter"])
	})

	t.Run("dotted mirror path routes into params", func(t *testing.T) {
		got := Modify(base, "filter.id", "8")
		assert.Equal(t, map[string]any{"id": json.Number("8")}, paramsDoc(t, got)["filter"])
	})

	t.Run("bare mirror key found by query document scan", func(t *testing.T) {
		got := Modify(base, "page", "7")
		assert.Equal(t, json.Number("7"), paramsDoc(t, got)["page"])
		assert.Equal(t, json.Number("7"), got.Body["page"])
	})

	t.Run("mirrored fields never reach the wire body", func(t *testing.T) {
		got := Modify(base, "params.page", "2")
		body, err := got.EncodeBody()
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1,"b":{"c":2},"ids":[1,2,3],"on":true}`, string(body))
	})

	t.Run("missing params intermediate created", func(t *testing.T) {
		got := Modify(base, "params.sort.field", "name")
		assert.Equal(t, map[string]any{"field": "name"}, paramsDoc(t, got)["sort"])
	})

	t.Run("undecodable params leaves request unchanged", func(t *testing.T) {
		tmpl := NewRequestTemplate()
		tmpl.Query.Set(ParamsKey, "%7Bbad")
		got := Modify(tmpl, "params.page", "1")
		assert.Equal(t, tmpl, got)
	})
}

func TestModifyQuery(t *testing.T) {
	base := mustParse(t, `curl 'https://api.example.com/items?q=a&page=1'`)

	t.Run("existing key", func(t *testing.T) {
		got := Modify(base, "q", "hello world")
		v, _ := got.Query.Get("q")
		assert.Equal(t, "hello world", v)
		assert.Equal(t, "https://api.example.com/items?q=hello%20world&page=1", got.FullURL())
	})

	t.Run("unknown key on GET goes to query", func(t *testing.T) {
		got := Modify(base, "lang", "it")
		v, ok := got.Query.Get("lang")
		assert.True(t, ok)
		assert.Equal(t, "it", v)
		assert.Empty(t, got.Body)
	})

	t.Run("json query value is scanned", func(t *testing.T) {
		tmpl := NewRequestTemplate()
		tmpl.Query.Set("filter", `{"region":"BZ","size":10}`)
		got := Modify(tmpl, "size", "25")
		raw, _ := got.Query.Get("filter")
		assert.JSONEq(t, `{"region":"BZ","size":25}`, raw)
	})

	t.Run("json query value is encoded once on the wire", func(t *testing.T) {
		tmpl := mustParse(t, `curl 'https://api.example.com/items?filter=%7B%22size%22%3A10%7D'`)
		got := Modify(tmpl, "size", "25")
		assert.Equal(t, "https://api.example.com/items?filter=%7B%22size%22:25%7D", got.FullURL())

		u, err := got.ParsedURL()
		require.NoError(t, err)
		assert.Equal(t, `{"size":25}`, u.Query().Get("filter"))
	})

	t.Run("percent sign inside json query value survives", func(t *testing.T) {
		tmpl := NewRequestTemplate()
		tmpl.Query.Set("filter", `{"discount":"50%25","size":1}`)
		got := Modify(tmpl, "size", "2")
		raw, _ := got.Query.Get("filter")
		assert.JSONEq(t, `{"discount":"50%25","size":2}`, raw)
	})
}

func TestModifyNoOps(t *testing.T) {
	base := mustParse(t, mutateCmd)

	paths := []string{
		"ids[9]",
		"a[0]",
		"x.y",
		"",
		"b.new.deep",
		"b.c.d.e",
		"ids[-1]",
		"ids[x]",
		"b.c[-1]",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, base, Modify(base, path, "1"))
		})
	}
}

func TestModifyReturnsIndependentCopies(t *testing.T) {
	base := mustParse(t, mutateCmd)
	first := Modify(base, "b.c", "1")
	second := Modify(base, "b.c", "2")

	first.Body["b"].(map[string]any)["c"] = "changed"
	assert.Equal(t, json.Number("2"), second.Body["b"].(map[string]any)["c"])
	assert.Equal(t, json.Number("2"), base.Body["b"].(map[string]any)["c"])
}
