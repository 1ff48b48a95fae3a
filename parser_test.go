// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	sweep_testing "github.com/noi-techpark/go-sweep/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasicGet(t *testing.T) {
	cmd := `curl 'https://api.example.com/v1/items?page=1&q=hello%20world' -H 'Accept: application/json' -H 'X-Token:  abc ' -b 'session=xyz' --compressed`

	tmpl, err := Parse(cmd)
	require.NoError(t, err)

	assert.Equal(t, MethodGet, tmpl.Method)
	assert.Equal(t, "https://api.example.com/v1/items", tmpl.URL)
	assert.Equal(t, []string{"page", "q"}, tmpl.Query.Keys())
	q, _ := tmpl.Query.Get("q")
	assert.Equal(t, "hello world", q)
	assert.Equal(t, Headers{
		{Name: "Accept", Value: "application/json"},
		{Name: "X-Token", Value: "abc"},
		{Name: "Cookie", Value: "session=xyz"},
	}, tmpl.Headers)
	assert.Empty(t, tmpl.Body)
	assert.Equal(t, DefaultTimeoutSeconds, tmpl.TimeoutSeconds)
	assert.False(t, tmpl.Download)
	assert.Equal(t, "https://api.example.com/v1/items?page=1&q=hello%20world", tmpl.FullURL())
}

func TestParseMethodAndBody(t *testing.T) {
	tests := []struct {
		name   string
		cmd    string
		method Method
		body   map[string]any
	}{
		{
			name:   "explicit method is upper cased",
			cmd:    `curl -X post https://api.example.com/search -H "Content-Type: application/json" --data-raw '{"filter":{"id":123,"active":true}}'`,
			method: MethodPost,
			body:   map[string]any{"filter": map[string]any{"id": json.Number("123"), "active": true}},
		},
		{
			name:   "attached short option",
			cmd:    `curl -XPUT https://api.example.com/items/1 -d '{"a":1}'`,
			method: MethodPut,
			body:   map[string]any{"a": json.Number("1")},
		},
		{
			name:   "first method wins",
			cmd:    `curl -X PATCH -X DELETE https://api.example.com/items/1`,
			method: MethodPatch,
			body:   map[string]any{},
		},
		{
			name:   "body without method stays GET",
			cmd:    `curl https://api.example.com/items --data '{"a":"x"}'`,
			method: MethodGet,
			body:   map[string]any{"a": "x"},
		},
		{
			name:   "inline long option value",
			cmd:    `curl https://api.example.com/items --data-binary='{"n":[1,2]}' --request=POST`,
			method: MethodPost,
			body:   map[string]any{"n": []any{json.Number("1"), json.Number("2")}},
		},
		{
			name:   "first body wins",
			cmd:    `curl https://api.example.com/items -d '{"a":1}' -d '{"b":2}'`,
			method: MethodGet,
			body:   map[string]any{"a": json.Number("1")},
		},
		{
			name:   "ansi c quoting",
			cmd:    `curl https://api.example.com/items -X POST --data-raw $'{"name":"it\'s"}'`,
			method: MethodPost,
			body:   map[string]any{"name": "it's"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.method, tmpl.Method)
			assert.Equal(t, tt.body, tmpl.Body)
		})
	}
}

func TestParseKeepsShellExpansionsLiteral(t *testing.T) {
	tests := []struct {
		name     string
		cmd      string
		expected map[string]any
	}{
		{
			name:     "dollar digits in double quotes",
			cmd:      `curl https://api.example.com/items -d "{\"price\":\"$100\"}"`,
			expected: map[string]any{"price": "$100"},
		},
		{
			name:     "variable in double quotes",
			cmd:      `curl https://api.example.com/items -d "{\"dir\":\"$HOME\",\"ref\":\"${REF}\"}"`,
			expected: map[string]any{"dir": "$HOME", "ref": "${REF}"},
		},
		{
			name:     "command substitution",
			cmd:      `curl https://api.example.com/items -d "{\"at\":\"$(date)\"}"`,
			expected: map[string]any{"at": "$(date)"},
		},
		{
			name:     "single quotes untouched",
			cmd:      `curl https://api.example.com/items -d '{"price":"$100"}'`,
			expected: map[string]any{"price": "$100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tmpl.Body)
		})
	}

	tmpl, err := Parse(`curl "https://api.example.com/$PATH_PART?q=$Q"`)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/$PATH_PART", tmpl.URL)
	q, _ := tmpl.Query.Get("q")
	assert.Equal(t, "$Q", q)
}

func TestParseURLForms(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		url  string
	}{
		{"url flag", `curl --url https://api.example.com/a`, "https://api.example.com/a"},
		{"url flag inline", `curl --url=https://api.example.com/b`, "https://api.example.com/b"},
		{"boolean flags before url", `curl -s -L -k https://api.example.com/c`, "https://api.example.com/c"},
		{"double quoted", `curl "https://api.example.com/d"`, "https://api.example.com/d"},
		{"curl after other command", `cd /tmp && curl https://api.example.com/e`, "https://api.example.com/e"},
		{"first positional wins", `curl https://api.example.com/f https://api.example.com/g`, "https://api.example.com/f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.url, tmpl.URL)
		})
	}
}

func TestParseParamsQuery(t *testing.T) {
	cmd := `curl 'https://api.example.com/list?params=%7B%22size%22%3A20%2C%22page%22%3A1%7D&t=1' -X POST -d '{"size":5,"name":"x"}'`

	tmpl, err := Parse(cmd)
	require.NoError(t, err)

	raw, ok := tmpl.Query.Get(ParamsKey)
	require.True(t, ok)
	assert.Equal(t, "%7B%22size%22%3A20%2C%22page%22%3A1%7D", raw, "params stays encoded")

	assert.Equal(t, []string{"page"}, tmpl.ParamsFields)
	assert.Equal(t, json.Number("1"), tmpl.Body["page"])
	assert.Equal(t, json.Number("5"), tmpl.Body["size"], "body fields are not overwritten")

	body, err := tmpl.EncodeBody()
	require.NoError(t, err)
	assert.JSONEq(t, `{"size":5,"name":"x"}`, string(body))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		kind error
	}{
		{"malformed body", `curl https://api.example.com -d '{bad'`, ErrBodyDecode},
		{"body is not an object", `curl https://api.example.com -d '[1,2]'`, ErrBodyDecode},
		{"malformed params", `curl 'https://api.example.com?params=%7Bbad'`, ErrBodyDecode},
		{"no url", `curl -H 'Accept: application/json'`, ErrURLMissing},
		{"empty input", ``, ErrURLMissing},
		{"unterminated quote", `curl 'https://api.example.com`, ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse(tt.cmd)
			require.Error(t, err)
			assert.Nil(t, tmpl)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
		})
	}

	t.Run("fragment is reported", func(t *testing.T) {
		_, err := Parse(`curl https://api.example.com -d '{bad'`)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "{bad", pe.Fragment)
		assert.Contains(t, err.Error(), "{bad")
	})
}

func TestParseContinuations(t *testing.T) {
	cmd := "curl https://api.example.com/a \\\n  -H 'Accept: text/plain' \\\r\n  -d '{\"k\":\"v\"}'"

	tmpl, err := Parse(cmd)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/a", tmpl.URL)
	v, _ := tmpl.Headers.Get("accept")
	assert.Equal(t, "text/plain", v)
	assert.Equal(t, map[string]any{"k": "v"}, tmpl.Body)
}

func TestParseDownloadHeuristic(t *testing.T) {
	tests := []struct {
		url      string
		download bool
		ext      string
	}{
		{"https://api.example.com/report/export?id=1", true, ".xlsx"},
		{"https://api.example.com/report?format=EXPORT", true, ".xlsx"},
		{"https://api.example.com/files/download/1", true, ".bin"},
		{"https://api.example.com/items", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			tmpl, err := Parse("curl '" + tt.url + "'")
			require.NoError(t, err)
			assert.Equal(t, tt.download, tmpl.Download)
			assert.Equal(t, tt.ext, tmpl.FileExtension)
		})
	}
}

func TestParseAuxiliaryFlags(t *testing.T) {
	tmpl, err := Parse(`curl https://api.example.com -u user:pass -A 'sweep/1.0' -e https://ref.example.com -m 2.5`)
	require.NoError(t, err)

	v, _ := tmpl.Headers.Get("Authorization")
	assert.Equal(t, "Basic dXNlcjpwYXNz", v)
	v, _ = tmpl.Headers.Get("User-Agent")
	assert.Equal(t, "sweep/1.0", v)
	v, _ = tmpl.Headers.Get("Referer")
	assert.Equal(t, "https://ref.example.com", v)
	assert.Equal(t, 3, tmpl.TimeoutSeconds)
}

func TestParseIsDeterministic(t *testing.T) {
	cmd := `curl 'https://api.example.com/list?params=%7B%22z%22%3A1%2C%22a%22%3A2%2C%22m%22%3A3%7D' -H 'A: 1' -d '{"x":{"y":[1,{"z":true}]}}'`

	first, err := Parse(cmd)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Parse(cmd)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []string{"a", "m", "z"}, first.ParamsFields)
}

func TestParseFixtures(t *testing.T) {
	for _, name := range []string{"search", "windows"} {
		t.Run(name, func(t *testing.T) {
			cmd, err := sweep_testing.LoadInputData(filepath.Join("testdata", "parser", name+".curl"))
			require.NoError(t, err)

			tmpl, err := Parse(cmd)
			require.NoError(t, err)

			var expected Parameters
			require.NoError(t, sweep_testing.LoadOutput(&expected, filepath.Join("testdata", "parser", name+".params.json")))
			assert.Equal(t, expected, ExtractParameters(tmpl))
		})
	}
}
