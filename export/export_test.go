// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"testing"

	sweep "github.com/noi-techpark/go-sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	doc, err := sweep.DecodeJSON([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestRowsToCSV(t *testing.T) {
	successes := []sweep.Success{
		{ParamValue: "v1", Content: decode(t, `{"data":{"items":[{"a":1},{"a":2,"b":"x"}]}}`)},
		{ParamValue: "v2", Content: decode(t, `{"data":{"items":{"a":3}}}`)},
		{ParamValue: "file", Filename: "export_file.xlsx"},
		{ParamValue: "text", Content: "not json"},
		{ParamValue: "other", Content: decode(t, `{"meta":{}}`)},
	}

	rows, err := Rows(successes, "data.items", nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	out, err := CSV{}.ToTabular(rows)
	require.NoError(t, err)
	assert.Equal(t, "param_value,a,b\nv1,1,\nv1,2,x\nv2,3,\n", string(out))
}

func TestRowsWithoutPath(t *testing.T) {
	successes := []sweep.Success{
		{ParamValue: "lists", Content: decode(t, `{"z":[{"k":1}],"a":[{"k":2},{"k":3}],"n":5}`)},
		{ParamValue: "flat", Content: decode(t, `{"k":4,"nested":{"x":true}}`)},
		{ParamValue: "array", Content: decode(t, `[1,"two"]`)},
	}

	rows, err := Rows(successes, "", nil)
	require.NoError(t, err)

	out, err := CSV{}.ToTabular(rows)
	require.NoError(t, err)
	assert.Equal(t,
		"param_value,k,nested,value\n"+
			"lists,2,,\n"+
			"lists,3,,\n"+
			`flat,4,"{""x"":true}",`+"\n"+
			"array,,,1\n"+
			"array,,,two\n",
		string(out))
}

func TestRowsNoMatch(t *testing.T) {
	successes := []sweep.Success{{ParamValue: "v", Content: decode(t, `{"a":1}`)}}

	_, err := Rows(successes, "data.items", nil)
	assert.True(t, errors.Is(err, ErrNoRows))

	rows, err := Rows(nil, "", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRowsWithJQ(t *testing.T) {
	successes := []sweep.Success{{ParamValue: "v", Content: decode(t, `{"items":[{"id":1,"ok":true},{"id":2,"ok":false}]}`)}}

	rows, err := Rows(successes, "jq:[.items[] | select(.ok)]", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0]["id"])
	assert.Equal(t, "v", rows[0][ParamColumn])
}

func TestDocumentRows(t *testing.T) {
	t.Run("list of documents with path", func(t *testing.T) {
		doc := decode(t, `[{"data":[{"a":1}]},{"data":[{"a":2},{"a":3}]},{"other":1}]`)
		rows, err := DocumentRows(doc, "data", nil)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("single document", func(t *testing.T) {
		rows, err := DocumentRows(decode(t, `{"rows":[{"a":1}]}`), "", nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.NotContains(t, rows[0], ParamColumn)
	})

	t.Run("scalar document", func(t *testing.T) {
		_, err := DocumentRows(decode(t, `42`), "", nil)
		assert.Error(t, err)
	})

	t.Run("path not found", func(t *testing.T) {
		_, err := DocumentRows(decode(t, `{"rows":[]}`), "missing", nil)
		assert.ErrorIs(t, err, ErrNoRows)
	})
}

func TestCSVFixedColumns(t *testing.T) {
	rows := []Row{{"b": "2", "a": nil, "c": "ignored"}}
	out, err := CSV{Columns: []string{"b", "a"}}.ToTabular(rows)
	require.NoError(t, err)
	assert.Equal(t, "b,a\n2,\n", string(out))
}

func TestParseMultiJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		count int // 0 means a single document
	}{
		{"single document", `{"a":[1,2]}`, 0},
		{"single document over lines", "{\n  \"a\": 1\n}\n", 0},
		{"one per line", "{\"a\":1}\n{\"a\":2}\n\n{\"a\":3}\n", 3},
		{"dash separated", "{\n\"a\":1\n}\n---\n{\n\"a\":2\n}\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseMultiJSON(tt.input)
			require.NoError(t, err)
			if tt.count == 0 {
				assert.IsType(t, map[string]any{}, doc)
				return
			}
			list, ok := doc.([]any)
			require.True(t, ok)
			assert.Len(t, list, tt.count)
		})
	}

	_, err := ParseMultiJSON("{not json")
	assert.EqualError(t, err, "unrecognised JSON format")
}
