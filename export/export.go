// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export flattens response documents into rows and writes them as
// tables.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strings"

	sweep "github.com/noi-techpark/go-sweep"
)

// ParamColumn tags each row with the value that produced it.
const ParamColumn = "param_value"

var ErrNoRows = errors.New("no rows found at path")

type Row = map[string]any

// Tabular renders rows into a table format.
type Tabular interface {
	ToTabular(rows []Row) ([]byte, error)
}

// Rows extracts rows from the JSON content of every success. Downloads and
// non-JSON bodies are skipped. When path is set and nothing matches in any
// success, ErrNoRows is returned.
func Rows(successes []sweep.Success, path string, resolver sweep.PathResolver) ([]Row, error) {
	if resolver == nil {
		resolver = sweep.NewResolver()
	}
	var rows []Row
	for _, s := range successes {
		switch s.Content.(type) {
		case map[string]any, []any:
		default:
			continue
		}
		for _, r := range extract(s.Content, path, resolver) {
			r[ParamColumn] = s.ParamValue
			rows = append(rows, r)
		}
	}
	if path != "" && len(rows) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoRows, path)
	}
	return rows, nil
}

// DocumentRows extracts rows from a standalone document. A list document is
// treated as many documents when path is set.
func DocumentRows(doc any, path string, resolver sweep.PathResolver) ([]Row, error) {
	if resolver == nil {
		resolver = sweep.NewResolver()
	}
	var rows []Row
	if list, ok := doc.([]any); ok && path != "" {
		for _, item := range list {
			rows = append(rows, extract(item, path, resolver)...)
		}
	} else {
		switch doc.(type) {
		case map[string]any, []any:
			rows = extract(doc, path, resolver)
		default:
			return nil, fmt.Errorf("unsupported document type %T", doc)
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoRows, path)
	}
	return rows, nil
}

// extract returns the rows of one document. Without a path the first
// list-valued field (by key) is used, otherwise the document itself.
func extract(doc any, path string, resolver sweep.PathResolver) []Row {
	target := doc
	if path != "" {
		v, ok := resolver.Resolve(doc, path)
		if !ok {
			return nil
		}
		target = v
	} else if obj, ok := doc.(map[string]any); ok {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if list, ok := obj[k].([]any); ok {
				target = list
				break
			}
		}
	}

	switch v := target.(type) {
	case []any:
		rows := make([]Row, 0, len(v))
		for _, item := range v {
			rows = append(rows, toRow(item))
		}
		return rows
	default:
		return []Row{toRow(v)}
	}
}

func toRow(v any) Row {
	if obj, ok := v.(map[string]any); ok {
		row := make(Row, len(obj)+1)
		for k, val := range obj {
			row[k] = val
		}
		return row
	}
	return Row{"value": v}
}

// CSV writes rows as comma separated values. The header is ParamColumn,
// when present, followed by the sorted union of all other columns unless
// Columns fixes the order.
type CSV struct {
	Columns []string
}

func (c CSV) ToTabular(rows []Row) ([]byte, error) {
	columns := c.Columns
	if len(columns) == 0 {
		columns = unionColumns(rows)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			cell, err := formatCell(row[col])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			record[i] = cell
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unionColumns(rows []Row) []string {
	seen := map[string]bool{}
	hasParam := false
	var cols []string
	for _, row := range rows {
		for k := range row {
			if k == ParamColumn {
				hasParam = true
				continue
			}
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	if hasParam {
		cols = append([]string{ParamColumn}, cols...)
	}
	return cols
}

func formatCell(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	if s, ok := sweep.ScalarString(v); ok {
		return s, nil
	}
	return sweep.EncodeCompactJSON(v)
}

// ParseMultiJSON accepts a single JSON document, one document per line, or
// documents separated by "---". Several documents are returned as a list.
func ParseMultiJSON(text string) (any, error) {
	text = strings.TrimSpace(text)
	if doc, err := sweep.DecodeJSON([]byte(text)); err == nil {
		return doc, nil
	}

	if docs, ok := decodeAll(strings.Split(text, "\n")); ok {
		return docs, nil
	}
	if docs, ok := decodeAll(strings.Split(text, "---")); ok {
		return docs, nil
	}
	return nil, errors.New("unrecognised JSON format")
}

func decodeAll(parts []string) ([]any, bool) {
	var docs []any
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		doc, err := sweep.DecodeJSON([]byte(p))
		if err != nil {
			return nil, false
		}
		docs = append(docs, doc)
	}
	return docs, len(docs) > 0
}
