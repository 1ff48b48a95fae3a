// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/tidwall/gjson"
)

// JQPrefix marks a path as a jq expression instead of a dotted path.
const JQPrefix = "jq:"

// PathResolver reads the value at a path inside a decoded JSON tree.
type PathResolver interface {
	Resolve(doc any, path string) (any, bool)
}

// PathSegment is one step of a dotted/bracket path: a key optionally
// followed by array indexes, e.g. "items[0][2]".
type PathSegment struct {
	Key     string
	Indexes []int
}

// SplitPath breaks "a.b[1].c" into segments. Malformed brackets are kept as
// part of the key.
func SplitPath(path string) []PathSegment {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	segments := make([]PathSegment, 0, len(parts))
	for _, part := range parts {
		segments = append(segments, splitSegment(part))
	}
	return segments
}

func splitSegment(part string) PathSegment {
	open := strings.IndexByte(part, '[')
	if open < 0 || !strings.HasSuffix(part, "]") {
		return PathSegment{Key: part}
	}
	seg := PathSegment{Key: part[:open]}
	rest := part[open:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return PathSegment{Key: part}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return PathSegment{Key: part}
		}
		idx, err := strconv.Atoi(rest[1:end])
		if err != nil || idx < 0 {
			return PathSegment{Key: part}
		}
		seg.Indexes = append(seg.Indexes, idx)
		rest = rest[end+1:]
	}
	return seg
}

// Resolve walks doc along a dotted/bracket path. A leading "jq:" switches to
// a jq expression evaluated with gojq; the first emitted value is returned.
func Resolve(doc any, path string) (any, bool) {
	return defaultResolver.Resolve(doc, path)
}

var defaultResolver = NewResolver()

// Resolver caches compiled jq expressions across calls.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]*CompiledJQ
}

func NewResolver() *Resolver {
	return &Resolver{cache: map[string]*CompiledJQ{}}
}

func (r *Resolver) Resolve(doc any, path string) (any, bool) {
	if expr, ok := strings.CutPrefix(path, JQPrefix); ok {
		code, err := r.compiled(expr)
		if err != nil {
			return nil, false
		}
		v, err := code.RunFirst(doc)
		if err != nil || v == nil {
			return nil, false
		}
		return v, true
	}
	return resolveSegments(doc, SplitPath(path))
}

func (r *Resolver) compiled(expr string) (*CompiledJQ, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache[expr]; ok {
		return c, nil
	}
	c, err := CompileJQ(expr)
	if err != nil {
		return nil, err
	}
	r.cache[expr] = c
	return c, nil
}

func resolveSegments(doc any, segments []PathSegment) (any, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	current := doc
	for _, seg := range segments {
		if seg.Key != "" {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = obj[seg.Key]
			if !ok {
				return nil, false
			}
		}
		for _, idx := range seg.Indexes {
			arr, ok := current.([]any)
			if !ok || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// ResolveBytes looks a dotted/bracket path up in raw JSON without decoding
// the whole document.
func ResolveBytes(raw []byte, path string) (any, bool) {
	if !gjson.ValidBytes(raw) {
		return nil, false
	}
	res := gjson.GetBytes(raw, ToGJSONPath(path))
	if !res.Exists() || res.Type == gjson.Null {
		return nil, false
	}
	return res.Value(), true
}

// ToGJSONPath rewrites "a.b[1]" into gjson's "a.b.1" syntax, escaping keys.
func ToGJSONPath(path string) string {
	var parts []string
	for _, seg := range SplitPath(path) {
		if seg.Key != "" {
			parts = append(parts, gjson.Escape(seg.Key))
		}
		for _, idx := range seg.Indexes {
			parts = append(parts, strconv.Itoa(idx))
		}
	}
	return strings.Join(parts, ".")
}

// CompiledJQ holds a pre-compiled jq expression.
type CompiledJQ struct {
	Code       *gojq.Code
	Expression string
}

func CompileJQ(expression string) (*CompiledJQ, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression '%s': %w", expression, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq expression '%s': %w", expression, err)
	}
	return &CompiledJQ{Code: code, Expression: expression}, nil
}

// RunFirst executes the expression and returns its first result.
// Input is deep copied and normalized since gojq rejects json.Number.
func (c *CompiledJQ) RunFirst(input any) (any, error) {
	if c == nil || c.Code == nil {
		return input, nil
	}
	iter := c.Code.Run(normalizeForJQ(input))
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("jq error in '%s': %w", c.Expression, err)
	}
	return v, nil
}

func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			if i >= math.MinInt && i <= math.MaxInt {
				return int(i)
			}
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = normalizeForJQ(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = normalizeForJQ(v)
		}
		return result
	default:
		return val
	}
}

// DecodeJSON decodes a single JSON document keeping numbers as json.Number so
// large identifiers survive a round trip.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON document")
	}
	return v, nil
}

// EncodeCompactJSON writes v without whitespace and without HTML escaping.
func EncodeCompactJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// ScalarString renders a JSON scalar for display and parameter listings.
// Containers and null report false.
func ScalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}
