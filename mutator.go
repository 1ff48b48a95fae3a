// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PagingFields are coerced to integers when set inside the ParamsKey document.
var PagingFields = map[string]bool{
	"pageIndex": true,
	"pageSize":  true,
	"page":      true,
	"pageNo":    true,
	"pageNum":   true,
	"limit":     true,
	"offset":    true,
}

var jsonNumberRe = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][+-]?\d+)?$`)

// MutationDecodeError reports an embedded JSON query value that could not be
// decoded while applying a mutation. The template is left unchanged.
type MutationDecodeError struct {
	QueryKey string
	Err      error
}

func (e *MutationDecodeError) Error() string {
	return fmt.Sprintf("cannot decode JSON in query key %q: %v", e.QueryKey, e.Err)
}

func (e *MutationDecodeError) Unwrap() error {
	return e.Err
}

// Mutator produces request variants. It never modifies the base template.
type Mutator struct {
	logger Logger
}

func NewMutator() *Mutator {
	return &Mutator{logger: NewNoopLogger()}
}

func (m *Mutator) SetLogger(logger Logger) {
	m.logger = logger
}

// Modify uses a mutator with a noop logger.
func Modify(base *RequestTemplate, path, value string) *RequestTemplate {
	return NewMutator().Modify(base, path, value)
}

// Modify returns a deep copy of base with the parameter at path set to value.
//
// Existing numeric and boolean leaves keep their JSON type when value parses
// as that type; everything else is stored as a string.
func (m *Mutator) Modify(base *RequestTemplate, path, value string) *RequestTemplate {
	t := base.Clone()
	segments := SplitPath(path)
	if len(segments) == 0 {
		return t
	}
	if hasMalformedIndex(segments) {
		m.logger.Debug("[Mutate] %s: invalid array index, request unchanged", path)
		return t
	}

	if len(segments) > 1 && segments[0].Key == ParamsKey && len(segments[0].Indexes) == 0 {
		m.setInParams(t, segments[1:], value)
		return t
	}

	first := segments[0]
	if t.IsParamsField(first.Key) && (len(segments) > 1 || len(first.Indexes) > 0) {
		m.setInParams(t, segments, value)
		return t
	}

	if len(segments) > 1 {
		if _, ok := t.Body[first.Key]; !ok {
			m.logger.Debug("[Mutate] %s: %q is not a body key, request unchanged", path, first.Key)
			return t
		}
		if !setPath(t.Body, segments, value, false, false) {
			m.logger.Debug("[Mutate] %s: no such body field, request unchanged", path)
		}
		return t
	}

	if len(first.Indexes) > 0 {
		if !setPath(t.Body, segments, value, false, false) {
			m.logger.Debug("[Mutate] %s: no such array element, request unchanged", path)
		}
		return t
	}

	if _, ok := t.Query.Get(path); ok {
		t.Query.Set(path, value)
		return t
	}
	if existing, ok := t.Body[path]; ok && !t.IsParamsField(path) {
		t.Body[path] = coerceLike(existing, value)
		return t
	}
	if m.setInQueryDocument(t, path, value) {
		return t
	}
	if t.Method.PrefersQuery() {
		t.Query.Set(path, value)
	} else {
		t.Body[path] = value
	}
	return t
}

// setInParams sets a field inside the ParamsKey document, creating
// intermediate objects, and keeps mirrored body fields in sync.
func (m *Mutator) setInParams(t *RequestTemplate, segments []PathSegment, value string) {
	raw, ok := t.Query.Get(ParamsKey)
	if !ok {
		m.logger.Debug("[Mutate] no %s query value, request unchanged", ParamsKey)
		return
	}
	obj, err := decodeQueryDocument(ParamsKey, raw)
	if err != nil {
		m.logger.Warning("[Mutate] %v", &MutationDecodeError{QueryKey: ParamsKey, Err: err})
		return
	}
	if !setPath(obj, segments, value, true, true) {
		m.logger.Debug("[Mutate] %s: no such array element, request unchanged", joinSegments(segments))
		return
	}
	if err := writeQueryDocument(t, ParamsKey, obj); err != nil {
		m.logger.Warning("[Mutate] %v", err)
		return
	}
	top := segments[0].Key
	if t.IsParamsField(top) {
		t.Body[top] = deepCopyValue(obj[top])
	}
}

// setInQueryDocument scans query values holding JSON objects for a top-level
// key and sets it in the first match.
func (m *Mutator) setInQueryDocument(t *RequestTemplate, key, value string) bool {
	for _, qk := range t.Query.Keys() {
		raw, _ := t.Query.Get(qk)
		obj, err := decodeQueryDocument(qk, raw)
		if err != nil {
			continue
		}
		existing, ok := obj[key]
		if !ok {
			continue
		}
		obj[key] = coerceLike(existing, value)
		if err := writeQueryDocument(t, qk, obj); err != nil {
			m.logger.Warning("[Mutate] %v", err)
			return false
		}
		if qk == ParamsKey && t.IsParamsField(key) {
			t.Body[key] = deepCopyValue(obj[key])
		}
		return true
	}
	return false
}

// decodeQueryDocument reads a JSON object from a query value. Only the
// ParamsKey value is stored URL-encoded; every other value is already decoded.
func decodeQueryDocument(key, raw string) (map[string]any, error) {
	decoded := raw
	if key == ParamsKey && strings.Contains(raw, "%") {
		decoded = QueryParamDecode(raw)
	}
	doc, err := DecodeJSON([]byte(decoded))
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("not a JSON object")
	}
	return obj, nil
}

func writeQueryDocument(t *RequestTemplate, key string, obj map[string]any) error {
	encoded, err := EncodeCompactJSON(obj)
	if err != nil {
		return fmt.Errorf("cannot encode query key %q: %w", key, err)
	}
	if key == ParamsKey {
		encoded = QueryParamEncode(encoded)
	}
	t.Query.Set(key, encoded)
	return nil
}

// setPath walks root along segments and sets the leaf. Non-object
// intermediate values are replaced by new objects. Missing intermediate keys
// are created only when create is set, otherwise root is left untouched and
// setPath returns false. Array indexes must already exist.
func setPath(root map[string]any, segments []PathSegment, value string, paging, create bool) bool {
	if !create && !reachable(root, segments) {
		return false
	}
	obj := root
	for i, seg := range segments {
		last := i == len(segments)-1
		if seg.Key == "" {
			return false
		}
		if len(seg.Indexes) == 0 {
			if last {
				obj[seg.Key] = leafValue(obj[seg.Key], seg.Key, value, paging)
				return true
			}
			next, ok := obj[seg.Key].(map[string]any)
			if !ok {
				next = map[string]any{}
				obj[seg.Key] = next
			}
			obj = next
			continue
		}

		container := obj[seg.Key]
		for j, idx := range seg.Indexes {
			arr, ok := container.([]any)
			if !ok || idx >= len(arr) {
				return false
			}
			if j < len(seg.Indexes)-1 {
				container = arr[idx]
				continue
			}
			if last {
				arr[idx] = leafValue(arr[idx], seg.Key, value, paging)
				return true
			}
			next, ok := arr[idx].(map[string]any)
			if !ok {
				next = map[string]any{}
				arr[idx] = next
			}
			obj = next
		}
	}
	return false
}

// reachable reports whether setPath can reach the leaf without creating a
// missing key. A replaced non-object intermediate is empty, so only the leaf
// may follow it.
func reachable(root map[string]any, segments []PathSegment) bool {
	var node any = root
	for i, seg := range segments {
		last := i == len(segments)-1
		obj, ok := node.(map[string]any)
		if !ok {
			// replaced by an empty object: only a plain leaf key can follow
			return last && len(seg.Indexes) == 0
		}
		v, exists := obj[seg.Key]
		if last && len(seg.Indexes) == 0 {
			return true
		}
		if !exists {
			return false
		}
		for _, idx := range seg.Indexes {
			arr, ok := v.([]any)
			if !ok || idx >= len(arr) {
				return false
			}
			v = arr[idx]
		}
		if last {
			return true
		}
		node = v
	}
	return true
}

// hasMalformedIndex reports a bracket suffix that is not a valid array index,
// such as "ids[-1]" or "ids[x]".
func hasMalformedIndex(segments []PathSegment) bool {
	for _, seg := range segments {
		if len(seg.Indexes) == 0 && strings.Contains(seg.Key, "[") && strings.HasSuffix(seg.Key, "]") {
			return true
		}
	}
	return false
}

func leafValue(existing any, key, value string, paging bool) any {
	if paging && PagingFields[key] {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		return value
	}
	return coerceLike(existing, value)
}

// coerceLike keeps the JSON type of existing when value can be read as it.
func coerceLike(existing any, value string) any {
	switch existing.(type) {
	case json.Number, float64, int, int64:
		if jsonNumberRe.MatchString(value) {
			return json.Number(value)
		}
	case bool:
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}

func joinSegments(segments []PathSegment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		var b strings.Builder
		b.WriteString(s.Key)
		for _, idx := range s.Indexes {
			b.WriteString("[" + strconv.Itoa(idx) + "]")
		}
		parts[i] = b.String()
	}
	return strings.Join(parts, ".")
}
