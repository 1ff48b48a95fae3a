// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ParamsKey is the query key whose value carries a URL-encoded JSON document.
const ParamsKey = "params"

// DefaultTimeoutSeconds applies when the command has no --max-time.
const DefaultTimeoutSeconds = 30

// Method is an upper-case HTTP method name.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
)

// PrefersQuery reports whether new, unknown parameters belong in the
// query string for this method rather than in the body.
func (m Method) PrefersQuery() bool {
	return m == MethodGet || m == MethodDelete
}

// Header is one request header as written in the command.
type Header struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Headers is an ordered header list. Names keep their original casing.
type Headers []Header

// Get returns the first value whose name matches case-insensitively.
func (h Headers) Get(name string) (string, bool) {
	for _, e := range h {
		if strings.EqualFold(e.Name, name) {
			return e.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing header (case-insensitive) or appends.
func (h *Headers) Set(name, value string) {
	for i, e := range *h {
		if strings.EqualFold(e.Name, name) {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// Query is an insertion ordered string map. Keys are unique.
type Query struct {
	keys   []string
	values map[string]string
}

// NewQuery returns an empty Query ready for Set.
func NewQuery() Query {
	return Query{values: map[string]string{}}
}

// Get returns the stored value for key. Only ParamsKey is kept URL-encoded.
func (q Query) Get(key string) (string, bool) {
	v, ok := q.values[key]
	return v, ok
}

// Set replaces the value of key, appending the key when it is new.
func (q *Query) Set(key, value string) {
	if q.values == nil {
		q.values = map[string]string{}
	}
	if _, ok := q.values[key]; !ok {
		q.keys = append(q.keys, key)
	}
	q.values[key] = value
}

// Keys returns a copy of the keys in insertion order.
func (q Query) Keys() []string {
	return append([]string(nil), q.keys...)
}

// Len is the number of keys.
func (q Query) Len() int {
	return len(q.keys)
}

func (q Query) clone() Query {
	c := Query{keys: append([]string(nil), q.keys...), values: make(map[string]string, len(q.values))}
	for k, v := range q.values {
		c.values[k] = v
	}
	return c
}

// MarshalJSON keeps the key order stable for logs and dry runs.
func (q Query) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range q.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(q.values[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RequestTemplate is a parsed, replayable request.
type RequestTemplate struct {
	Method         Method         `json:"method"`
	URL            string         `json:"url"`
	Headers        Headers        `json:"headers"`
	Query          Query          `json:"query"`
	Body           map[string]any `json:"body"`
	TimeoutSeconds int            `json:"timeoutSeconds"`
	Download       bool           `json:"download"`
	FileExtension  string         `json:"fileExtension,omitempty"`

	// ParamsFields lists body keys mirrored from the ParamsKey document.
	// They are addressable like body fields but travel in the query string.
	ParamsFields []string `json:"paramsFields,omitempty"`
}

// NewRequestTemplate returns an empty GET template with the default timeout.
func NewRequestTemplate() *RequestTemplate {
	return &RequestTemplate{
		Method:         MethodGet,
		Query:          NewQuery(),
		Body:           map[string]any{},
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
}

// Clone returns a deep copy sharing no mutable state with t.
func (t *RequestTemplate) Clone() *RequestTemplate {
	c := *t
	c.Headers = append(Headers(nil), t.Headers...)
	c.Query = t.Query.clone()
	c.ParamsFields = append([]string(nil), t.ParamsFields...)
	c.Body, _ = deepCopyValue(t.Body).(map[string]any)
	if c.Body == nil {
		c.Body = map[string]any{}
	}
	return &c
}

// FullURL renders URL plus query in original key order. Every value is
// RFC 3986 encoded except ParamsKey, which is already encoded and written raw.
func (t *RequestTemplate) FullURL() string {
	if t.Query.Len() == 0 {
		return t.URL
	}
	var buf strings.Builder
	for _, k := range t.Query.keys {
		if buf.Len() > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(QueryParamEncode(k))
		buf.WriteByte('=')
		v := t.Query.values[k]
		if k == ParamsKey {
			buf.WriteString(NormalizeRawQuery(v))
		} else {
			buf.WriteString(QueryParamEncode(v))
		}
	}
	return t.URL + "?" + buf.String()
}

// IsParamsField reports whether a top-level body key mirrors the ParamsKey document.
func (t *RequestTemplate) IsParamsField(key string) bool {
	for _, f := range t.ParamsFields {
		if f == key {
			return true
		}
	}
	return false
}

// WireBody returns the body without mirrored ParamsKey fields.
func (t *RequestTemplate) WireBody() map[string]any {
	if len(t.ParamsFields) == 0 {
		return t.Body
	}
	out := make(map[string]any, len(t.Body))
	for k, v := range t.Body {
		if !t.IsParamsField(k) {
			out[k] = v
		}
	}
	return out
}

// EncodeBody returns the JSON wire body, or nil when it is empty.
func (t *RequestTemplate) EncodeBody() ([]byte, error) {
	body := t.WireBody()
	if len(body) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error encoding JSON body: %w", err)
	}
	return b, nil
}

// ParsedURL is a convenience for callers needing host or path.
func (t *RequestTemplate) ParsedURL() (*url.URL, error) {
	return url.Parse(t.FullURL())
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = deepCopyValue(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = deepCopyValue(v)
		}
		return result
	default:
		return val
	}
}
