// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"sort"
	"strconv"
)

// Parameters maps each addressable parameter path to its current value.
type Parameters map[string]string

// Paths returns the parameter paths in lexical order.
func (p Parameters) Paths() []string {
	paths := make([]string, 0, len(p))
	for k := range p {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// ExtractParameters flattens the query and body of t into path/value pairs.
//
// The ParamsKey query value is decoded and flattened under "params.". When
// it does not decode it is listed as a plain parameter. Top-level body keys
// already listed as "params.<key>" are skipped.
func ExtractParameters(t *RequestTemplate) Parameters {
	out := Parameters{}

	for _, key := range t.Query.Keys() {
		value, _ := t.Query.Get(key)
		if key != ParamsKey {
			out[key] = value
			continue
		}
		doc, err := DecodeJSON([]byte(QueryParamDecode(value)))
		obj, isObj := doc.(map[string]any)
		if err != nil || !isObj {
			out[key] = value
			continue
		}
		flattenInto(out, ParamsKey, obj)
	}

	for key, value := range t.Body {
		if _, seen := out[ParamsKey+"."+key]; seen || t.IsParamsField(key) {
			continue
		}
		flattenValue(out, key, value)
	}
	return out
}

func flattenInto(out Parameters, prefix string, obj map[string]any) {
	for k, v := range obj {
		flattenValue(out, prefix+"."+k, v)
	}
}

func flattenValue(out Parameters, path string, v any) {
	switch val := v.(type) {
	case map[string]any:
		flattenInto(out, path, val)
	case []any:
		for i, item := range val {
			flattenValue(out, path+"["+strconv.Itoa(i)+"]", item)
		}
	default:
		if s, ok := ScalarString(val); ok {
			out[path] = s
		}
	}
}
