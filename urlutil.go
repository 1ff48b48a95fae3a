// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"fmt"
	"net/url"
	"strings"
)

// QueryParamEncode percent-encodes a query parameter value per RFC 3986.
// Unlike url.QueryEscape (which uses application/x-www-form-urlencoded where
// space becomes '+'), this encodes space as '%20' and literal '+' as '%2B'.
// Only unreserved characters are left as-is.
func QueryParamEncode(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

// QueryParamDecode reverses percent-encoding. A literal '+' stays a '+'.
// Malformed escapes are returned unchanged.
func QueryParamDecode(value string) string {
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}

// SplitRawQuery splits a raw query string into ordered key/value pairs.
// Pairs without '=' are dropped. Values are returned undecoded.
func SplitRawQuery(raw string) [][2]string {
	var pairs [][2]string
	for _, part := range strings.Split(raw, "&") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		pairs = append(pairs, [2]string{key, value})
	}
	return pairs
}

// NormalizeRawQuery percent-encodes characters that are invalid in a URL query
// string (spaces, '#', control characters, etc.) while preserving everything
// that is valid, including literal '+' signs and existing '%XX' sequences.
//
// This operates directly on the raw query string WITHOUT a decode/re-encode
// round-trip, so '+' is never confused with space.
func NormalizeRawQuery(raw string) string {
	var buf strings.Builder
	buf.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '%' && i+2 < len(raw) && isHexChar(raw[i+1]) && isHexChar(raw[i+2]):
			buf.WriteByte(c)
			buf.WriteByte(raw[i+1])
			buf.WriteByte(raw[i+2])
			i += 2
		case c == ' ':
			buf.WriteString("%20")
		case shouldPercentEncode(c):
			fmt.Fprintf(&buf, "%%%02X", c)
		default:
			buf.WriteByte(c)
		}
	}
	return buf.String()
}

func isHexChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// shouldPercentEncode returns true for characters that must be percent-encoded
// in a URL query string. Characters allowed through unchanged:
//   - Unreserved: A-Z a-z 0-9 - . _ ~
//   - Sub-delimiters and pchar extras: : @ ! $ ' ( ) * , ;
//   - Query delimiters: + & =
//   - Allowed in query per RFC 3986: / ?
func shouldPercentEncode(c byte) bool {
	if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
		return false
	}
	switch c {
	case '-', '.', '_', '~':
		return false
	case ':', '@', '!', '$', '\'', '(', ')', '*', ',', ';':
		return false
	case '+', '&', '=':
		return false
	case '/', '?':
		return false
	}
	return true
}
