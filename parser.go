// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

var (
	ErrURLMissing = errors.New("url missing")
	ErrBodyDecode = errors.New("body decode failed")
	ErrSyntax     = errors.New("invalid command syntax")
)

// ParseError is returned by Parse. Kind is one of ErrURLMissing,
// ErrBodyDecode or ErrSyntax and matches with errors.Is.
type ParseError struct {
	Kind     error
	Fragment string
	Err      error
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Fragment != "" {
		msg += fmt.Sprintf(" (fragment %q)", truncateFragment(e.Fragment))
	}
	return msg
}

func (e *ParseError) Is(target error) bool {
	return target == e.Kind
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func truncateFragment(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// flags that never take an argument; every other flag consumes one token
var booleanFlags = map[string]bool{
	"--compressed": true, "-k": true, "--insecure": true, "-s": true, "--silent": true,
	"-S": true, "--show-error": true, "-L": true, "--location": true, "-i": true,
	"--include": true, "-v": true, "--verbose": true, "-G": true, "--get": true,
	"-I": true, "--head": true, "-f": true, "--fail": true, "--http1.1": true,
	"--http2": true, "--http2-prior-knowledge": true, "-#": true, "--progress-bar": true,
	"-N": true, "--no-buffer": true, "-O": true, "--remote-name": true, "-J": true,
	"--remote-header-name": true, "-g": true, "--globoff": true, "--tr-encoding": true,
	"--raw": true, "--no-keepalive": true, "--path-as-is": true,
}

var (
	continuationRe    = regexp.MustCompile(`\\[ \t]*\r?\n`)
	cmdContinuationRe = regexp.MustCompile(`\^[ \t]*\r?\n`)
)

// Parser turns curl command text into a RequestTemplate.
type Parser struct {
	logger Logger
}

func NewParser() *Parser {
	return &Parser{logger: NewNoopLogger()}
}

func (p *Parser) SetLogger(logger Logger) {
	p.logger = logger
}

// Parse uses a parser with a noop logger.
func Parse(text string) (*RequestTemplate, error) {
	return NewParser().Parse(text)
}

func (p *Parser) Parse(text string) (*RequestTemplate, error) {
	args, err := p.tokenize(normalizeCommand(text))
	if err != nil {
		return nil, err
	}

	t := NewRequestTemplate()
	var rawURL, rawBody string
	hasBody, methodSet := false, false

	for i := 0; i < len(args); i++ {
		tok := args[i]
		if !strings.HasPrefix(tok, "-") || tok == "-" {
			if rawURL == "" {
				rawURL = strings.Trim(tok, `'"`)
			}
			continue
		}

		name, inline, hasInline := splitFlag(tok)
		if booleanFlags[name] {
			continue
		}
		// -XPOST style short option with attached value
		if !hasInline && len(name) > 2 && name[1] != '-' {
			name, inline, hasInline = name[:2], name[2:], true
		}
		value := inline
		if !hasInline {
			if i+1 >= len(args) {
				p.logger.Debug("[Parse] flag %s has no argument", name)
				break
			}
			i++
			value = args[i]
		}

		switch name {
		case "-X", "--request":
			if !methodSet {
				t.Method = Method(strings.ToUpper(value))
				methodSet = true
			}
		case "-H", "--header":
			k, v, ok := strings.Cut(value, ":")
			if !ok {
				p.logger.Debug("[Parse] ignoring header without colon: %s", value)
				continue
			}
			t.Headers.Set(strings.TrimSpace(k), strings.TrimSpace(v))
		case "-b", "--cookie":
			t.Headers.Set("Cookie", strings.TrimSpace(value))
		case "-A", "--user-agent":
			t.Headers.Set("User-Agent", value)
		case "-e", "--referer":
			t.Headers.Set("Referer", value)
		case "-u", "--user":
			t.Headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(value)))
		case "-d", "--data", "--data-raw", "--data-binary", "--data-ascii":
			if hasBody {
				p.logger.Warning("[Parse] multiple body arguments, keeping the first")
				continue
			}
			rawBody, hasBody = value, true
		case "--url":
			if rawURL == "" {
				rawURL = strings.Trim(value, `'"`)
			}
		case "-m", "--max-time":
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
				t.TimeoutSeconds = int(math.Ceil(secs))
			}
		default:
			p.logger.Debug("[Parse] ignoring flag %s", name)
		}
	}

	if rawURL == "" {
		return nil, &ParseError{Kind: ErrURLMissing}
	}

	base, rawQuery, _ := strings.Cut(rawURL, "?")
	t.URL = base
	for _, kv := range SplitRawQuery(rawQuery) {
		if kv[0] == ParamsKey {
			t.Query.Set(kv[0], kv[1])
		} else {
			t.Query.Set(QueryParamDecode(kv[0]), QueryParamDecode(kv[1]))
		}
	}

	lower := strings.ToLower(t.URL + "?" + rawQuery)
	if strings.Contains(lower, "export") || strings.Contains(lower, "download") {
		t.Download = true
		if strings.Contains(lower, "export") {
			t.FileExtension = ".xlsx"
		} else {
			t.FileExtension = ".bin"
		}
	}

	if hasBody && strings.TrimSpace(rawBody) != "" {
		doc, err := DecodeJSON([]byte(rawBody))
		if err != nil {
			return nil, &ParseError{Kind: ErrBodyDecode, Fragment: rawBody, Err: err}
		}
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, &ParseError{Kind: ErrBodyDecode, Fragment: rawBody, Err: errors.New("body is not a JSON object")}
		}
		t.Body = obj
	}

	if raw, ok := t.Query.Get(ParamsKey); ok {
		if err := mergeParamsIntoBody(t, raw); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// mergeParamsIntoBody mirrors the fields of the ParamsKey document into the
// body without overwriting fields already present there.
func mergeParamsIntoBody(t *RequestTemplate, raw string) error {
	doc, err := DecodeJSON([]byte(QueryParamDecode(raw)))
	if err != nil {
		return &ParseError{Kind: ErrBodyDecode, Fragment: raw, Err: err}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, exists := t.Body[k]; exists {
			continue
		}
		t.Body[k] = obj[k]
		t.ParamsFields = append(t.ParamsFields, k)
	}
	return nil
}

// normalizeCommand folds line continuations and strips Windows cmd carets.
func normalizeCommand(text string) string {
	text = continuationRe.ReplaceAllString(text, " ")
	if cmdContinuationRe.MatchString(text) || strings.Contains(text, `^"`) {
		text = cmdContinuationRe.ReplaceAllString(text, " ")
		text = strings.ReplaceAll(text, "^", "")
	}
	return strings.TrimSpace(text)
}

// tokenize lexes text as a bash command and returns the arguments following
// the curl invocation word, with quotes and escapes resolved.
func (p *Parser) tokenize(text string) ([]string, error) {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(text), "")
	if err != nil {
		return nil, &ParseError{Kind: ErrSyntax, Fragment: text, Err: err}
	}

	var call *syntax.CallExpr
	var firstCall *syntax.CallExpr
	syntax.Walk(file, func(node syntax.Node) bool {
		if call != nil {
			return false
		}
		ce, ok := node.(*syntax.CallExpr)
		if !ok || len(ce.Args) == 0 {
			return true
		}
		if firstCall == nil {
			firstCall = ce
		}
		if isCurlWord(ce.Args[0]) {
			call = ce
			return false
		}
		return true
	})
	if call == nil {
		call = firstCall
	}
	if call == nil {
		return nil, &ParseError{Kind: ErrURLMissing}
	}

	cfg := &expand.Config{Env: expand.ListEnviron()}
	args := make([]string, 0, len(call.Args))
	for i, w := range call.Args {
		if i > 0 && keepExpansionsLiteral(w.Parts) {
			p.logger.Debug("[Parse] keeping shell expansions literal in argument %d", i)
		}
		lit, err := expand.Literal(cfg, w)
		if err != nil {
			return nil, &ParseError{Kind: ErrSyntax, Fragment: text, Err: err}
		}
		if i == 0 {
			continue
		}
		args = append(args, lit)
	}
	return args, nil
}

// keepExpansionsLiteral replaces parameter, command and arithmetic
// expansions with single-quoted parts holding their source text, so that
// "$100" or "$HOME" reach the request unchanged. It reports whether any part
// was replaced.
func keepExpansionsLiteral(parts []syntax.WordPart) bool {
	printer := syntax.NewPrinter()
	changed := false
	for i, part := range parts {
		switch wp := part.(type) {
		case *syntax.DblQuoted:
			if keepExpansionsLiteral(wp.Parts) {
				changed = true
			}
		case *syntax.ParamExp, *syntax.CmdSubst, *syntax.ArithmExp:
			var buf strings.Builder
			if err := printer.Print(&buf, wp); err != nil {
				continue
			}
			parts[i] = &syntax.SglQuoted{Value: buf.String()}
			changed = true
		}
	}
	return changed
}

func isCurlWord(w *syntax.Word) bool {
	lit := strings.ToLower(w.Lit())
	base := path.Base(strings.ReplaceAll(lit, `\`, "/"))
	return base == "curl" || base == "curl.exe"
}

// splitFlag separates "--data=value" into name and inline value.
func splitFlag(tok string) (string, string, bool) {
	if strings.HasPrefix(tok, "--") {
		if name, value, ok := strings.Cut(tok, "="); ok {
			return name, value, true
		}
	}
	return tok, "", false
}
