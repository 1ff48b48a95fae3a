// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"fmt"
	"net/http"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// AcceptRule is a boolean expr-lang expression deciding whether a classified
// response counts as a success, e.g. `status >= 200 && status < 300`.
//
// Available variables: status, headers (map, canonical names), contentType,
// size, elapsedMs, value.
type AcceptRule struct {
	Expression string
	program    *vm.Program
}

func CompileAcceptRule(expression string) (*AcceptRule, error) {
	prog, err := expr.Compile(expression, expr.Env(acceptEnv(nil, nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid accept rule '%s': %w", expression, err)
	}
	return &AcceptRule{Expression: expression, program: prog}, nil
}

// Accept evaluates the rule. A nil rule accepts everything.
func (r *AcceptRule) Accept(resp *http.Response, s *Success) (bool, error) {
	if r == nil || r.program == nil {
		return true, nil
	}
	out, err := expr.Run(r.program, acceptEnv(resp, s))
	if err != nil {
		return false, fmt.Errorf("accept rule '%s': %w", r.Expression, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func acceptEnv(resp *http.Response, s *Success) map[string]any {
	env := map[string]any{
		"status":      0,
		"headers":     map[string]string{},
		"contentType": "",
		"size":        int64(0),
		"elapsedMs":   int64(0),
		"value":       "",
	}
	if resp != nil {
		headers := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}
		env["status"] = resp.StatusCode
		env["headers"] = headers
		env["contentType"] = resp.Header.Get("Content-Type")
	}
	if s != nil {
		size := s.Size
		if size == 0 {
			size = s.ContentLength
		}
		env["size"] = size
		env["elapsedMs"] = s.ElapsedMs
		env["value"] = s.ParamValue
	}
	return env
}
