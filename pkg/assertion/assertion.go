// Package assertion evaluates boolean expressions against a completed
// response, for scenario verification. Expressions see a small env:
// status, body, headers and duration.
package assertion

import (
	"context"
	"fmt"

	"httpbridge/core/pkg/model/mresponse"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/goccy/go-json"
)

// Result is the outcome of one expression.
type Result struct {
	Expr string
	Pass bool
	Err  error
}

// Env builds the evaluation environment for one response. A JSON body is
// decoded so expressions can reach into it (body.user.id); anything else is
// exposed as a string.
func Env(resp *mresponse.Response) map[string]any {
	var body any
	if json.Valid(resp.Body) {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			body = resp.BodyText()
		}
	} else {
		body = resp.BodyText()
	}
	headers := make(map[string]any, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = v
	}
	return map[string]any{
		"status":   resp.StatusCode,
		"body":     body,
		"headers":  headers,
		"duration": resp.ElapsedMs,
	}
}

// Compile builds a reusable program for one expression. The program must
// produce a boolean.
func Compile(expression string) (*vm.Program, error) {
	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling assertion %q: %w", expression, err)
	}
	return program, nil
}

// Check evaluates one expression against a response.
func Check(expression string, resp *mresponse.Response) (bool, error) {
	program, err := Compile(expression)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, Env(resp))
	if err != nil {
		return false, fmt.Errorf("evaluating assertion %q: %w", expression, err)
	}
	pass, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("assertion %q did not produce a boolean", expression)
	}
	return pass, nil
}

// Eval runs every expression against the response and reports per-assertion
// results. A failing or erroring assertion never stops the rest.
func Eval(ctx context.Context, expressions []string, resp *mresponse.Response) []Result {
	results := make([]Result, len(expressions))
	for i, e := range expressions {
		results[i] = Result{Expr: e}
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		pass, err := Check(e, resp)
		results[i].Pass = pass
		results[i].Err = err
	}
	return results
}

// AllPassed reports whether every result passed with no error.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass || r.Err != nil {
			return false
		}
	}
	return true
}
