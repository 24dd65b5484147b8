package tools

import (
	"context"
	"math"

	"toolsandbox/internal/codebox"
	"toolsandbox/internal/toolerr"
)

// CodeTool runs Python-flavoured Starlark in a fresh child process.
type CodeTool struct {
	sandbox *codebox.Sandbox
}

func NewCodeTool(sandbox *codebox.Sandbox) *CodeTool {
	return &CodeTool{sandbox: sandbox}
}

func (c *CodeTool) Name() string { return "code_execute" }

func (c *CodeTool) Description() string {
	return "Run a short Python-style script and return what it prints. Only math, random, json, re, time and datetime can be imported; there is no file or network access."
}

func (c *CodeTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"code": map[string]any{"type": "string"},
		"seed": map[string]any{"type": "integer", "minimum": 0, "description": "Optional seed for the random module."},
	}, "code")
}

type codeInput struct {
	Code string   `mapstructure:"code"`
	Seed *float64 `mapstructure:"seed"`
}

func (c *CodeTool) Execute(ctx context.Context, args map[string]any) (Output, error) {
	var in codeInput
	if err := decodeArgs(args, &in); err != nil {
		return Output{}, err
	}
	req := codebox.Request{Code: in.Code}
	if in.Seed != nil {
		s := *in.Seed
		if s < 0 || s != math.Trunc(s) || s > 1<<53 {
			return Output{}, toolerr.Validation("seed must be a non-negative integer")
		}
		seed := uint64(s)
		req.Seed = &seed
	}
	out, err := c.sandbox.Execute(ctx, req)
	if err != nil {
		return Output{}, err
	}
	return Output{Text: out.Stdout, Truncated: out.Truncated}, nil
}
