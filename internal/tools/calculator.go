package tools

import (
	"context"

	"toolsandbox/internal/calc"
	"toolsandbox/internal/toolerr"
)

// CalculatorTool evaluates arithmetic expressions.
type CalculatorTool struct{}

func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (c *CalculatorTool) Name() string { return "calculator" }

func (c *CalculatorTool) Description() string {
	return "Evaluate an arithmetic expression. Supports + - * / // % **, pi, e and math functions such as sqrt, sin, log, round, min and max."
}

func (c *CalculatorTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"expression": map[string]any{"type": "string"},
	}, "expression")
}

type calculatorInput struct {
	Expression string `mapstructure:"expression"`
}

func (c *CalculatorTool) Execute(_ context.Context, args map[string]any) (Output, error) {
	var in calculatorInput
	if err := decodeArgs(args, &in); err != nil {
		return Output{}, err
	}
	if in.Expression == "" {
		return Output{}, toolerr.Validation("expression is required")
	}
	v, err := calc.Evaluate(in.Expression)
	if err != nil {
		return Output{}, err
	}
	return Output{Text: calc.Format(v)}, nil
}
