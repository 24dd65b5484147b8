// Package calc evaluates arithmetic expressions without executing code.
//
// Expressions are parsed into a small closed AST (numbers, named constants,
// unary and binary operators, allowlisted function calls) and then walked.
// Any other construct fails to parse, so rejection happens on structure
// rather than on substrings.
package calc

import (
	"fmt"
	"math"
	"strconv"

	"toolsandbox/internal/toolerr"
)

var constants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
}

type function struct {
	minArgs, maxArgs int // maxArgs < 0 means variadic
	call             func(args []float64) (float64, error)
}

func (f function) arity() string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("at least %d arguments", f.minArgs)
	case f.minArgs == f.maxArgs && f.minArgs == 1:
		return "exactly 1 argument"
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("exactly %d arguments", f.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", f.minArgs, f.maxArgs)
	}
}

func unary(fn func(float64) float64) function {
	return function{minArgs: 1, maxArgs: 1, call: func(a []float64) (float64, error) { return fn(a[0]), nil }}
}

func domain(check func(float64) bool, fn func(float64) float64) function {
	return function{minArgs: 1, maxArgs: 1, call: func(a []float64) (float64, error) {
		if !check(a[0]) {
			return 0, errDomain
		}
		return fn(a[0]), nil
	}}
}

var errDomain = toolerr.Execution("math domain error")

var functions = map[string]function{
	"sqrt":    domain(func(x float64) bool { return x >= 0 }, math.Sqrt),
	"sin":     unary(math.Sin),
	"cos":     unary(math.Cos),
	"tan":     unary(math.Tan),
	"asin":    domain(func(x float64) bool { return x >= -1 && x <= 1 }, math.Asin),
	"acos":    domain(func(x float64) bool { return x >= -1 && x <= 1 }, math.Acos),
	"atan":    unary(math.Atan),
	"sinh":    unary(math.Sinh),
	"cosh":    unary(math.Cosh),
	"tanh":    unary(math.Tanh),
	"exp":     unary(math.Exp),
	"log10":   domain(func(x float64) bool { return x > 0 }, math.Log10),
	"log2":    domain(func(x float64) bool { return x > 0 }, math.Log2),
	"abs":     unary(math.Abs),
	"floor":   unary(math.Floor),
	"ceil":    unary(math.Ceil),
	"trunc":   unary(math.Trunc),
	"degrees": unary(func(x float64) float64 { return x * 180 / math.Pi }),
	"radians": unary(func(x float64) float64 { return x * math.Pi / 180 }),
	"log": {minArgs: 1, maxArgs: 2, call: func(a []float64) (float64, error) {
		if a[0] <= 0 {
			return 0, errDomain
		}
		if len(a) == 1 {
			return math.Log(a[0]), nil
		}
		if a[1] <= 0 || a[1] == 1 {
			return 0, errDomain
		}
		return math.Log(a[0]) / math.Log(a[1]), nil
	}},
	"round": {minArgs: 1, maxArgs: 2, call: func(a []float64) (float64, error) {
		if len(a) == 1 {
			return math.RoundToEven(a[0]), nil
		}
		digits := a[1]
		if digits != math.Trunc(digits) {
			return 0, toolerr.Execution("round() digits must be an integer")
		}
		if digits > 15 || digits < -15 {
			return a[0], nil
		}
		scale := math.Pow(10, digits)
		return math.RoundToEven(a[0]*scale) / scale, nil
	}},
	"pow": {minArgs: 2, maxArgs: 2, call: func(a []float64) (float64, error) {
		return power(a[0], a[1])
	}},
	"atan2": {minArgs: 2, maxArgs: 2, call: func(a []float64) (float64, error) {
		return math.Atan2(a[0], a[1]), nil
	}},
	"hypot": {minArgs: 2, maxArgs: 2, call: func(a []float64) (float64, error) {
		return math.Hypot(a[0], a[1]), nil
	}},
	"factorial": {minArgs: 1, maxArgs: 1, call: func(a []float64) (float64, error) {
		n := a[0]
		if n < 0 || n != math.Trunc(n) {
			return 0, toolerr.Execution("factorial() only accepts non-negative integers")
		}
		if n > 170 {
			return 0, toolerr.Execution("numeric result out of range")
		}
		out := 1.0
		for i := 2.0; i <= n; i++ {
			out *= i
		}
		return out, nil
	}},
	"min": {minArgs: 1, maxArgs: -1, call: func(a []float64) (float64, error) {
		out := a[0]
		for _, v := range a[1:] {
			out = math.Min(out, v)
		}
		return out, nil
	}},
	"max": {minArgs: 1, maxArgs: -1, call: func(a []float64) (float64, error) {
		out := a[0]
		for _, v := range a[1:] {
			out = math.Max(out, v)
		}
		return out, nil
	}},
}

// Evaluate parses and evaluates expr. The result is always finite; every
// failure is a *toolerr.Error.
func Evaluate(expr string) (float64, error) {
	tree, err := parse(expr)
	if err != nil {
		return 0, err
	}
	v, err := eval(tree)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, errDomain
	}
	if math.IsInf(v, 0) {
		return 0, toolerr.Execution("numeric result out of range")
	}
	return v, nil
}

// Format renders a result the way the calculator tool reports it.
func Format(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func eval(n node) (float64, error) {
	switch n := n.(type) {
	case numberNode:
		return n.value, nil
	case constNode:
		return constants[n.name], nil
	case unaryNode:
		v, err := eval(n.operand)
		if err != nil {
			return 0, err
		}
		if n.op == "-" {
			return -v, nil
		}
		return v, nil
	case binaryNode:
		left, err := eval(n.left)
		if err != nil {
			return 0, err
		}
		right, err := eval(n.right)
		if err != nil {
			return 0, err
		}
		return binary(n.op, left, right)
	case callNode:
		args := make([]float64, len(n.args))
		for i, arg := range n.args {
			v, err := eval(arg)
			if err != nil {
				return 0, err
			}
			args[i] = v
		}
		v, err := functions[n.fn].call(args)
		if err != nil {
			return 0, err
		}
		return checkFinite(v)
	default:
		return 0, toolerr.Validation("unsupported expression node %T", n)
	}
}

func binary(op string, a, b float64) (float64, error) {
	var v float64
	switch op {
	case "+":
		v = a + b
	case "-":
		v = a - b
	case "*":
		v = a * b
	case "/":
		if b == 0 {
			return 0, toolerr.Execution("division by zero")
		}
		v = a / b
	case "//":
		if b == 0 {
			return 0, toolerr.Execution("integer division or modulo by zero")
		}
		v = math.Floor(a / b)
	case "%":
		if b == 0 {
			return 0, toolerr.Execution("integer division or modulo by zero")
		}
		// result takes the sign of the divisor
		v = math.Mod(a, b)
		if v != 0 && (v < 0) != (b < 0) {
			v += b
		}
	case "**":
		return power(a, b)
	default:
		return 0, toolerr.Validation("unsupported operator %q", op)
	}
	return checkFinite(v)
}

func power(a, b float64) (float64, error) {
	if a == 0 && b < 0 {
		return 0, toolerr.Execution("zero cannot be raised to a negative power")
	}
	if a < 0 && b != math.Trunc(b) {
		return 0, errDomain
	}
	return checkFinite(math.Pow(a, b))
}

func checkFinite(v float64) (float64, error) {
	if math.IsNaN(v) {
		return 0, errDomain
	}
	if math.IsInf(v, 0) {
		return 0, toolerr.Execution("numeric result out of range")
	}
	return v, nil
}
