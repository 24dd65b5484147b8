package calc

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"toolsandbox/internal/toolerr"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"2 + 2 * 3", 8},
		{"(2 + 2) * 3", 12},
		{"sqrt(16) + pi", 4 + math.Pi},
		{"2 ** 3 ** 2", 512},
		{"-2 ** 2", -4},
		{"2 ** -1", 0.5},
		{"7 // 2", 3},
		{"-7 // 2", -4},
		{"-7 % 3", 2},
		{"7 % -3", -2},
		{"10 / 4", 2.5},
		{"abs(-3.5)", 3.5},
		{"round(2.5)", 2},
		{"round(3.14159, 2)", 3.14},
		{"min(3, 1, 2) + max(4, 9)", 10},
		{"log(e)", 1},
		{"log(8, 2)", 3},
		{"1.5e3", 1500},
		{".5 + +1", 1.5},
		{"factorial(5)", 120},
		{"cos(0) + sin(0)", 1},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.expr)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.expr, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: expected %v, got %v", tc.expr, tc.want, got)
		}
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	for i := 0; i < 50; i++ {
		got, err := Evaluate("2 + 2 * 3")
		if err != nil || got != 8 {
			t.Fatalf("expected 8, got %v (%v)", got, err)
		}
	}
}

func TestEvaluateRejectsDisallowedSyntax(t *testing.T) {
	inputs := []string{
		"__import__('os').system('ls')",
		"os.system",
		"x + 1",
		"[1, 2][0]",
		"lambda: 1",
		"open('/etc/passwd')",
		"sqrt",
		"1 if 2 else 3",
		"a.b",
		"eval(1)",
		"",
		"   ",
		"2 +",
		"(1",
		"sqrt(1, 2)",
		"max()",
		"1 == 1",
		"2 ^ 3",
		strings.Repeat("(", 100) + "1" + strings.Repeat(")", 100),
		strings.Repeat("1+", 600) + "1",
	}
	for _, expr := range inputs {
		_, err := Evaluate(expr)
		if !errors.Is(err, toolerr.ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", expr, err)
		}
	}
}

func TestEvaluateNumericErrors(t *testing.T) {
	inputs := []string{
		"1 / 0",
		"1 // 0",
		"1 % 0",
		"sqrt(-1)",
		"log(0)",
		"log(2, 1)",
		"10 ** 400",
		"(-8) ** 0.5",
		"0 ** -1",
		"factorial(171)",
		"factorial(2.5)",
		"asin(2)",
		"exp(1000)",
	}
	for _, expr := range inputs {
		_, err := Evaluate(expr)
		if !errors.Is(err, toolerr.ErrExecution) {
			t.Fatalf("%q: expected execution error, got %v", expr, err)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(8); got != "8" {
		t.Fatalf("expected 8, got %s", got)
	}
	if got := Format(2.5); got != "2.5" {
		t.Fatalf("expected 2.5, got %s", got)
	}
	if got := Format(1e20); got != "1e+20" {
		t.Fatalf("expected 1e+20, got %s", got)
	}
}

// Random token soup must only ever produce a finite number or a classified error.
func TestEvaluateRandomInputs(t *testing.T) {
	pieces := []string{
		"1", "2.5", "0", "pi", "e", "x", "__import__", "sqrt", "log", "max",
		"(", ")", ",", "+", "-", "*", "/", "//", "%", "**", ".", "[", "]",
		"'", "lambda", ":", " ", "os", "=", "1e308",
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		var b strings.Builder
		n := 1 + rng.Intn(12)
		for j := 0; j < n; j++ {
			b.WriteString(pieces[rng.Intn(len(pieces))])
		}
		checkOutcome(t, b.String())
	}
}

func FuzzEvaluate(f *testing.F) {
	for _, seed := range []string{"2 + 2 * 3", "sqrt(16) + pi", "__import__('os')", "1/0", "2**3**2"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, expr string) {
		checkOutcome(t, expr)
	})
}

func checkOutcome(t *testing.T, expr string) {
	t.Helper()
	v, err := Evaluate(expr)
	if err != nil {
		var te *toolerr.Error
		if !errors.As(err, &te) {
			t.Fatalf("%q: unclassified error %v", expr, err)
		}
		if te.Kind != toolerr.KindValidation && te.Kind != toolerr.KindExecution {
			t.Fatalf("%q: unexpected kind %s", expr, te.Kind)
		}
		return
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		t.Fatalf("%q: non-finite result %v", expr, v)
	}
}
