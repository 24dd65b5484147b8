package codebox

import (
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strings"

	"go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// importError is returned by the loader for modules outside the allowlist.
type importError struct {
	module string
}

func (e *importError) Error() string {
	return fmt.Sprintf("module '%s' is not allowed", e.module)
}

// allowedModules lists every module user code can load. Each factory runs
// once per execution, so no module state outlives a single call.
func allowedModules(seed *uint64) map[string]func() *starlarkstruct.Module {
	return map[string]func() *starlarkstruct.Module{
		"math":     func() *starlarkstruct.Module { return starlarkmath.Module },
		"json":     func() *starlarkstruct.Module { return json.Module },
		"time":     func() *starlarkstruct.Module { return starlarktime.Module },
		"datetime": func() *starlarkstruct.Module { return starlarktime.Module },
		"random":   func() *starlarkstruct.Module { return newRandomModule(seed) },
		"re":       newReModule,
	}
}

// newLoader returns a thread.Load that resolves names against the
// allowlist. A loaded module exposes its members plus itself under its
// name, so both `from m import f` and `import m; m.f` work.
func newLoader(seed *uint64) func(*starlark.Thread, string) (starlark.StringDict, error) {
	factories := allowedModules(seed)
	loaded := map[string]starlark.StringDict{}
	return func(_ *starlark.Thread, name string) (starlark.StringDict, error) {
		if dict, ok := loaded[name]; ok {
			return dict, nil
		}
		factory, ok := factories[name]
		if !ok {
			return nil, &importError{module: name}
		}
		m := factory()
		dict := make(starlark.StringDict, len(m.Members)+1)
		for k, v := range m.Members {
			dict[k] = v
		}
		dict[name] = m
		loaded[name] = dict
		return dict, nil
	}
}

// newRandomModule builds a random module around a generator that belongs
// to this execution only. With a seed the sequence is reproducible.
func newRandomModule(seed *uint64) *starlarkstruct.Module {
	var src *rand.PCG
	if seed != nil {
		src = rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	r := rand.New(src)

	return &starlarkstruct.Module{
		Name: "random",
		Members: starlark.StringDict{
			"random": starlark.NewBuiltin("random", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
					return nil, err
				}
				return starlark.Float(r.Float64()), nil
			}),
			"seed": starlark.NewBuiltin("seed", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var n int
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &n); err != nil {
					return nil, err
				}
				src.Seed(uint64(n), uint64(n)^0x9e3779b97f4a7c15)
				return starlark.None, nil
			}),
			"randint": starlark.NewBuiltin("randint", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var loArg, hiArg starlark.Int
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &loArg, &hiArg); err != nil {
					return nil, err
				}
				lo, hi, err := intRange(b.Name(), loArg, hiArg)
				if err != nil {
					return nil, err
				}
				if hi < lo {
					return nil, fmt.Errorf("%s: empty range (%d, %d)", b.Name(), lo, hi)
				}
				span, err := rangeSpan(b.Name(), lo, hi)
				if err != nil {
					return nil, err
				}
				return starlark.MakeInt64(lo + r.Int64N(span+1)), nil
			}),
			"randrange": starlark.NewBuiltin("randrange", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var startArg, stopArg starlark.Int
				stopSet := len(args) > 1
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &startArg, &stopArg); err != nil {
					return nil, err
				}
				if !stopSet {
					startArg, stopArg = starlark.MakeInt(0), startArg
				}
				start, stop, err := intRange(b.Name(), startArg, stopArg)
				if err != nil {
					return nil, err
				}
				if stop <= start {
					return nil, fmt.Errorf("%s: empty range (%d, %d)", b.Name(), start, stop)
				}
				span, err := rangeSpan(b.Name(), start, stop)
				if err != nil {
					return nil, err
				}
				return starlark.MakeInt64(start + r.Int64N(span)), nil
			}),
			"uniform": starlark.NewBuiltin("uniform", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var x, y starlark.Value
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
					return nil, err
				}
				lo, ok1 := starlark.AsFloat(x)
				hi, ok2 := starlark.AsFloat(y)
				if !ok1 || !ok2 {
					return nil, fmt.Errorf("%s: arguments must be numbers", b.Name())
				}
				return starlark.Float(lo + (hi-lo)*r.Float64()), nil
			}),
			"choice": starlark.NewBuiltin("choice", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var seq starlark.Indexable
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seq); err != nil {
					return nil, err
				}
				if seq.Len() == 0 {
					return nil, fmt.Errorf("%s: cannot choose from an empty sequence", b.Name())
				}
				return seq.Index(r.IntN(seq.Len())), nil
			}),
			"shuffle": starlark.NewBuiltin("shuffle", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var list *starlark.List
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &list); err != nil {
					return nil, err
				}
				for i := list.Len() - 1; i > 0; i-- {
					j := r.IntN(i + 1)
					a, c := list.Index(i), list.Index(j)
					if err := list.SetIndex(i, c); err != nil {
						return nil, err
					}
					if err := list.SetIndex(j, a); err != nil {
						return nil, err
					}
				}
				return starlark.None, nil
			}),
			"sample": starlark.NewBuiltin("sample", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var population starlark.Indexable
				var k int
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &population, &k); err != nil {
					return nil, err
				}
				if k < 0 || k > population.Len() {
					return nil, fmt.Errorf("%s: sample larger than population or is negative", b.Name())
				}
				perm := r.Perm(population.Len())[:k]
				out := make([]starlark.Value, k)
				for i, idx := range perm {
					out[i] = population.Index(idx)
				}
				return starlark.NewList(out), nil
			}),
		},
	}
}

// intRange converts the bounds of a random range to int64.
func intRange(fn string, lo, hi starlark.Int) (int64, int64, error) {
	a, ok1 := lo.Int64()
	b, ok2 := hi.Int64()
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("%s: range bounds must fit in 64 bits", fn)
	}
	return a, b, nil
}

// rangeSpan returns hi-lo for lo <= hi, or an error when the span plus one
// would not fit in an int64.
func rangeSpan(fn string, lo, hi int64) (int64, error) {
	span := uint64(hi) - uint64(lo)
	if span >= math.MaxInt64 {
		return 0, fmt.Errorf("%s: range (%d, %d) is too large", fn, lo, hi)
	}
	return int64(span), nil
}

// newReModule exposes Go's RE2 engine with a Python-flavored API. RE2 runs
// in linear time, so no pattern can stall the child on backtracking.
func newReModule() *starlarkstruct.Module {
	cache := map[string]*regexp.Regexp{}
	compile := func(fn, pattern string) (*regexp.Regexp, error) {
		if re, ok := cache[pattern]; ok {
			return re, nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid pattern: %v", fn, err)
		}
		cache[pattern] = re
		return re, nil
	}
	matcher := func(name string, anchor func(string) string) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var pattern, s string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &pattern, &s); err != nil {
				return nil, err
			}
			re, err := compile(b.Name(), anchor(pattern))
			if err != nil {
				return nil, err
			}
			loc := re.FindStringSubmatchIndex(s)
			if loc == nil {
				return starlark.None, nil
			}
			return newMatch(re, s, loc), nil
		})
	}

	return &starlarkstruct.Module{
		Name: "re",
		Members: starlark.StringDict{
			"search":    matcher("search", func(p string) string { return p }),
			"match":     matcher("match", func(p string) string { return `^(?:` + p + `)` }),
			"fullmatch": matcher("fullmatch", func(p string) string { return `^(?:` + p + `)$` }),
			"findall": starlark.NewBuiltin("findall", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var pattern, s string
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &pattern, &s); err != nil {
					return nil, err
				}
				re, err := compile(b.Name(), pattern)
				if err != nil {
					return nil, err
				}
				var out []starlark.Value
				for _, m := range re.FindAllStringSubmatch(s, -1) {
					switch len(m) {
					case 1:
						out = append(out, starlark.String(m[0]))
					case 2:
						out = append(out, starlark.String(m[1]))
					default:
						groups := make(starlark.Tuple, len(m)-1)
						for i, g := range m[1:] {
							groups[i] = starlark.String(g)
						}
						out = append(out, groups)
					}
				}
				return starlark.NewList(out), nil
			}),
			"sub": starlark.NewBuiltin("sub", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var pattern, repl, s string
				count := 0
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "repl", &repl, "string", &s, "count?", &count); err != nil {
					return nil, err
				}
				re, err := compile(b.Name(), pattern)
				if err != nil {
					return nil, err
				}
				n := -1
				if count > 0 {
					n = count
				}
				template := pythonTemplate(repl)
				var out []byte
				last := 0
				for _, loc := range re.FindAllStringSubmatchIndex(s, n) {
					out = append(out, s[last:loc[0]]...)
					out = re.ExpandString(out, template, s, loc)
					last = loc[1]
				}
				out = append(out, s[last:]...)
				return starlark.String(out), nil
			}),
			"split": starlark.NewBuiltin("split", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var pattern, s string
				maxsplit := 0
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s, "maxsplit?", &maxsplit); err != nil {
					return nil, err
				}
				re, err := compile(b.Name(), pattern)
				if err != nil {
					return nil, err
				}
				n := -1
				if maxsplit > 0 {
					n = maxsplit + 1
				}
				parts := re.Split(s, n)
				out := make([]starlark.Value, len(parts))
				for i, p := range parts {
					out[i] = starlark.String(p)
				}
				return starlark.NewList(out), nil
			}),
			"escape": starlark.NewBuiltin("escape", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var s string
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
					return nil, err
				}
				return starlark.String(regexp.QuoteMeta(s)), nil
			}),
		},
	}
}

// newMatch builds a match object with group, groups, start and end methods.
func newMatch(re *regexp.Regexp, s string, loc []int) *starlarkstruct.Struct {
	groupIndex := func(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (int, error) {
		var g starlark.Value = starlark.MakeInt(0)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &g); err != nil {
			return 0, err
		}
		var idx int
		switch g := g.(type) {
		case starlark.String:
			idx = re.SubexpIndex(string(g))
		case starlark.Int:
			i, ok := g.Int64()
			if !ok {
				return 0, fmt.Errorf("%s: no such group", b.Name())
			}
			idx = int(i)
		default:
			return 0, fmt.Errorf("%s: group must be int or str, got %s", b.Name(), g.Type())
		}
		if idx < 0 || idx > re.NumSubexp() {
			return 0, fmt.Errorf("%s: no such group", b.Name())
		}
		return idx, nil
	}
	group := func(idx int) starlark.Value {
		if loc[2*idx] < 0 {
			return starlark.None
		}
		return starlark.String(s[loc[2*idx]:loc[2*idx+1]])
	}

	return starlarkstruct.FromStringDict(starlark.String("Match"), starlark.StringDict{
		"group": starlark.NewBuiltin("group", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			idx, err := groupIndex(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			return group(idx), nil
		}),
		"groups": starlark.NewBuiltin("groups", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			out := make(starlark.Tuple, re.NumSubexp())
			for i := range out {
				out[i] = group(i + 1)
			}
			return out, nil
		}),
		"start": starlark.NewBuiltin("start", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			idx, err := groupIndex(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			return starlark.MakeInt(loc[2*idx]), nil
		}),
		"end": starlark.NewBuiltin("end", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			idx, err := groupIndex(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			return starlark.MakeInt(loc[2*idx+1]), nil
		}),
	})
}

// pythonTemplate converts \1 and \g<name> references to Go's ${1} and
// ${name}, and escapes literal dollars.
func pythonTemplate(repl string) string {
	var b strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		switch {
		case c == '$':
			b.WriteString("$$")
		case c == '\\' && i+1 < len(repl) && repl[i+1] >= '0' && repl[i+1] <= '9':
			j := i + 1
			for j < len(repl) && repl[j] >= '0' && repl[j] <= '9' {
				j++
			}
			b.WriteString("${" + repl[i+1:j] + "}")
			i = j - 1
		case c == '\\' && strings.HasPrefix(repl[i+1:], "g<"):
			end := strings.IndexByte(repl[i:], '>')
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			b.WriteString("${" + repl[i+3:i+end] + "}")
			i += end
		case c == '\\' && i+1 < len(repl) && repl[i+1] == '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
