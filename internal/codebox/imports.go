package codebox

import (
	"regexp"
	"strconv"
	"strings"
)

// Python-style import lines are accepted as sugar for load statements:
//
//	import math, json as j      ->  load("math", "math"); load("json", j="json")
//	from math import sqrt as r  ->  load("math", r="sqrt")
//
// Only statements at column zero are rewritten and each line maps to
// exactly one line, so error positions still point at the user's source.
var (
	importItem = `[A-Za-z_][\w.]*(?:\s+as\s+[A-Za-z_]\w*)?`
	importList = importItem + `(?:\s*,\s*` + importItem + `)*`
	importRe   = regexp.MustCompile(`^import\s+(` + importList + `)\s*(;.*)?$`)
	fromRe     = regexp.MustCompile(`^from\s+([A-Za-z_][\w.]*)\s+import\s+(` + importList + `)\s*(;.*)?$`)
)

func rewriteImports(src string) string {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if m := importRe.FindStringSubmatch(trimmed); m != nil {
			var stmts []string
			for _, item := range splitItems(m[1]) {
				module, alias := item[0], item[1]
				if alias == "" {
					// "import a.b" binds "a" in Python.
					alias, _, _ = strings.Cut(module, ".")
				}
				stmts = append(stmts, "load("+strconv.Quote(module)+", "+alias+"="+strconv.Quote(module)+")")
			}
			lines[i] = strings.Join(stmts, "; ") + m[2]
			continue
		}
		if m := fromRe.FindStringSubmatch(trimmed); m != nil {
			args := []string{strconv.Quote(m[1])}
			for _, item := range splitItems(m[2]) {
				name, alias := item[0], item[1]
				if alias == "" {
					alias = name
				}
				args = append(args, alias+"="+strconv.Quote(name))
			}
			lines[i] = "load(" + strings.Join(args, ", ") + ")" + m[3]
		}
	}
	return strings.Join(lines, "\n")
}

// splitItems parses "a as b, c" into [["a","b"], ["c",""]].
func splitItems(list string) [][2]string {
	var items [][2]string
	for _, part := range strings.Split(list, ",") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 1:
			items = append(items, [2]string{fields[0], ""})
		case 3:
			items = append(items, [2]string{fields[0], fields[2]})
		}
	}
	return items
}
