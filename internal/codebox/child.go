package codebox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"toolsandbox/internal/proc"
)

const (
	childMode = "starlark"
	codeFile  = "<code>"

	// maxStackBytes turns runaway recursion into a fatal stack overflow
	// well before the memory rlimit is reached.
	maxStackBytes = 32 << 20
	maxErrorBytes = 1024
)

const (
	statusOK      = "ok"
	statusSyntax  = "syntax"
	statusRuntime = "runtime"
	statusImport  = "import"
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

func init() {
	proc.RegisterHandler(childMode, runChild)
}

type childPayload struct {
	MaxOutput int     `json:"max_output"`
	Seed      *uint64 `json:"seed,omitempty"`
}

// report is the single JSON document the child writes to stdout.
type report struct {
	Status    string `json:"status"`
	Stdout    string `json:"stdout"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
}

func runChild(payload json.RawMessage, stdin io.Reader, stdout, _ io.Writer) int {
	var p childPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 2
	}
	src, err := io.ReadAll(stdin)
	if err != nil {
		return 2
	}
	debug.SetMaxStack(maxStackBytes)
	if err := json.NewEncoder(stdout).Encode(run(string(src), p)); err != nil {
		return 2
	}
	return 0
}

// run executes src on a fresh thread. Only the universe builtins, struct and
// the modules reachable through the allowlist loader are visible; there is
// no file, process or host-environment primitive to reach.
func run(src string, p childPayload) (rep report) {
	out := &printBuffer{limit: p.MaxOutput}
	// A panic in a builtin would otherwise kill the child with no report.
	defer func() {
		if v := recover(); v != nil {
			rep = report{
				Status:    statusRuntime,
				Stdout:    out.String(),
				Truncated: out.truncated,
				Error:     clip(fmt.Sprintf("RuntimeError: %v", v), maxErrorBytes),
			}
		}
	}()
	thread := &starlark.Thread{
		Name: "code",
		Print: func(_ *starlark.Thread, msg string) {
			out.write(msg)
			out.write("\n")
		},
		Load: newLoader(p.Seed),
	}
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	_, err := starlark.ExecFileOptions(fileOptions, thread, codeFile, rewriteImports(src), predeclared)

	rep = report{Status: statusOK, Stdout: out.String(), Truncated: out.truncated}
	if err != nil {
		describe(err, &rep)
	}
	return rep
}

func describe(err error, rep *report) {
	var (
		synErr  syntax.Error
		resErrs resolve.ErrorList
		impErr  *importError
		evalErr *starlark.EvalError
	)
	switch {
	case errors.As(err, &synErr):
		rep.Status = statusSyntax
		rep.Error = "SyntaxError: " + synErr.Msg
		rep.Line, rep.Column = int(synErr.Pos.Line), int(synErr.Pos.Col)
	case errors.As(err, &resErrs) && len(resErrs) > 0:
		first := resErrs[0]
		rep.Line, rep.Column = int(first.Pos.Line), int(first.Pos.Col)
		if strings.HasPrefix(first.Msg, "undefined:") {
			rep.Status = statusRuntime
			rep.Error = "NameError: " + first.Msg
		} else {
			rep.Status = statusSyntax
			rep.Error = "SyntaxError: " + first.Msg
		}
	case errors.As(err, &impErr):
		rep.Status = statusImport
		rep.Error = "ImportError: " + impErr.Error()
		rep.Line = codeLine(evalErr, err)
	case errors.As(err, &evalErr):
		rep.Status = statusRuntime
		rep.Error = "RuntimeError: " + evalErr.Msg
		rep.Line = codeLine(evalErr, err)
	default:
		rep.Status = statusRuntime
		rep.Error = "RuntimeError: " + err.Error()
	}
	rep.Error = clip(rep.Error, maxErrorBytes)
}

// codeLine returns the line of the innermost frame that belongs to the
// user's code. Builtin frames are skipped.
func codeLine(evalErr *starlark.EvalError, err error) int {
	if evalErr == nil && !errors.As(err, &evalErr) {
		return 0
	}
	for i := len(evalErr.CallStack) - 1; i >= 0; i-- {
		pos := evalErr.CallStack[i].Pos
		if pos.Filename() == codeFile {
			return int(pos.Line)
		}
	}
	return 0
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// printBuffer keeps the first limit bytes printed by user code.
type printBuffer struct {
	strings.Builder
	limit     int
	truncated bool
}

func (b *printBuffer) write(s string) {
	if b.truncated {
		return
	}
	remaining := b.limit - b.Len()
	if b.limit > 0 && len(s) > remaining {
		b.WriteString(s[:remaining])
		b.truncated = true
		return
	}
	b.WriteString(s)
}
