// Package shell runs a small allowlist of read-only commands.
//
// A command line is split into words with shell quoting rules but is never
// handed to a shell. The first word must name an allowlisted command, every
// other word is checked for shell metacharacters and against the command's
// flag table, and file operands are confined to the workspace. The command
// then runs through proc with the same limits as code execution.
package shell

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"toolsandbox/internal/fileguard"
	"toolsandbox/internal/proc"
	"toolsandbox/internal/toolerr"
)

const maxCommandBytes = 4096

// metacharacters are refused anywhere in an argument, quoted or not.
const metacharacters = ";|&$`()<>*?[]{}~!\\\n\r\x00"

var numericValue = regexp.MustCompile(`^[+-]?[0-9]+$`)

// Gateway validates and runs command lines. It is safe for concurrent use.
type Gateway struct {
	guard  *fileguard.Guard
	limits proc.Limits
}

// Output is the captured result of a command that ran. A nonzero ExitCode
// is an ordinary outcome, not an error.
type Output struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	Elapsed   time.Duration
}

func New(guard *fileguard.Guard, limits proc.Limits) *Gateway {
	return &Gateway{guard: guard, limits: limits}
}

// Run validates commandLine and executes it in the workspace root.
func (g *Gateway) Run(ctx context.Context, commandLine string) (Output, error) {
	argv, err := g.Prepare(commandLine)
	if err != nil {
		return Output{}, err
	}
	bin, err := lookupBinary(argv[0])
	if err != nil {
		return Output{}, err
	}
	argv[0] = bin

	out, err := proc.Run(ctx, proc.Spec{
		Mode:   proc.ModeExec,
		Argv:   argv,
		Dir:    g.guard.Root(),
		Limits: g.limits,
	})
	if err != nil {
		return Output{}, err
	}
	if limitErr := out.LimitError(); limitErr != nil {
		return Output{Elapsed: out.Elapsed}, limitErr
	}
	return Output{
		Stdout:    string(out.Stdout),
		Stderr:    string(out.Stderr),
		ExitCode:  out.ExitCode,
		Truncated: out.StdoutTruncated || out.StderrTruncated,
		Elapsed:   out.Elapsed,
	}, nil
}

// Prepare turns commandLine into the argv that Run would execute, with
// file operands rewritten relative to the workspace root. argv[0] is the
// bare command name.
func (g *Gateway) Prepare(commandLine string) ([]string, error) {
	if strings.TrimSpace(commandLine) == "" {
		return nil, toolerr.Validation("command is required")
	}
	if len(commandLine) > maxCommandBytes {
		return nil, toolerr.Validation("command is longer than %d bytes", maxCommandBytes)
	}
	words, err := splitCommand(commandLine)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, toolerr.Validation("command is required")
	}

	entry, ok := allowlist[words[0]]
	if !ok {
		return nil, toolerr.Permission("command %q is not allowed", clipWord(words[0]))
	}
	for _, w := range words[1:] {
		if i := strings.IndexAny(w, metacharacters); i >= 0 {
			return nil, toolerr.Validation("argument contains disallowed character %q", w[i])
		}
	}

	argv := []string{entry.Command}
	operandsOnly := false
	for i := 1; i < len(words); i++ {
		w := words[i]
		if !operandsOnly && w == "--" {
			operandsOnly = true
			argv = append(argv, w)
			continue
		}
		if !operandsOnly && strings.HasPrefix(w, "-") && w != "-" {
			consumed, err := checkFlag(entry, w, words[i+1:])
			if err != nil {
				return nil, err
			}
			argv = append(argv, words[i:i+1+consumed]...)
			i += consumed
			continue
		}
		operand, err := g.checkOperand(entry, w)
		if err != nil {
			return nil, err
		}
		argv = append(argv, operand)
	}
	return argv, nil
}

// checkFlag validates one flag word and returns how many following words
// it consumes as its value.
func checkFlag(entry AllowlistEntry, w string, rest []string) (int, error) {
	if takesValue, ok := entry.Flags[w]; ok {
		if !takesValue {
			return 0, nil
		}
		if len(rest) == 0 {
			return 0, toolerr.Validation("flag %s requires a value", w)
		}
		return 1, checkValue(entry, w, rest[0])
	}
	if strings.HasPrefix(w, "--") {
		name, value, hasValue := strings.Cut(w, "=")
		if takesValue, ok := entry.Flags[name]; ok && takesValue && hasValue {
			return 0, checkValue(entry, name, value)
		}
		return 0, toolerr.Validation("flag %s is not allowed for %s", clipWord(w), entry.Command)
	}
	// Short value flag with an attached value: -n5.
	if len(w) > 2 {
		if takesValue, ok := entry.Flags[w[:2]]; ok && takesValue {
			return 0, checkValue(entry, w[:2], w[2:])
		}
	}
	// Bundled boolean flags: -la.
	for _, c := range w[1:] {
		takesValue, ok := entry.Flags["-"+string(c)]
		if !ok || takesValue {
			return 0, toolerr.Validation("flag %s is not allowed for %s", clipWord(w), entry.Command)
		}
	}
	return 0, nil
}

func checkValue(entry AllowlistEntry, flag, value string) error {
	if entry.NumericValues && !numericValue.MatchString(value) {
		return toolerr.Validation("flag %s expects a number", flag)
	}
	return nil
}

func (g *Gateway) checkOperand(entry AllowlistEntry, w string) (string, error) {
	switch entry.Operands {
	case operandsNone:
		return "", toolerr.Validation("%s takes no arguments", entry.Command)
	case operandsDateFormat:
		if !strings.HasPrefix(w, "+") {
			return "", toolerr.Validation("date only accepts +FORMAT arguments")
		}
		return w, nil
	case operandsText:
		if !pathLike(w) {
			return w, nil
		}
		if _, err := g.confine(w); err != nil {
			return "", err
		}
		return w, nil
	default:
		return g.confine(w)
	}
}

// confine runs a path operand through the blocked-prefix list and the
// workspace guard, and returns it relative to the root.
func (g *Gateway) confine(w string) (string, error) {
	if blocked(w) && !g.rootUnder(filepath.Clean(w)) {
		return "", toolerr.Permission("access to system paths is not allowed")
	}
	resolved, err := g.guard.Resolve(w)
	if err != nil {
		return "", err
	}
	if blocked(resolved) && !g.rootUnder(resolved) {
		return "", toolerr.Permission("access to system paths is not allowed")
	}
	rel := g.guard.Rel(resolved)
	if strings.HasPrefix(rel, "-") {
		rel = "./" + rel
	}
	return rel, nil
}

// rootUnder reports whether the workspace root itself lives under the
// blocked prefix that p matches; such a prefix cannot apply to workspace
// files.
func (g *Gateway) rootUnder(p string) bool {
	root := g.guard.Root() + "/"
	for _, prefix := range blockedPrefixes {
		if strings.HasPrefix(p, prefix) && strings.HasPrefix(root, prefix) {
			return true
		}
	}
	return false
}

func blocked(p string) bool {
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p) + "/"
	for _, prefix := range blockedPrefixes {
		if strings.HasPrefix(clean, prefix) {
			return true
		}
	}
	return false
}

func pathLike(w string) bool {
	return strings.Contains(w, "/") || strings.HasPrefix(w, ".")
}

func lookupBinary(name string) (string, error) {
	for _, dir := range binDirs {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() && info.Mode()&0o111 != 0 {
			return p, nil
		}
	}
	return "", toolerr.Internal("command %q is not installed", name)
}

func clipWord(w string) string {
	if len(w) > 64 {
		return w[:64] + "..."
	}
	return w
}

// splitCommand splits input into words with POSIX quoting rules. Single
// quotes preserve everything. Inside double quotes a backslash only escapes
// $ ` " \ and newline and is kept literally before anything else.
func splitCommand(input string) ([]string, error) {
	var words []string
	var buf bytes.Buffer
	inWord, inSingle, inDouble := false, false, false

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && !inSingle:
			if i+1 == len(runes) {
				return nil, toolerr.Validation("unterminated quote or escape in command")
			}
			next := runes[i+1]
			i++
			switch {
			case next == '\n':
				// line continuation
			case inDouble && !strings.ContainsRune("$`\"\\", next):
				buf.WriteRune('\\')
				buf.WriteRune(next)
			default:
				buf.WriteRune(next)
				inWord = true
			}
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			inWord = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			inWord = true
		case (r == ' ' || r == '\t' || r == '\n') && !inSingle && !inDouble:
			if inWord {
				words = append(words, buf.String())
				buf.Reset()
				inWord = false
			}
		default:
			buf.WriteRune(r)
			inWord = true
		}
	}
	if inSingle || inDouble {
		return nil, toolerr.Validation("unterminated quote or escape in command")
	}
	if inWord {
		words = append(words, buf.String())
	}
	return words, nil
}
