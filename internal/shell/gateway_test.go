package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"toolsandbox/internal/fileguard"
	"toolsandbox/internal/proc"
	"toolsandbox/internal/toolerr"
)

func TestMain(m *testing.M) {
	proc.MaybeChildInit()
	os.Exit(m.Run())
}

func newGateway(t *testing.T) *Gateway {
	t.Helper()
	guard, err := fileguard.New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("failed to create guard: %v", err)
	}
	return New(guard, proc.Limits{
		WallTimeout: 5 * time.Second,
		GracePeriod: 500 * time.Millisecond,
		CPUSeconds:  5,
		MemoryBytes: 100_000_000,
		OutputBytes: 10_000,
	})
}

func TestPrepareRejectsUnlistedCommands(t *testing.T) {
	g := newGateway(t)
	for _, line := range []string{
		`find / -exec rm {} \;`,
		"grep -r secret .",
		"sh -c ls",
		"bash",
		"/bin/ls",
		"./ls",
		"python3 -c 'print(1)'",
		"rm -rf /",
		"ls;rm -rf /",
	} {
		_, err := g.Prepare(line)
		if !errors.Is(err, toolerr.ErrPermission) {
			t.Fatalf("%q: expected permission denied, got %v", line, err)
		}
	}
}

func TestPrepareRejectsMetacharacters(t *testing.T) {
	g := newGateway(t)
	for _, line := range []string{
		"echo hi; rm -rf /",
		"echo `whoami`",
		"echo $(whoami)",
		"echo $HOME",
		"cat a.txt | wc -l",
		"ls > out.txt",
		"ls *.go",
		"echo 'quoted;semicolon'",
		"cat a.txt && ls",
		"ls ~",
		"echo \"a\nb\"",
		`cat "a\b"`,
	} {
		_, err := g.Prepare(line)
		if !errors.Is(err, toolerr.ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", line, err)
		}
	}
}

func TestPrepareRejectsBlockedPaths(t *testing.T) {
	g := newGateway(t)
	for _, line := range []string{
		"cat /etc/passwd",
		"cat ../../etc/passwd",
		"ls /proc/self",
		"head -n 1 /root/.bashrc",
		"ls /",
		"stat /dev/null",
		"echo ../../outside",
	} {
		_, err := g.Prepare(line)
		if !errors.Is(err, toolerr.ErrPermission) {
			t.Fatalf("%q: expected permission denied, got %v", line, err)
		}
	}
}

func TestPrepareFlags(t *testing.T) {
	g := newGateway(t)
	ok := map[string][]string{
		"ls -la":             {"ls", "-la"},
		"head -n 5 a.txt":    {"head", "-n", "5", "a.txt"},
		"tail -n5 a.txt":     {"tail", "-n5", "a.txt"},
		"wc -l -w a.txt b":   {"wc", "-l", "-w", "a.txt", "b"},
		"cat -- -odd":        {"cat", "--", "./-odd"},
		"date -u +%Y-%m-%d":  {"date", "-u", "+%Y-%m-%d"},
		"echo hello world":   {"echo", "hello", "world"},
		"echo 'hello world'": {"echo", "hello world"},
		"stat -c %s a.txt":   {"stat", "-c", "%s", "a.txt"},
		"ls ./sub/../":       {"ls", "."},
		"pwd":                {"pwd"},
	}
	for line, want := range ok {
		got, err := g.Prepare(line)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", line, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%q: expected %v, got %v", line, want, got)
		}
	}

	for _, line := range []string{
		"tail -f a.txt",
		"head -n abc a.txt",
		"head -n",
		"ls --color=always",
		"ls -lZ",
		"pwd extra",
		"date 010100002030",
		"cat 'unterminated",
		"",
	} {
		if _, err := g.Prepare(line); !errors.Is(err, toolerr.ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", line, err)
		}
	}
}

func TestRunCommands(t *testing.T) {
	g := newGateway(t)
	root := g.guard.Root()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := g.Run(context.Background(), "cat notes.txt")
	if err != nil {
		t.Fatalf("cat: unexpected error: %v", err)
	}
	if out.Stdout != "one\ntwo\nthree\n" || out.ExitCode != 0 {
		t.Fatalf("cat: unexpected output %+v", out)
	}

	out, err = g.Run(context.Background(), "ls")
	if err != nil {
		t.Fatalf("ls: unexpected error: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "notes.txt" {
		t.Fatalf("ls: unexpected output %q", out.Stdout)
	}

	out, err = g.Run(context.Background(), "wc -l notes.txt")
	if err != nil {
		t.Fatalf("wc: unexpected error: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "3 notes.txt" {
		t.Fatalf("wc: unexpected output %q", out.Stdout)
	}
}

func TestRunNonzeroExitIsNotAnError(t *testing.T) {
	g := newGateway(t)
	out, err := g.Run(context.Background(), "cat missing.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ExitCode == 0 {
		t.Fatalf("expected nonzero exit, got %+v", out)
	}
	if !strings.Contains(out.Stderr, "missing.txt") {
		t.Fatalf("expected stderr to mention the file, got %q", out.Stderr)
	}
}

func TestRunStderrIsNotALimit(t *testing.T) {
	g := newGateway(t)
	out, err := g.Run(context.Background(), `cat "out of memory"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ExitCode != 1 {
		t.Fatalf("expected cat to exit 1, got %+v", out)
	}
	if !strings.Contains(out.Stderr, "out of memory") {
		t.Fatalf("expected cat's stderr, got %q", out.Stderr)
	}
}

func TestSplitCommand(t *testing.T) {
	cases := map[string][]string{
		`a b  c`:    {"a", "b", "c"},
		`a "b c" d`: {"a", "b c", "d"},
		`a 'b "c"'`: {"a", `b "c"`},
		`a b\ c`:    {"a", "b c"},
		`a ""`:      {"a", ""},
		`  `:        nil,
		`a "b\c"`:   {"a", `b\c`},
		`a "b\"c"`:  {"a", `b"c`},
		`a "b\\c"`:  {"a", `b\c`},
		`a 'b\c'`:   {"a", `b\c`},
		"a b\\\nc":  {"a", "bc"},
	}
	for in, want := range cases {
		got, err := splitCommand(in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", in, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%q: expected %#v, got %#v", in, want, got)
		}
	}
	for _, in := range []string{`a "b`, `a 'b`, `a \`} {
		if _, err := splitCommand(in); !errors.Is(err, toolerr.ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", in, err)
		}
	}
}
