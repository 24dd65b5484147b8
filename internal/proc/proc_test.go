package proc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"toolsandbox/internal/toolerr"
)

func init() {
	RegisterHandler("test-echo", func(payload json.RawMessage, stdin io.Reader, stdout, stderr io.Writer) int {
		in, _ := io.ReadAll(stdin)
		fmt.Fprintf(stdout, "%s|%s", payload, in)
		return 0
	})
	RegisterHandler("test-flood", func(_ json.RawMessage, _ io.Reader, stdout, _ io.Writer) int {
		fmt.Fprint(stdout, strings.Repeat("x", 100_000))
		return 0
	})
	RegisterHandler("test-spin", func(json.RawMessage, io.Reader, io.Writer, io.Writer) int {
		for {
		}
	})
	RegisterHandler("test-hog", func(json.RawMessage, io.Reader, io.Writer, io.Writer) int {
		var keep [][]byte
		for i := 0; i < 64; i++ {
			b := make([]byte, 8<<20)
			for j := range b {
				b[j] = byte(j)
			}
			keep = append(keep, b)
		}
		return len(keep) - 64
	})
	RegisterHandler("test-env", func(_ json.RawMessage, _ io.Reader, stdout, _ io.Writer) int {
		fmt.Fprint(stdout, strings.Join(os.Environ(), "\n"))
		return 0
	})
}

func TestMain(m *testing.M) {
	MaybeChildInit()
	os.Exit(m.Run())
}

func limits(wall time.Duration) Limits {
	return Limits{
		WallTimeout: wall,
		GracePeriod: 300 * time.Millisecond,
		CPUSeconds:  10,
		MemoryBytes: 256 << 20,
		OutputBytes: 4096,
	}
}

func TestRunExec(t *testing.T) {
	out, err := Run(context.Background(), Spec{Mode: ModeExec, Argv: []string{"/bin/echo", "hello"}, Limits: limits(5 * time.Second)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.Stdout) != "hello\n" {
		t.Fatalf("unexpected stdout %q", out.Stdout)
	}
	if out.ExitCode != 0 || out.LimitError() != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestRunHandler(t *testing.T) {
	out, err := Run(context.Background(), Spec{
		Mode:    "test-echo",
		Payload: json.RawMessage(`{"a":1}`),
		Stdin:   []byte("input"),
		Limits:  limits(5 * time.Second),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.Stdout) != `{"a":1}|input` {
		t.Fatalf("unexpected stdout %q", out.Stdout)
	}
}

func TestRunMinimalEnvironment(t *testing.T) {
	t.Setenv("TOOLSANDBOX_TEST_SECRET", "hunter2")
	out, err := Run(context.Background(), Spec{Mode: "test-env", Limits: limits(5 * time.Second)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env := string(out.Stdout)
	if strings.Contains(env, "hunter2") {
		t.Fatalf("host environment leaked into child: %s", env)
	}
	if strings.Contains(env, initEnvKey) {
		t.Fatalf("init marker leaked into child: %s", env)
	}
	if !strings.Contains(env, "GOTRACEBACK=none") {
		t.Fatalf("expected GOTRACEBACK=none, got %s", env)
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	l := limits(5 * time.Second)
	l.OutputBytes = 100
	out, err := Run(context.Background(), Spec{Mode: "test-flood", Limits: l})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Stdout) != 100 || !out.StdoutTruncated {
		t.Fatalf("expected 100 bytes and truncation, got %d (%v)", len(out.Stdout), out.StdoutTruncated)
	}
}

func TestRunNonzeroExit(t *testing.T) {
	out, err := Run(context.Background(), Spec{Mode: ModeExec, Argv: []string{"/bin/sh", "-c", "echo oops >&2; exit 3"}, Limits: limits(5 * time.Second)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", out.ExitCode)
	}
	if strings.TrimSpace(string(out.Stderr)) != "oops" {
		t.Fatalf("unexpected stderr %q", out.Stderr)
	}
	if out.LimitError() != nil {
		t.Fatalf("nonzero exit is not a limit error")
	}
}

func TestLimitErrorTrustsOnlyRuntimeStderr(t *testing.T) {
	cases := []struct {
		name  string
		out   Outcome
		limit bool
	}{
		{"exec echoes operand", Outcome{mode: ModeExec, ExitCode: 1, Stderr: []byte("cat: 'out of memory': No such file or directory\n")}, false},
		{"exec runtime text", Outcome{mode: ModeExec, ExitCode: 2, Stderr: []byte("fatal error: runtime: out of memory\n")}, false},
		{"exec cpu signal", Outcome{mode: ModeExec, ExitCode: -1, Signal: syscall.SIGXCPU}, true},
		{"handler runtime oom", Outcome{mode: "test-hog", ExitCode: 2, Stderr: []byte("runtime: out of memory: cannot allocate 8388608-byte block\nfatal error: out of memory\n")}, true},
		{"handler mentions oom mid-line", Outcome{mode: "test-hog", ExitCode: 1, Stderr: []byte("value: out of memory\n")}, false},
		{"handler clean exit", Outcome{mode: "test-hog", Stderr: []byte("fatal error: out of memory\n")}, false},
	}
	for _, tc := range cases {
		err := tc.out.LimitError()
		if tc.limit && !errors.Is(err, toolerr.ErrResourceLimit) {
			t.Fatalf("%s: expected resource limit, got %v", tc.name, err)
		}
		if !tc.limit && err != nil {
			t.Fatalf("%s: expected no limit error, got %v", tc.name, err)
		}
	}
}

func TestRunReapsGroupAfterNormalExit(t *testing.T) {
	out, err := Run(context.Background(), Spec{
		Mode:   ModeExec,
		Argv:   []string{"/bin/sh", "-c", "sleep 30 >/dev/null 2>&1 & echo $!"},
		Limits: limits(5 * time.Second),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.TimedOut || out.ExitCode != 0 {
		t.Fatalf("expected a normal exit, got %+v", out)
	}
	bg, err := strconv.Atoi(strings.TrimSpace(string(out.Stdout)))
	if err != nil {
		t.Fatalf("unexpected stdout %q", out.Stdout)
	}
	deadline := time.Now().Add(2 * time.Second)
	for running(bg) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if running(bg) {
		t.Fatalf("background child %d survived the leader", bg)
	}
}

// running reports whether pid exists and is not a zombie waiting for its
// new parent to reap it.
func running(pid int) bool {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	i := strings.LastIndexByte(string(stat), ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	return stat[i+2] != 'Z'
}

func TestRunTimeoutLeavesNoProcess(t *testing.T) {
	start := time.Now()
	out, err := Run(context.Background(), Spec{Mode: "test-spin", Limits: limits(500 * time.Millisecond)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.TimedOut {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if !errors.Is(out.LimitError(), toolerr.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", out.LimitError())
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
	assertGone(t, out.PID)
}

func TestRunEscalatesToKill(t *testing.T) {
	out, err := Run(context.Background(), Spec{
		Mode:   ModeExec,
		Argv:   []string{"/bin/sh", "-c", "trap '' TERM; sleep 5"},
		Limits: limits(300 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.TimedOut || !out.Killed {
		t.Fatalf("expected SIGKILL escalation, got %+v", out)
	}
	if out.Elapsed > 3*time.Second {
		t.Fatalf("escalation took too long: %s", out.Elapsed)
	}
	assertGone(t, out.PID)
}

func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out, err := Run(ctx, Spec{Mode: "test-spin", Limits: limits(10 * time.Second)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.TimedOut {
		t.Fatalf("expected cancellation to stop the child")
	}
	assertGone(t, out.PID)
}

func TestRunMemoryLimit(t *testing.T) {
	l := limits(10 * time.Second)
	l.MemoryBytes = 64 << 20
	out, err := Run(context.Background(), Spec{Mode: "test-hog", Limits: l})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(out.LimitError(), toolerr.ErrResourceLimit) {
		t.Fatalf("expected resource limit, got %v (exit %d, stderr %q)", out.LimitError(), out.ExitCode, out.Stderr)
	}
}

func TestRunUnknownModeIsInternal(t *testing.T) {
	_, err := Run(context.Background(), Spec{Mode: "no-such-mode", Limits: limits(5 * time.Second)})
	if !errors.Is(err, toolerr.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestApplyLimits(t *testing.T) {
	origSet, origGet := setrlimitFn, getrlimitFn
	t.Cleanup(func() { setrlimitFn, getrlimitFn = origSet, origGet })

	got := map[int]unix.Rlimit{}
	getrlimitFn = func(resource int, rlim *unix.Rlimit) error {
		rlim.Max = 1 << 40
		if resource == unix.RLIMIT_CPU {
			rlim.Max = 5
		}
		return nil
	}
	setrlimitFn = func(resource int, rlim *unix.Rlimit) error {
		got[resource] = *rlim
		return nil
	}
	if err := applyLimits(10, 100_000_000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[unix.RLIMIT_DATA].Cur != 100_000_000 {
		t.Fatalf("unexpected data limit %+v", got[unix.RLIMIT_DATA])
	}
	if cpu := got[unix.RLIMIT_CPU]; cpu.Cur != 5 || cpu.Max != 5 {
		t.Fatalf("expected CPU limit clamped to hard limit, got %+v", cpu)
	}
	if got[unix.RLIMIT_CORE].Max != 0 || got[unix.RLIMIT_FSIZE].Max != 0 {
		t.Fatalf("expected core and fsize to be zero")
	}

	setrlimitFn = func(int, *unix.Rlimit) error { return unix.EPERM }
	if err := applyLimits(1, 1); err == nil {
		t.Fatalf("expected setrlimit failure to propagate")
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(5)
	n, err := b.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("unexpected write result %d %v", n, err)
	}
	n, _ = b.Write([]byte("defgh"))
	if n != 5 {
		t.Fatalf("writes must report full length, got %d", n)
	}
	if string(b.Bytes()) != "abcde" || !b.Truncated() {
		t.Fatalf("unexpected buffer %q truncated=%v", b.Bytes(), b.Truncated())
	}
}

// assertGone checks that neither the child nor any member of its process
// group is still alive.
func assertGone(t *testing.T, pid int) {
	t.Helper()
	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Fatalf("child %d still exists: %v", pid, err)
	}
	if err := syscall.Kill(-pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Fatalf("process group %d still has members: %v", pid, err)
	}
}
