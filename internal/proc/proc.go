// Package proc runs untrusted work in a fresh, resource-limited child process.
//
// The child is the current executable re-entered through MaybeChildInit. It
// reads a JSON config from an inherited pipe, applies rlimits to itself and
// then either execs a command (ModeExec) or runs a registered Handler. The
// parent owns the wall-clock deadline: on expiry it sends SIGTERM to the
// child's process group, waits the grace period and escalates to SIGKILL.
// Run never returns while the child is still alive.
package proc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"toolsandbox/internal/toolerr"
)

// Limits bound a single child process.
type Limits struct {
	WallTimeout time.Duration
	GracePeriod time.Duration
	CPUSeconds  int
	MemoryBytes int64
	// OutputBytes caps stdout and stderr separately.
	OutputBytes int
}

// Spec describes one child run.
type Spec struct {
	Mode    string
	Argv    []string
	Payload json.RawMessage
	Stdin   []byte
	Dir     string
	Limits  Limits
}

// Outcome is what the parent observed about a finished child.
type Outcome struct {
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
	ExitCode        int
	// Signal is the signal that terminated the child, or 0.
	Signal syscall.Signal
	// TimedOut is set when the deadline or the context ended the run.
	TimedOut bool
	// Killed is set when SIGTERM was not enough and SIGKILL was sent.
	Killed  bool
	PID     int
	Elapsed time.Duration

	wall time.Duration
	mode string
}

// Run starts a child for spec and waits for it to finish. The returned
// error is always an InternalError and means the child could not be
// started or could not initialize; every other result is in Outcome.
func Run(ctx context.Context, spec Spec) (Outcome, error) {
	if spec.Limits.WallTimeout <= 0 {
		return Outcome{}, toolerr.Internal("wall timeout must be positive")
	}
	if spec.Mode == ModeExec && len(spec.Argv) == 0 {
		return Outcome{}, toolerr.Internal("exec mode requires a command")
	}
	self, err := os.Executable()
	if err != nil {
		return Outcome{}, toolerr.Internal("cannot locate sandbox executable")
	}
	cfg, err := json.Marshal(childConfig{
		Mode:        spec.Mode,
		Argv:        spec.Argv,
		Payload:     spec.Payload,
		CPUSeconds:  spec.Limits.CPUSeconds,
		MemoryBytes: spec.Limits.MemoryBytes,
	})
	if err != nil {
		return Outcome{}, toolerr.Internal("encode sandbox config")
	}
	cfgR, cfgW, err := os.Pipe()
	if err != nil {
		return Outcome{}, toolerr.Internal("create config pipe")
	}

	stdout := newCappedBuffer(spec.Limits.OutputBytes)
	stderr := newCappedBuffer(spec.Limits.OutputBytes)
	cmd := exec.Command(self)
	cmd.Args = []string{"toolsandbox-child"}
	cmd.Dir = spec.Dir
	cmd.Env = childEnv(spec)
	cmd.Stdin = bytes.NewReader(spec.Stdin)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{cfgR}
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = spec.Limits.GracePeriod + time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = cfgR.Close()
		_ = cfgW.Close()
		return Outcome{}, toolerr.Internal("failed to start sandbox process")
	}
	_ = cfgR.Close()

	out := Outcome{PID: cmd.Process.Pid, wall: spec.Limits.WallTimeout, mode: spec.Mode}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	// The child reads the whole config before doing anything else, so this
	// write only blocks until it is scheduled.
	go func() {
		_, _ = cfgW.Write(cfg)
		_ = cfgW.Close()
	}()

	timer := time.NewTimer(spec.Limits.WallTimeout)
	defer timer.Stop()

	select {
	case <-done:
		// The leader is gone; reap anything it left in its group.
		_ = signalGroup(out.PID, syscall.SIGKILL)
	case <-timer.C:
		out.TimedOut = true
		out.Killed = terminate(out.PID, done, spec.Limits.GracePeriod)
	case <-ctx.Done():
		out.TimedOut = true
		out.Killed = terminate(out.PID, done, spec.Limits.GracePeriod)
	}
	out.Elapsed = time.Since(start)
	out.Stdout = stdout.Bytes()
	out.Stderr = stderr.Bytes()
	out.StdoutTruncated = stdout.Truncated()
	out.StderrTruncated = stderr.Truncated()

	if state := cmd.ProcessState; state != nil {
		out.ExitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			out.Signal = ws.Signal()
		}
	}
	if !out.TimedOut && isInitFailure(out.ExitCode, out.Stderr) {
		return out, toolerr.Internal("sandbox process failed to initialize")
	}
	return out, nil
}

// terminate stops the child's process group: SIGTERM, then SIGKILL if the
// child is still running after grace. It returns once the child has been
// reaped and reports whether SIGKILL was needed.
func terminate(pid int, done <-chan error, grace time.Duration) bool {
	_ = signalGroup(pid, syscall.SIGTERM)
	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case <-done:
		// The leader exited; sweep anything left in its group.
		_ = signalGroup(pid, syscall.SIGKILL)
		return false
	case <-graceTimer.C:
	}
	_ = signalGroup(pid, syscall.SIGKILL)
	<-done
	return true
}

// signalGroup signals every process in the group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	// kill(0) and kill(-1) would hit our own group or every process we own.
	if pid <= 1 {
		return os.ErrProcessDone
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

func childEnv(spec Spec) []string {
	home := spec.Dir
	if home == "" {
		home = os.TempDir()
	}
	env := []string{
		"PATH=/usr/bin:/bin",
		"HOME=" + home,
		"LANG=C",
		"LC_ALL=C",
		"TERM=dumb",
		"GOTRACEBACK=none",
		"GOMAXPROCS=1",
		initEnvKey + "=" + strconv.Itoa(configFD),
	}
	if spec.Limits.MemoryBytes > 0 {
		// Let the collector work harder before the rlimit is reached.
		env = append(env, fmt.Sprintf("GOMEMLIMIT=%dB", spec.Limits.MemoryBytes*3/4))
	}
	return env
}

// LimitError classifies an Outcome that ended because a limit was hit. It
// returns nil when the child ran to completion on its own terms.
func (o Outcome) LimitError() *toolerr.Error {
	switch {
	case o.TimedOut:
		return toolerr.Timeout("execution exceeded the %s wall-clock limit and was stopped", o.wall)
	case o.Signal == syscall.SIGXCPU:
		return toolerr.ResourceLimit("CPU time limit exceeded")
	case o.Signal == syscall.SIGXFSZ:
		return toolerr.ResourceLimit("file size limit exceeded")
	case o.Signal == syscall.SIGKILL:
		// We only send SIGKILL on timeout, so this came from the kernel:
		// the CPU hard limit or the OOM killer.
		return toolerr.ResourceLimit("process killed after exceeding a resource limit")
	case o.mode != ModeExec && o.ExitCode != 0 && runtimeOutOfMemory(o.Stderr):
		// Only handler children run our own binary, so only their stderr
		// is the Go runtime's. An exec'd command may print anything.
		return toolerr.ResourceLimit("memory limit exceeded")
	}
	return nil
}

// runtimeOOMPrefixes are the lines the Go runtime prints when an
// allocation fails under the data rlimit.
var runtimeOOMPrefixes = []string{
	"fatal error: runtime: out of memory",
	"fatal error: out of memory",
	"runtime: out of memory",
}

func runtimeOutOfMemory(stderr []byte) bool {
	for _, line := range strings.Split(string(stderr), "\n") {
		for _, prefix := range runtimeOOMPrefixes {
			if strings.HasPrefix(line, prefix) {
				return true
			}
		}
	}
	return false
}
