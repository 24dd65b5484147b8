package proc

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// initEnvKey marks a re-executed sandbox child. Its value is the number of
// the inherited descriptor that carries the JSON childConfig.
const initEnvKey = "_TOOLSANDBOX_INIT"

// configFD is the first ExtraFiles descriptor in the child.
const configFD = 3

// initFailureCode is the exit status of a child that could not set itself
// up. It is paired with initErrPrefix on stderr so a command that happens
// to exit 125 is not mistaken for an init failure.
const (
	initFailureCode = 125
	initErrPrefix   = "toolsandbox-init: "
)

// ModeExec runs Spec.Argv through execve after limits are applied.
const ModeExec = "exec"

// Handler runs inside the child process after resource limits are in
// place. It returns the process exit status.
type Handler func(payload json.RawMessage, stdin io.Reader, stdout, stderr io.Writer) int

var (
	handlersMu sync.RWMutex
	handlers   = map[string]Handler{}
)

// RegisterHandler makes fn available as a child mode. It is meant to be
// called from package init functions; registering a mode twice panics.
func RegisterHandler(mode string, fn Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	if mode == ModeExec {
		panic("proc: mode " + ModeExec + " is reserved")
	}
	if _, dup := handlers[mode]; dup {
		panic("proc: handler registered twice for mode " + mode)
	}
	handlers[mode] = fn
}

func lookupHandler(mode string) (Handler, bool) {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	fn, ok := handlers[mode]
	return fn, ok
}

type childConfig struct {
	Mode        string          `json:"mode"`
	Argv        []string        `json:"argv,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CPUSeconds  int             `json:"cpu_seconds"`
	MemoryBytes int64           `json:"memory_bytes"`
}

// Function variables swapped in tests.
var (
	osExitFn      = os.Exit
	syscallExecFn = syscall.Exec
	setrlimitFn   = unix.Setrlimit
	getrlimitFn   = unix.Getrlimit
)

// MaybeChildInit must be the first call in main and in TestMain of any
// package whose tests spawn sandbox children. In a normal process it
// returns immediately. In a sandbox child it never returns.
func MaybeChildInit() {
	fdStr := os.Getenv(initEnvKey)
	if fdStr == "" {
		return
	}
	osExitFn(childInit(fdStr))
}

func childInit(fdStr string) int {
	fd, err := strconv.Atoi(fdStr)
	if err != nil || fd != configFD {
		return initFail("invalid config descriptor")
	}
	f := os.NewFile(uintptr(fd), "sandbox-config")
	if f == nil {
		return initFail("config descriptor is not open")
	}
	var cfg childConfig
	err = json.NewDecoder(f).Decode(&cfg)
	_ = f.Close()
	if err != nil {
		return initFail("decode config: %v", err)
	}
	_ = os.Unsetenv(initEnvKey)

	if err := applyLimits(cfg.CPUSeconds, cfg.MemoryBytes); err != nil {
		return initFail("resource limits: %v", err)
	}

	if cfg.Mode == ModeExec {
		if len(cfg.Argv) == 0 {
			return initFail("no command to exec")
		}
		if err := syscallExecFn(cfg.Argv[0], cfg.Argv, os.Environ()); err != nil {
			return initFail("exec: %v", err)
		}
		return 0
	}
	fn, ok := lookupHandler(cfg.Mode)
	if !ok {
		return initFail("unknown mode %q", cfg.Mode)
	}
	return fn(cfg.Payload, os.Stdin, os.Stdout, os.Stderr)
}

// applyLimits caps the child before any untrusted input is processed.
//
// Memory is capped with RLIMIT_DATA rather than RLIMIT_AS: the Go runtime
// reserves large PROT_NONE ranges at startup that count against the
// address space but not against the data segment.
//
// The CPU soft limit sits one second past the requested budget so a spin
// loop trips the parent's wall-clock deadline first and is reported as a
// timeout. The hard limit one second later sends SIGKILL to children, such
// as Go programs, that catch SIGXCPU.
func applyLimits(cpuSeconds int, memoryBytes int64) error {
	limits := []rlimit{
		{unix.RLIMIT_CORE, 0, 0},
		{unix.RLIMIT_FSIZE, 0, 0},
	}
	if cpuSeconds > 0 {
		limits = append(limits, rlimit{unix.RLIMIT_CPU, uint64(cpuSeconds) + 1, uint64(cpuSeconds) + 2})
	}
	if memoryBytes > 0 {
		limits = append(limits, rlimit{unix.RLIMIT_DATA, uint64(memoryBytes), uint64(memoryBytes)})
	}
	for _, l := range limits {
		var cur unix.Rlimit
		if err := getrlimitFn(l.resource, &cur); err != nil {
			return fmt.Errorf("getrlimit %d: %w", l.resource, err)
		}
		// An unprivileged process cannot raise its hard limit.
		rlim := unix.Rlimit{Cur: min(l.soft, cur.Max), Max: min(l.hard, cur.Max)}
		if err := setrlimitFn(l.resource, &rlim); err != nil {
			return fmt.Errorf("setrlimit %d: %w", l.resource, err)
		}
	}
	return nil
}

type rlimit struct {
	resource   int
	soft, hard uint64
}

func initFail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, initErrPrefix+format+"\n", args...)
	return initFailureCode
}

func isInitFailure(exitCode int, stderr []byte) bool {
	return exitCode == initFailureCode && strings.HasPrefix(string(stderr), initErrPrefix)
}
