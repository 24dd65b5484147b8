// Package codebox runs short user programs in an isolated child process.
//
// Programs are written in Starlark, a deterministic Python dialect, and run
// by an interpreter inside a fresh re-exec child (see package proc) that has
// already capped its own CPU time and memory. The interpreter namespace has
// no file, process or reflection primitives; modules are reachable only
// through an allowlist (math, json, time/datetime, random, re). Python-style
// import lines are accepted and routed through the same allowlist.
//
// Nothing survives between calls: each Execute spawns a new child in a new
// temporary working directory and removes both before returning.
package codebox

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"toolsandbox/internal/proc"
	"toolsandbox/internal/toolerr"
)

// DefaultMaxCodeBytes bounds submitted source.
const DefaultMaxCodeBytes = 64 << 10

// Config holds startup-time settings. None of it comes from tool arguments.
type Config struct {
	Limits       proc.Limits
	MaxCodeBytes int
}

// Sandbox executes code. It holds no per-call state and is safe for
// concurrent use.
type Sandbox struct {
	limits       proc.Limits
	maxCodeBytes int
}

// Request is one execution. Seed, when set, makes the random module
// reproducible for this call only.
type Request struct {
	Code string
	Seed *uint64
}

// Output is the captured result of a successful run.
type Output struct {
	Stdout    string
	Truncated bool
	Elapsed   time.Duration
}

func New(cfg Config) *Sandbox {
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = DefaultMaxCodeBytes
	}
	return &Sandbox{limits: cfg.Limits, maxCodeBytes: cfg.MaxCodeBytes}
}

// Execute runs req.Code and returns its printed output. Failures are
// *toolerr.Error values: ValidationError for syntax errors (with position),
// ExecutionError for runtime and import errors, Timeout when the wall-clock
// deadline fires, ResourceLimitExceeded for CPU, memory and stack caps.
func (s *Sandbox) Execute(ctx context.Context, req Request) (Output, error) {
	if strings.TrimSpace(req.Code) == "" {
		return Output{}, toolerr.Validation("code is required")
	}
	if len(req.Code) > s.maxCodeBytes {
		return Output{}, toolerr.Validation("code is %d bytes, limit is %d", len(req.Code), s.maxCodeBytes)
	}
	payload, err := json.Marshal(childPayload{MaxOutput: s.limits.OutputBytes, Seed: req.Seed})
	if err != nil {
		return Output{}, toolerr.Internal("encode sandbox payload")
	}
	dir, err := os.MkdirTemp("", "toolsandbox-code-")
	if err != nil {
		return Output{}, toolerr.Internal("create sandbox working directory")
	}
	defer os.RemoveAll(dir)

	limits := s.limits
	// The report is JSON, so escaped output can be several times larger.
	limits.OutputBytes = 8*s.limits.OutputBytes + 4096

	out, err := proc.Run(ctx, proc.Spec{
		Mode:    childMode,
		Payload: payload,
		Stdin:   []byte(req.Code),
		Dir:     dir,
		Limits:  limits,
	})
	if err != nil {
		return Output{}, err
	}
	if limitErr := out.LimitError(); limitErr != nil {
		return Output{Elapsed: out.Elapsed}, limitErr
	}
	if out.ExitCode != 0 {
		if strings.Contains(string(out.Stderr), "stack overflow") {
			return Output{Elapsed: out.Elapsed}, toolerr.ResourceLimit("maximum recursion depth exceeded")
		}
		return Output{Elapsed: out.Elapsed}, toolerr.Internal("sandbox process exited unexpectedly")
	}

	var rep report
	if err := json.Unmarshal(out.Stdout, &rep); err != nil {
		return Output{Elapsed: out.Elapsed}, toolerr.Internal("malformed sandbox report")
	}
	result := Output{Stdout: rep.Stdout, Truncated: rep.Truncated, Elapsed: out.Elapsed}
	switch rep.Status {
	case statusOK:
		return result, nil
	case statusSyntax:
		return result, &toolerr.Error{Kind: toolerr.KindValidation, Message: rep.Error, Line: rep.Line, Column: rep.Column}
	case statusRuntime, statusImport:
		return result, &toolerr.Error{Kind: toolerr.KindExecution, Message: rep.Error, Line: rep.Line, Column: rep.Column}
	default:
		return result, toolerr.Internal("unknown sandbox status")
	}
}
