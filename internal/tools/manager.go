package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolsandbox/internal/events"
	"toolsandbox/internal/render"
	"toolsandbox/internal/toolerr"
	"toolsandbox/internal/util"
)

const (
	DefaultCallTimeout    = 15 * time.Second
	DefaultMaxOutputBytes = 10_000
)

// Options configure a Manager. Zero values select the defaults.
type Options struct {
	Logger *zap.Logger
	// Renderer receives invocation events; nil disables them.
	Renderer render.Renderer
	// CallTimeout bounds a whole invocation, on top of the limits each
	// component enforces itself.
	CallTimeout    time.Duration
	MaxOutputBytes int
}

// Manager routes named invocations to tools and normalizes their results.
// It holds no per-call state; Invoke is safe to call from many goroutines.
type Manager struct {
	registry    *Registry
	logger      *zap.Logger
	renderer    render.Renderer
	callTimeout time.Duration
	maxOutput   int
}

// NewManager constructs a Manager over registry.
func NewManager(registry *Registry, opts Options) *Manager {
	m := &Manager{
		registry:    registry,
		logger:      opts.Logger,
		renderer:    opts.Renderer,
		callTimeout: opts.CallTimeout,
		maxOutput:   opts.MaxOutputBytes,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.callTimeout <= 0 {
		m.callTimeout = DefaultCallTimeout
	}
	if m.maxOutput <= 0 {
		m.maxOutput = DefaultMaxOutputBytes
	}
	return m
}

// Registry returns the tools the Manager dispatches to.
func (m *Manager) Registry() *Registry { return m.registry }

// Invoke runs one tool call to completion. It never panics and never
// returns a nil error for a failed call: failures are carried in
// Result.Error.
func (m *Manager) Invoke(ctx context.Context, name string, args map[string]any) Result {
	start := time.Now()
	res := Result{ID: uuid.NewString(), ToolName: name}

	tool, ok := m.registry.Get(name)
	if !ok {
		return m.finish(res, start, Output{}, toolerr.Validation("unknown tool %q", clip(name, 64)))
	}
	m.emit(events.Event{Type: events.InvocationStarted, Timestamp: start, Payload: events.InvocationStartedPayload{
		InvocationID: res.ID,
		ToolName:     name,
		Input:        sanitizeArgs(args),
		StartedAt:    start,
	}})

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	out, err := m.execute(callCtx, tool, args)
	return m.finish(res, start, out, err)
}

// InvokeAsync runs Invoke on its own goroutine. The channel receives
// exactly one Result and is then closed.
func (m *Manager) InvokeAsync(ctx context.Context, name string, args map[string]any) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- m.Invoke(ctx, name, args)
	}()
	return ch
}

func (m *Manager) execute(ctx context.Context, tool Tool, args map[string]any) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tool panicked", zap.String("tool", tool.Name()), zap.Any("panic", r))
			out, err = Output{}, toolerr.Internal("tool %s failed unexpectedly", tool.Name())
		}
	}()
	return tool.Execute(ctx, args)
}

func (m *Manager) finish(res Result, start time.Time, out Output, err error) Result {
	res.Elapsed = time.Since(start)
	res.DurationMs = res.Elapsed.Milliseconds()

	status := "success"
	if err != nil {
		// Copy: components may return shared *Error values.
		te := *toolerr.From(err)
		te.Message = util.RedactSecrets(te.Message)
		res.Error = &te
		status = "error"
	} else {
		text, truncated := util.TruncateBytes(util.RedactSecrets(out.Text), m.maxOutput)
		res.Output = text
		res.Truncated = truncated || out.Truncated
		res.ExitCode = out.ExitCode
		res.Success = !out.Failed
		if out.Failed {
			status = "failure"
		}
	}

	fields := []zap.Field{
		zap.String("invocation_id", res.ID),
		zap.String("tool", res.ToolName),
		zap.String("status", status),
		zap.Duration("elapsed", res.Elapsed),
	}
	if res.Error != nil {
		fields = append(fields, zap.String("kind", string(res.Error.Kind)), zap.String("message", res.Error.Message))
	}
	if res.Error != nil && res.Error.Kind == toolerr.KindInternal {
		m.logger.Error("tool invocation failed", fields...)
	} else {
		m.logger.Debug("tool invocation finished", fields...)
	}

	payload := events.InvocationFinishedPayload{
		InvocationID: res.ID,
		ToolName:     res.ToolName,
		Status:       status,
		ExitCode:     res.ExitCode,
		Truncated:    res.Truncated,
		DurationMs:   res.DurationMs,
	}
	eventType := events.InvocationFinished
	if res.Error != nil {
		eventType = events.InvocationFailed
		payload.ErrorKind = string(res.Error.Kind)
		payload.Message = res.Error.Message
	} else {
		payload.Preview = util.Preview(strings.TrimRight(res.Output, "\n"), 12, 2000)
		payload.ByteCount = len(res.Output)
		if payload.Preview != "" {
			payload.LineCount = strings.Count(strings.TrimRight(res.Output, "\n"), "\n") + 1
		}
	}
	m.emit(events.Event{Type: eventType, Timestamp: time.Now(), Payload: payload})
	return res
}

func (m *Manager) emit(event events.Event) {
	if m.renderer != nil {
		m.renderer.Emit(event)
	}
}

func sanitizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return clip(util.RedactSecrets(string(data)), 2000)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
