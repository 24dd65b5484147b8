package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"toolsandbox/internal/events"
)

// StdoutRenderer streams invocation events to a plain text writer.
type StdoutRenderer struct {
	w       io.Writer
	mu      sync.Mutex
	verbose bool
	quiet   bool
}

// NewStdoutRenderer creates a renderer for plain text streaming.
func NewStdoutRenderer(w io.Writer, verbose bool, quiet bool) *StdoutRenderer {
	return &StdoutRenderer{w: w, verbose: verbose, quiet: quiet}
}

func (r *StdoutRenderer) Emit(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.quiet {
		return
	}
	switch event.Type {
	case events.InvocationStarted:
		if payload, ok := event.Payload.(events.InvocationStartedPayload); ok {
			if !r.verbose {
				return
			}
			fmt.Fprintf(r.w, "tool: %s start [%s]\n", payload.ToolName, payload.InvocationID)
			fmt.Fprintf(r.w, "input: %s\n", payload.Input)
		}
	case events.InvocationFinished, events.InvocationFailed:
		if payload, ok := event.Payload.(events.InvocationFinishedPayload); ok {
			status := payload.Status
			switch status {
			case "success":
				status = "ok"
			case "error":
				status = "err " + payload.ErrorKind
			case "failure":
				status = "failed"
				if payload.ExitCode != nil {
					status = fmt.Sprintf("exit %d", *payload.ExitCode)
				}
			}
			trunc := ""
			if payload.Truncated {
				trunc = ", truncated"
			}
			fmt.Fprintf(r.w, "tool: %s %s (%dms, %d lines, %d bytes%s)\n", payload.ToolName, status, payload.DurationMs, payload.LineCount, payload.ByteCount, trunc)
			if payload.Message != "" {
				fmt.Fprintf(r.w, "error: %s\n", payload.Message)
			}
			if r.verbose && payload.Preview != "" {
				fmt.Fprintln(r.w, "preview:")
				for _, line := range strings.Split(payload.Preview, "\n") {
					fmt.Fprintf(r.w, "  %s\n", line)
				}
			}
		}
	}
}

func (r *StdoutRenderer) Close() error {
	return nil
}
