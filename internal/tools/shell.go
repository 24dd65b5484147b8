package tools

import (
	"context"
	"strings"

	"toolsandbox/internal/shell"
	"toolsandbox/internal/toolerr"
)

// ShellTool exposes the shell gateway as shell_run.
type ShellTool struct {
	gateway *shell.Gateway
}

// NewShellTool constructs a shell tool.
func NewShellTool(gateway *shell.Gateway) *ShellTool {
	return &ShellTool{gateway: gateway}
}

func (s *ShellTool) Name() string { return "shell_run" }

func (s *ShellTool) Description() string {
	return "Run a read-only command (" + strings.Join(shell.Commands(), ", ") + ") in the workspace. No pipes, redirection or globbing."
}

func (s *ShellTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"command": map[string]any{"type": "string", "description": "Command line, e.g. \"head -n 20 notes.txt\"."},
	}, "command")
}

type shellInput struct {
	Command string `mapstructure:"command"`
}

func (s *ShellTool) Execute(ctx context.Context, args map[string]any) (Output, error) {
	var in shellInput
	if err := decodeArgs(args, &in); err != nil {
		return Output{}, err
	}
	if strings.TrimSpace(in.Command) == "" {
		return Output{}, toolerr.Validation("command is required")
	}
	out, err := s.gateway.Run(ctx, in.Command)
	if err != nil {
		return Output{}, err
	}
	text := out.Stdout
	if out.Stderr != "" {
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += out.Stderr
	}
	return Output{
		Text:      text,
		Failed:    out.ExitCode != 0,
		ExitCode:  intPtr(out.ExitCode),
		Truncated: out.Truncated,
	}, nil
}
