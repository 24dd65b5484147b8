package tools

import (
	"toolsandbox/internal/codebox"
	"toolsandbox/internal/fileguard"
	"toolsandbox/internal/shell"
)

// Builtin returns the closed tool set, wired to the given components.
func Builtin(guard *fileguard.Guard, sandbox *codebox.Sandbox, gateway *shell.Gateway) []Tool {
	return []Tool{
		NewCalculatorTool(),
		NewCodeTool(sandbox),
		NewShellTool(gateway),
		NewFileReadTool(guard),
		NewFileWriteTool(guard),
		NewFileListTool(guard),
		NewJSONTool(),
		NewTimerTool(),
	}
}
