package main

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, stdin string, args ...string) ([]byte, error) {
	t.Helper()
	cmd := exec.Command("go", append([]string{"run", "./cmd/toolsandbox"}, args...)...)
	cmd.Env = append(os.Environ(), "XDG_CONFIG_HOME="+t.TempDir())
	wd, _ := os.Getwd()
	cmd.Dir = filepath.Dir(filepath.Dir(wd))
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	return cmd.Output()
}

func TestCLIJSONOutput(t *testing.T) {
	fixture := t.TempDir()
	if err := os.WriteFile(filepath.Join(fixture, "sample.txt"), []byte("toolsandbox test\n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	out, err := runCLI(t, "", "--json", "--workspace", fixture, "invoke", "file_read", "--args", `{"path":"sample.txt"}`)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("invalid json output: %v", err)
	}
	if payload["id"] == "" {
		t.Fatalf("expected id")
	}
	if payload["success"] != true || payload["output"] != "toolsandbox test\n" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestCLIExecFromStdin(t *testing.T) {
	out, err := runCLI(t, "import math\nprint(math.floor(2.5) + 1)\n", "--quiet", "--workspace", t.TempDir(), "exec")
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if string(out) != "3\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCLIRejectedCommandExitsNonzero(t *testing.T) {
	out, err := runCLI(t, "", "--json", "--workspace", t.TempDir(), "run", "rm", "-rf", "/")
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected a nonzero exit, got %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("invalid json output: %v", err)
	}
	errPayload, _ := payload["error"].(map[string]any)
	if payload["success"] != false || errPayload["kind"] != "permission_denied" {
		t.Fatalf("unexpected payload %v", payload)
	}
}
