package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workspace != "." || cfg.Verbose || cfg.JSON {
		t.Fatalf("unexpected config %+v", cfg)
	}
	want := Limits{
		MaxWallSeconds: 10,
		MaxOutputBytes: 10_000,
		MaxMemoryBytes: 100_000_000,
		MaxCPUSeconds:  10,
		GracePeriod:    2 * time.Second,
		MaxFileBytes:   1 << 20,
		MaxCodeBytes:   64 << 10,
	}
	if cfg.Limits != want {
		t.Fatalf("expected %+v, got %+v", want, cfg.Limits)
	}
	if got := cfg.Limits.Proc().WallTimeout; got != 10*time.Second {
		t.Fatalf("unexpected wall timeout %s", got)
	}
	if got := cfg.Limits.CallTimeout(); got != 14*time.Second {
		t.Fatalf("unexpected call timeout %s", got)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "toolsandbox"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "workspace: /srv/work\nlimits:\n  max_wall_seconds: 3\n  grace_period: 500ms\n"
	if err := os.WriteFile(filepath.Join(dir, "toolsandbox", "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TOOLSANDBOX_LIMITS_MAX_OUTPUT_BYTES", "2048")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workspace != "/srv/work" {
		t.Fatalf("expected workspace from file, got %q", cfg.Workspace)
	}
	if cfg.Limits.MaxWallSeconds != 3 || cfg.Limits.GracePeriod != 500*time.Millisecond {
		t.Fatalf("expected limits from file, got %+v", cfg.Limits)
	}
	if cfg.Limits.MaxOutputBytes != 2048 {
		t.Fatalf("expected output limit from env, got %d", cfg.Limits.MaxOutputBytes)
	}
}

func TestLoadFlagsOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TOOLSANDBOX_WORKSPACE", "/from/env")
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("workspace", ".", "")
	cmd.Flags().Bool("json", false, "")
	if err := cmd.Flags().Parse([]string{"--workspace", "/from/flag", "--json"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workspace != "/from/flag" || !cfg.JSON {
		t.Fatalf("expected flag values, got %+v", cfg)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TOOLSANDBOX_LIMITS_GRACE_PERIOD", "soon")
	if _, err := Load(nil); err == nil {
		t.Fatalf("expected an error for an invalid duration")
	}
}
