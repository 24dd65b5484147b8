package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"toolsandbox/internal/proc"
)

const (
	DefaultWallSeconds  = 10
	DefaultOutputBytes  = 10_000
	DefaultMemoryBytes  = 100_000_000
	DefaultCPUSeconds   = 10
	DefaultGracePeriod  = 2 * time.Second
	DefaultMaxFileBytes = 1 << 20
	DefaultMaxCodeBytes = 64 << 10
)

// Limits bound every sandboxed call. They are read once at startup
// and never come from tool arguments.
type Limits struct {
	MaxWallSeconds int           `mapstructure:"max_wall_seconds"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
	MaxMemoryBytes int64         `mapstructure:"max_memory_bytes"`
	MaxCPUSeconds  int           `mapstructure:"max_cpu_seconds"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	MaxFileBytes   int64         `mapstructure:"max_file_bytes"`
	MaxCodeBytes   int           `mapstructure:"max_code_bytes"`
}

// Proc converts l into per-child limits.
func (l Limits) Proc() proc.Limits {
	return proc.Limits{
		WallTimeout: time.Duration(l.MaxWallSeconds) * time.Second,
		GracePeriod: l.GracePeriod,
		CPUSeconds:  l.MaxCPUSeconds,
		MemoryBytes: l.MaxMemoryBytes,
		OutputBytes: l.MaxOutputBytes,
	}
}

// CallTimeout bounds one invocation end to end: the child deadline, its
// grace period and a little slack for spawning and decoding.
func (l Limits) CallTimeout() time.Duration {
	return time.Duration(l.MaxWallSeconds)*time.Second + l.GracePeriod + 2*time.Second
}

// Config holds runtime configuration values.
type Config struct {
	Workspace string `mapstructure:"workspace"`
	Verbose   bool   `mapstructure:"verbose"`
	JSON      bool   `mapstructure:"json"`
	Quiet     bool   `mapstructure:"quiet"`
	Limits    Limits `mapstructure:"limits"`
}

// Load resolves configuration from defaults, config files, env, and flags.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOOLSANDBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("workspace", ".")
	v.SetDefault("verbose", false)
	v.SetDefault("json", false)
	v.SetDefault("quiet", false)
	v.SetDefault("limits.max_wall_seconds", DefaultWallSeconds)
	v.SetDefault("limits.max_output_bytes", DefaultOutputBytes)
	v.SetDefault("limits.max_memory_bytes", DefaultMemoryBytes)
	v.SetDefault("limits.max_cpu_seconds", DefaultCPUSeconds)
	v.SetDefault("limits.grace_period", DefaultGracePeriod.String())
	v.SetDefault("limits.max_file_bytes", DefaultMaxFileBytes)
	v.SetDefault("limits.max_code_bytes", DefaultMaxCodeBytes)

	if cmd != nil {
		bindFlag(v, cmd, "workspace", "workspace")
		bindFlag(v, cmd, "verbose", "verbose")
		bindFlag(v, cmd, "json", "json")
		bindFlag(v, cmd, "quiet", "quiet")
	}

	if err := loadConfigFile(v); err != nil {
		return Config{}, err
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	if cfg.Limits.MaxWallSeconds <= 0 {
		cfg.Limits.MaxWallSeconds = DefaultWallSeconds
	}
	if cfg.Limits.MaxOutputBytes <= 0 {
		cfg.Limits.MaxOutputBytes = DefaultOutputBytes
	}
	if cfg.Limits.MaxMemoryBytes <= 0 {
		cfg.Limits.MaxMemoryBytes = DefaultMemoryBytes
	}
	if cfg.Limits.MaxCPUSeconds <= 0 {
		cfg.Limits.MaxCPUSeconds = DefaultCPUSeconds
	}
	if cfg.Limits.GracePeriod <= 0 {
		cfg.Limits.GracePeriod = DefaultGracePeriod
	}
	if cfg.Limits.MaxFileBytes <= 0 {
		cfg.Limits.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.Limits.MaxCodeBytes <= 0 {
		cfg.Limits.MaxCodeBytes = DefaultMaxCodeBytes
	}

	return cfg, nil
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if f := cmd.Flags().Lookup(flag); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

func loadConfigFile(v *viper.Viper) error {
	if path := os.Getenv("TOOLSANDBOX_CONFIG"); path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	base := filepath.Join(configDir, "toolsandbox")
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		path := filepath.Join(base, name)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			return v.ReadInConfig()
		}
	}
	return nil
}
