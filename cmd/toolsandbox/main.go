package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolsandbox/internal/codebox"
	"toolsandbox/internal/config"
	"toolsandbox/internal/fileguard"
	"toolsandbox/internal/proc"
	"toolsandbox/internal/render"
	"toolsandbox/internal/shell"
	"toolsandbox/internal/tools"
	"toolsandbox/internal/version"
)

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	proc.MaybeChildInit()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "toolsandbox",
		Short:         "toolsandbox - sandboxed tool execution for agents",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("workspace", ".", "Workspace root; every file path is confined to it")
	cmd.PersistentFlags().Bool("json", false, "Print the full result as JSON")
	cmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging and invocation previews")
	cmd.PersistentFlags().Bool("quiet", false, "Do not print invocation summaries")

	cmd.AddCommand(newInvokeCmd(), newToolsCmd(), newCalcCmd(), newRunCmd(), newExecCmd())
	return cmd
}

func newInvokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <tool>",
		Short: "Invoke a tool with JSON arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("args")
			toolArgs := map[string]any{}
			if strings.TrimSpace(raw) != "" {
				if err := json.Unmarshal([]byte(raw), &toolArgs); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}
			return invoke(cmd, args[0], toolArgs)
		},
	}
	cmd.Flags().String("args", "{}", "Tool arguments as a JSON object")
	return cmd
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			reg := a.manager.Registry()
			if a.cfg.JSON {
				payload, err := json.MarshalIndent(reg.OpenAITools(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return nil
			}
			for _, name := range reg.Names() {
				tool, _ := reg.Get(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-13s %s\n", name, tool.Description())
			}
			return nil
		},
	}
}

func newCalcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calc <expression>",
		Short: "Evaluate an arithmetic expression",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, "calculator", map[string]any{"expression": strings.Join(args, " ")})
		},
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <command line>",
		Short: "Run an allowlisted read-only command in the workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, "shell_run", map[string]any{"command": strings.Join(args, " ")})
		},
	}
	// Flags after the command name belong to the command line: run ls -la.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute Python-style code from a file or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			var code []byte
			var err error
			if file == "" || file == "-" {
				code, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), config.DefaultMaxCodeBytes*4))
			} else {
				code, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}
			toolArgs := map[string]any{"code": string(code)}
			if cmd.Flags().Changed("seed") {
				seed, _ := cmd.Flags().GetUint64("seed")
				toolArgs["seed"] = float64(seed)
			}
			return invoke(cmd, "code_execute", toolArgs)
		},
	}
	cmd.Flags().StringP("file", "f", "", "Read code from this file instead of stdin")
	cmd.Flags().Uint64("seed", 0, "Seed for the random module")
	return cmd
}

type app struct {
	cfg     config.Config
	logger  *zap.Logger
	manager *tools.Manager
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, err
	}
	logger := buildLogger(cfg.Verbose)

	workspace, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	guard, err := fileguard.New(workspace, cfg.Limits.MaxFileBytes)
	if err != nil {
		return nil, err
	}
	limits := cfg.Limits.Proc()
	sandbox := codebox.New(codebox.Config{Limits: limits, MaxCodeBytes: cfg.Limits.MaxCodeBytes})
	gateway := shell.New(guard, limits)

	var renderer render.Renderer
	if !cfg.JSON {
		renderer = render.NewStdoutRenderer(cmd.ErrOrStderr(), cfg.Verbose, cfg.Quiet)
	}
	manager := tools.NewManager(tools.NewRegistry(tools.Builtin(guard, sandbox, gateway)...), tools.Options{
		Logger:         logger,
		Renderer:       renderer,
		CallTimeout:    cfg.Limits.CallTimeout(),
		MaxOutputBytes: cfg.Limits.MaxOutputBytes,
	})
	logger.Debug("sandbox ready", zap.String("workspace", guard.Root()), zap.Strings("tools", manager.Registry().Names()))
	return &app{cfg: cfg, logger: logger, manager: manager}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func invoke(cmd *cobra.Command, name string, args map[string]any) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res := a.manager.Invoke(ctx, name, args)
	out := cmd.OutOrStdout()
	if a.cfg.JSON {
		payload, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(payload))
	} else {
		if res.Output != "" {
			fmt.Fprint(out, res.Output)
			if !strings.HasSuffix(res.Output, "\n") {
				fmt.Fprintln(out)
			}
		}
		// The renderer already reports errors unless it is quiet.
		if res.Error != nil && a.cfg.Quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", res.Error.Kind, res.Error.Message)
		}
	}

	switch {
	case res.Success:
		return nil
	case res.ExitCode != nil && *res.ExitCode > 0:
		return exitError{code: *res.ExitCode}
	default:
		return exitError{code: 1}
	}
}

func buildLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
