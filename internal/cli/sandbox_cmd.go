package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/agerus/internal/config"
	"github.com/harun/agerus/pkg/sandbox"
	"github.com/harun/agerus/pkg/shell"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage the sandbox the shell runs in",
}

var sandboxUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create the workspace and start the sandbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, env, err := openSandbox()
		if err != nil {
			return err
		}
		if err := env.Ensure(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sandbox %s ready (workspace %s)\n", env.Name(), cfg.WorkspacePath)
		return nil
	},
}

var sandboxCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Start a shell in the sandbox and run a probe command",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, env, err := openSandbox()
		if err != nil {
			return err
		}
		out, err := probeSandbox(cmd.Context(), cfg, env)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sandbox %s OK: %s\n", env.Name(), out)
		return nil
	},
}

var sandboxDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Remove the sandbox container",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, env, err := openSandbox()
		if err != nil {
			return err
		}
		docker, ok := env.(*sandbox.Docker)
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "Sandbox %s has nothing to remove\n", env.Name())
			return nil
		}
		return docker.Stop(cmd.Context())
	},
}

func init() {
	sandboxCmd.AddCommand(sandboxUpCmd, sandboxCheckCmd, sandboxDownCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func openSandbox() (*config.Config, sandbox.Environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	workspace, err := filepath.Abs(cfg.WorkspacePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	env, err := sandbox.New(sandboxConfig(cfg, workspace))
	if err != nil {
		return nil, nil, err
	}
	return cfg, env, nil
}

// probeSandbox prepares env, opens the persistent shell and runs one
// command through the same sentinel framing the agent uses.
func probeSandbox(ctx context.Context, cfg *config.Config, env sandbox.Environment) (string, error) {
	if err := env.Ensure(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sess, err := shell.New(shell.Config{
		Launcher: env,
		Sentinel: cfg.Sandbox.Sentinel,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		return "", err
	}
	if err := sess.Start(ctx); err != nil {
		return "", err
	}
	defer sess.Close()

	out, err := sess.Capture(ctx, "echo agerus-probe; pwd")
	if err != nil {
		return "", fmt.Errorf("probe command failed: %w", err)
	}
	if !strings.Contains(out, "agerus-probe") {
		return "", fmt.Errorf("unexpected probe output: %q", out)
	}
	return strings.TrimSpace(strings.ReplaceAll(out, "agerus-probe\n", "")), nil
}
