package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Local runs the shell directly on the host inside the workspace. It offers
// no isolation.
type Local struct {
	config Config
}

// NewLocal creates a host environment.
func NewLocal(config Config) *Local {
	if config.Shell == "" {
		config.Shell = "sh"
	}
	return &Local{config: config}
}

// Name returns "local".
func (l *Local) Name() string {
	return "local"
}

// Ensure creates the workspace directory.
func (l *Local) Ensure(ctx context.Context) error {
	if err := os.MkdirAll(l.config.Workspace, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// ShellCommand starts the configured shell in the workspace.
func (l *Local) ShellCommand(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, l.config.Shell)
	cmd.Dir = l.config.Workspace
	return cmd
}
