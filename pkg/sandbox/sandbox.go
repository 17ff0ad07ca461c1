// Package sandbox provides the execution environment the shell session runs
// in: a long-lived Docker container with the workspace mounted, or the host
// shell for local development and tests.
package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runtime selects the sandbox implementation.
type Runtime string

const (
	// RuntimeDocker runs the shell inside a long-lived container
	RuntimeDocker Runtime = "docker"
	// RuntimeLocal runs the shell on the host, inside the workspace
	RuntimeLocal Runtime = "local"
)

// Environment prepares the sandbox and builds the command for the
// persistent shell.
type Environment interface {
	// Name identifies the environment in logs and status output.
	Name() string
	// Ensure makes the environment ready. It is safe to call repeatedly.
	Ensure(ctx context.Context) error
	// ShellCommand returns an unstarted command for an interactive shell.
	ShellCommand(ctx context.Context) *exec.Cmd
}

// Config defines sandbox configuration
type Config struct {
	// Runtime is docker or local
	Runtime Runtime `mapstructure:"runtime" json:"runtime"`

	// Workspace is the host directory shared with the sandbox
	Workspace string `mapstructure:"workspace" json:"workspace"`

	// Shell is the interactive shell binary
	Shell string `mapstructure:"shell" json:"shell"`

	// Docker holds docker-specific settings
	Docker DockerConfig `mapstructure:"docker" json:"docker"`
}

// DockerConfig defines the long-lived container.
type DockerConfig struct {
	Container string `mapstructure:"container" json:"container"`
	Image     string `mapstructure:"image" json:"image"`
	// MountPath is where the workspace appears inside the container
	MountPath string `mapstructure:"mount_path" json:"mount_path"`
	Network   string `mapstructure:"network" json:"network"`
	User      string `mapstructure:"user" json:"user"`
	// MaxMemoryMB limits container memory; zero means unlimited
	MaxMemoryMB int      `mapstructure:"max_memory_mb" json:"max_memory_mb"`
	ExtraArgs   []string `mapstructure:"extra_args" json:"extra_args"`
}

// DefaultConfig returns the default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Runtime:   RuntimeDocker,
		Workspace: "./workspace",
		Shell:     "bash",
		Docker: DockerConfig{
			Container: "agerus_sandbox",
			Image:     "ubuntu:latest",
			MountPath: "/workspace",
		},
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(config Config) error {
	if strings.TrimSpace(config.Workspace) == "" {
		return ErrWorkspaceRequired
	}
	if strings.TrimSpace(config.Shell) == "" {
		return ErrShellRequired
	}

	switch config.Runtime {
	case RuntimeLocal:
		return nil
	case RuntimeDocker:
		if strings.TrimSpace(config.Docker.Image) == "" {
			return ErrDockerImageRequired
		}
		if strings.TrimSpace(config.Docker.Container) == "" {
			return ErrContainerNameRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRuntime, config.Runtime)
	}
}

// New builds the environment selected by config.Runtime.
func New(config Config, opts ...Option) (Environment, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch config.Runtime {
	case RuntimeLocal:
		return NewLocal(config), nil
	default:
		return NewDocker(config, opts...), nil
	}
}
