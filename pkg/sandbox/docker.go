package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Runner runs a command to completion and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Option customizes a Docker environment.
type Option func(*Docker)

// WithRunner replaces the command runner.
func WithRunner(run Runner) Option {
	return func(d *Docker) { d.run = run }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Docker) { d.logger = logger }
}

// CheckDocker verifies that the Docker daemon is available and responsive.
func CheckDocker(ctx context.Context, run Runner) error {
	if run == nil {
		run = ExecRunner
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if out, err := run(ctx, "docker", "ps", "-q"); err != nil {
		return fmt.Errorf("%w: %v: %s", ErrDockerUnavailable, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Docker keeps one named container running with the workspace mounted and
// opens shells in it with docker exec.
type Docker struct {
	config Config
	run    Runner
	logger zerolog.Logger
}

// NewDocker creates a Docker environment. The container is created by Ensure.
func NewDocker(config Config, opts ...Option) *Docker {
	if config.Docker.MountPath == "" {
		config.Docker.MountPath = DefaultConfig().Docker.MountPath
	}
	d := &Docker{
		config: config,
		run:    ExecRunner,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the container name.
func (d *Docker) Name() string {
	return "docker:" + d.config.Docker.Container
}

// Ensure creates the workspace and starts the container unless it is
// already running. A stopped container with the same name is replaced.
func (d *Docker) Ensure(ctx context.Context) error {
	workspace, err := filepath.Abs(d.config.Workspace)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	if err := CheckDocker(ctx, d.run); err != nil {
		return err
	}

	name := d.config.Docker.Container
	out, err := d.run(ctx, "docker", "ps", "--filter", "name=^/"+name+"$", "--format", "{{.Names}}")
	if err != nil {
		return fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	if strings.TrimSpace(string(out)) == name {
		d.logger.Debug().Str("container", name).Msg("Sandbox container already running")
		return nil
	}

	// A stopped container keeps the name; remove it before starting fresh.
	_, _ = d.run(ctx, "docker", "rm", "-f", name)

	args := d.buildRunArgs(workspace)
	d.logger.Info().
		Str("container", name).
		Str("image", d.config.Docker.Image).
		Str("workspace", workspace).
		Msg("Starting sandbox container")

	if out, err := d.run(ctx, "docker", args...); err != nil {
		return fmt.Errorf("failed to start container %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ShellCommand opens an interactive shell in the container.
func (d *Docker) ShellCommand(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "docker", "exec", "-i", d.config.Docker.Container, d.config.Shell)
}

// Stop removes the container.
func (d *Docker) Stop(ctx context.Context) error {
	name := d.config.Docker.Container
	if out, err := d.run(ctx, "docker", "rm", "-f", name); err != nil {
		return fmt.Errorf("failed to remove container %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	d.logger.Info().Str("container", name).Msg("Sandbox container removed")
	return nil
}

func (d *Docker) buildRunArgs(workspace string) []string {
	cfg := d.config.Docker
	args := []string{"run", "-d", "--name", cfg.Container}

	if network := strings.TrimSpace(cfg.Network); network != "" {
		args = append(args, "--network", network)
	}
	if cfg.MaxMemoryMB > 0 {
		args = append(args, "--memory", strconv.Itoa(cfg.MaxMemoryMB)+"m")
	}
	if user := strings.TrimSpace(cfg.User); user != "" {
		args = append(args, "--user", user)
	}
	args = append(args, cfg.ExtraArgs...)

	args = append(args,
		"-v", fmt.Sprintf("%s:%s", workspace, cfg.MountPath),
		"-w", cfg.MountPath,
		cfg.Image,
		"tail", "-f", "/dev/null",
	)
	return args
}
