package sandbox

import "errors"

var (
	// ErrInvalidRuntime is returned when the sandbox runtime is invalid
	ErrInvalidRuntime = errors.New("invalid sandbox runtime")

	// ErrDockerUnavailable is returned when the docker CLI cannot reach a daemon
	ErrDockerUnavailable = errors.New("docker is not available or not running")

	// ErrDockerImageRequired is returned when Docker runtime is enabled without an image
	ErrDockerImageRequired = errors.New("docker image is required for docker runtime")

	// ErrContainerNameRequired is returned when Docker runtime has no container name
	ErrContainerNameRequired = errors.New("container name is required for docker runtime")

	// ErrWorkspaceRequired is returned when no workspace directory is configured
	ErrWorkspaceRequired = errors.New("workspace directory is required")

	// ErrShellRequired is returned when no shell binary is configured
	ErrShellRequired = errors.New("shell is required")
)
