package toolexecutor

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistryStopped is returned when the registry loop is not running.
	ErrRegistryStopped = errors.New("tool registry is not running")

	// ErrRegistryStarted is returned when a tool is registered after Start.
	ErrRegistryStarted = errors.New("tool registry already started")
)

// ErrorKind classifies tool failures.
type ErrorKind string

const (
	KindUnknownTool     ErrorKind = "unknown_tool"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindFilesystem      ErrorKind = "filesystem"
	KindNetwork         ErrorKind = "network"
	KindSubprocess      ErrorKind = "subprocess"
)

// ToolError is a recoverable tool failure. The registry turns it into text
// for the model; it never crosses the registry boundary as an error.
type ToolError struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Text is the observation fed back to the model.
func (e *ToolError) Text() string {
	switch e.Kind {
	case KindUnknownTool:
		return fmt.Sprintf("Unknown tool: %s", e.Tool)
	case KindInvalidArgument:
		return fmt.Sprintf("Invalid arguments for %s: %v", e.Tool, e.Err)
	default:
		return fmt.Sprintf("Error: %v", e.Err)
	}
}

// InvalidArgument builds a KindInvalidArgument error.
func InvalidArgument(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindInvalidArgument, Err: fmt.Errorf(format, args...)}
}

// FilesystemError wraps a filesystem failure.
func FilesystemError(err error) *ToolError {
	return &ToolError{Kind: KindFilesystem, Err: err}
}

// NetworkError wraps a network failure.
func NetworkError(err error) *ToolError {
	return &ToolError{Kind: KindNetwork, Err: err}
}

// SubprocessError wraps a shell or process failure.
func SubprocessError(err error) *ToolError {
	return &ToolError{Kind: KindSubprocess, Err: err}
}
