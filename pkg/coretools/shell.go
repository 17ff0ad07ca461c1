package coretools

import (
	"context"
	"errors"
	"time"

	"github.com/harun/agerus/pkg/shell"
	"github.com/harun/agerus/pkg/toolexecutor"
)

func runCommandTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "run_command",
		Description: "Run a shell command in the sandbox. The shell keeps its state between calls.",
		FailureKind: toolexecutor.KindSubprocess,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Description: "Command to run", Required: true},
		},
		Handler: func(ctx context.Context, args toolexecutor.Args) (string, error) {
			command, err := args.NonEmptyString("command")
			if err != nil {
				return "", err
			}

			start := time.Now()
			output, err := opts.Shell.Capture(ctx, command)
			audit(ctx, "run_command", start, err, map[string]interface{}{"command": command})
			if err != nil && !errors.Is(err, shell.ErrClosed) {
				return "", toolexecutor.SubprocessError(err)
			}

			if output == "" {
				output = "(no output)"
			}
			output, _ = toolexecutor.Truncate(output, opts.Limits.ShellOutputBytes, "\n...[Output Truncated]")
			if errors.Is(err, shell.ErrClosed) {
				output += "\n[shell session closed]"
			}
			return output, nil
		},
	}
}
