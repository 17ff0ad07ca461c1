package coretools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harun/agerus/pkg/toolexecutor"
)

func writeFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories and overwriting any existing file.",
		FailureKind: toolexecutor.KindFilesystem,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Path relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "Full file content", Required: true},
		},
		Handler: func(ctx context.Context, args toolexecutor.Args) (string, error) {
			pathValue, err := args.String("path")
			if err != nil {
				return "", err
			}
			content, err := args.String("content")
			if err != nil {
				return "", err
			}
			target, err := resolvePathInWorkspace(opts.Workspace, pathValue)
			if err != nil {
				return "", err
			}

			start := time.Now()
			err = writeFile(target, content)
			audit(ctx, "write_file", start, err, map[string]interface{}{"path": pathValue, "bytes": len(content)})
			if err != nil {
				return "", toolexecutor.FilesystemError(err)
			}
			return fmt.Sprintf("Successfully wrote to %s", pathValue), nil
		},
	}
}

func writeFile(target, content string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func readFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		FailureKind: toolexecutor.KindFilesystem,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Path relative to the workspace", Required: true},
		},
		Handler: func(ctx context.Context, args toolexecutor.Args) (string, error) {
			pathValue, err := args.String("path")
			if err != nil {
				return "", err
			}
			target, err := resolvePathInWorkspace(opts.Workspace, pathValue)
			if err != nil {
				return "", err
			}

			content, truncated, err := readLinesWithLimit(target, opts.Limits.ReadLines)
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Sprintf("File not found: %s", pathValue), nil
			}
			if err != nil {
				return "", toolexecutor.FilesystemError(err)
			}
			if truncated {
				content += fmt.Sprintf("\n... [File too long, first %d lines shown]", opts.Limits.ReadLines)
			}
			return content, nil
		},
	}
}

// readLinesWithLimit returns the whole file when it has at most limit lines,
// otherwise the first limit lines joined with newlines.
func readLinesWithLimit(path string, limit int) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	content := string(data)

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	lines := make([]string, 0, limit)
	count := 0
	for scanner.Scan() {
		count++
		if count <= limit {
			lines = append(lines, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, err
	}

	if count <= limit {
		return content, false, nil
	}
	return strings.Join(lines, "\n"), true, nil
}

func listFilesTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "list_files",
		Description: "List files in a workspace directory.",
		FailureKind: toolexecutor.KindFilesystem,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Directory path relative to the workspace (default .)", Default: "."},
		},
		Handler: func(ctx context.Context, args toolexecutor.Args) (string, error) {
			pathValue, err := args.StringOr("path", ".")
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(pathValue) == "" {
				pathValue = "."
			}
			target, err := resolvePathInWorkspace(opts.Workspace, pathValue)
			if err != nil {
				return "", err
			}

			entries, err := os.ReadDir(target)
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Sprintf("Directory not found: %s", pathValue), nil
			}
			if err != nil {
				return "", toolexecutor.FilesystemError(err)
			}

			sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
			lines := make([]string, 0, len(entries))
			for _, entry := range entries {
				kind := "FILE"
				if entry.IsDir() {
					kind = "DIR"
				}
				lines = append(lines, fmt.Sprintf("[%s] %s", kind, entry.Name()))
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

// resolvePathInWorkspace joins pathValue onto the workspace and rejects
// anything that resolves outside it.
func resolvePathInWorkspace(workspaceRoot string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", toolexecutor.InvalidArgument("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", toolexecutor.InvalidArgument("path must be a local file")
	}

	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", toolexecutor.FilesystemError(err)
	}

	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", toolexecutor.InvalidArgument("path %q is outside the workspace", pathValue)
	}
	if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
		return candidate, nil
	}
	return "", toolexecutor.InvalidArgument("path %q is outside the workspace", pathValue)
}
