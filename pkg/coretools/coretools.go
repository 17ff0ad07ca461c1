// Package coretools provides the tools the agent exposes to the model:
// shell, workspace files, web fetch and search, and documentation lookup.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/agerus/internal/observability"
	"github.com/harun/agerus/pkg/toolexecutor"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Registrar accepts tool definitions. *toolexecutor.Registry satisfies it.
type Registrar interface {
	Register(def toolexecutor.ToolDefinition) error
}

// CommandRunner runs one shell command to completion. *shell.Session
// satisfies it.
type CommandRunner interface {
	Capture(ctx context.Context, cmd string) (string, error)
}

// PageFetcher returns the rendered HTML of a page.
type PageFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

// Limits caps tool output before it is fed back to the model.
type Limits struct {
	ShellOutputBytes int `mapstructure:"shell_output_cap"`
	ReadLines        int `mapstructure:"read_line_cap"`
	FetchBytes       int `mapstructure:"fetch_byte_cap"`
	DocsBytes        int `mapstructure:"docs_byte_cap"`
	SearchResults    int `mapstructure:"search_max_results"`
}

// DefaultLimits returns the stock caps.
func DefaultLimits() Limits {
	return Limits{
		ShellOutputBytes: 5000,
		ReadLines:        300,
		FetchBytes:       8000,
		DocsBytes:        4000,
		SearchResults:    10,
	}
}

// Options configures core tool registration.
type Options struct {
	// Workspace is the host directory file tools are confined to.
	Workspace string
	Shell     CommandRunner
	Limits    Limits

	HTTPClient *http.Client
	UserAgent  string
	SearchURL  string
	DocsURL    string

	// Browser, when set, renders pages for fetch_url instead of plain GET.
	Browser PageFetcher
}

func (o *Options) applyDefaults() {
	def := DefaultLimits()
	if o.Limits.ShellOutputBytes <= 0 {
		o.Limits.ShellOutputBytes = def.ShellOutputBytes
	}
	if o.Limits.ReadLines <= 0 {
		o.Limits.ReadLines = def.ReadLines
	}
	if o.Limits.FetchBytes <= 0 {
		o.Limits.FetchBytes = def.FetchBytes
	}
	if o.Limits.DocsBytes <= 0 {
		o.Limits.DocsBytes = def.DocsBytes
	}
	if o.Limits.SearchResults <= 0 {
		o.Limits.SearchResults = def.SearchResults
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.SearchURL == "" {
		o.SearchURL = "https://html.duckduckgo.com/html/"
	}
	if o.DocsURL == "" {
		o.DocsURL = "https://cheat.sh/"
	}
}

// Register adds every core tool to reg in a fixed order.
func Register(reg Registrar, opts Options) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}
	if opts.Shell == nil {
		return errors.New("shell is required")
	}
	if opts.Workspace == "" {
		return errors.New("workspace root is not configured")
	}
	opts.applyDefaults()

	tools := []toolexecutor.ToolDefinition{
		runCommandTool(opts),
		writeFileTool(opts),
		readFileTool(opts),
		listFilesTool(opts),
		fetchURLTool(opts),
		webSearchTool(opts),
		lookupDocsTool(opts),
	}

	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func audit(ctx context.Context, tool string, start time.Time, err error, metadata map[string]interface{}) {
	if err != nil {
		metadata["error"] = err.Error()
	}
	info, _ := toolexecutor.CallInfoFromContext(ctx)
	observability.RecordToolAudit(ctx, observability.ToolAudit{
		Tool:         tool,
		Conversation: info.Conversation,
		CallID:       info.ID,
		Turn:         info.Turn,
		Failed:       err != nil,
		Duration:     time.Since(start),
		Metadata:     metadata,
	})
}
