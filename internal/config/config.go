package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the complete agerus configuration.
type Config struct {
	// Provider selects the transport: ollama, openai or anthropic.
	Provider string `json:"provider" mapstructure:"provider"`
	Model    string `json:"model" mapstructure:"model"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	// MaxTokens caps one response. Zero leaves it to the provider.
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`

	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`

	// WorkspacePath is the host directory shared with the sandbox.
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
	DataDir       string `json:"data_dir" mapstructure:"data_dir"`
	SessionsDir   string `json:"sessions_dir" mapstructure:"sessions_dir"`

	Agent   AgentConfig   `json:"agent" mapstructure:"agent"`
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`
	Tools   ToolsConfig   `json:"tools" mapstructure:"tools"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Events  EventsConfig  `json:"events" mapstructure:"events"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	MaxTurns       int           `json:"max_turns" mapstructure:"max_turns"`
	ReasoningOpen  string        `json:"reasoning_open" mapstructure:"reasoning_open"`
	ReasoningClose string        `json:"reasoning_close" mapstructure:"reasoning_close"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// SandboxConfig defines the long-lived shell environment.
type SandboxConfig struct {
	Mode        string `json:"mode" mapstructure:"mode"` // docker, local
	Container   string `json:"container" mapstructure:"container"`
	Image       string `json:"image" mapstructure:"image"`
	Shell       string `json:"shell" mapstructure:"shell"`
	MountPoint  string `json:"mount_point" mapstructure:"mount_point"`
	Sentinel    string `json:"sentinel" mapstructure:"sentinel"`
	Network     string `json:"network" mapstructure:"network"`
	MaxMemoryMB int    `json:"max_memory_mb" mapstructure:"max_memory_mb"`
}

// ToolsConfig holds tool output caps and endpoints.
type ToolsConfig struct {
	ShellOutputCap   int           `json:"shell_output_cap" mapstructure:"shell_output_cap"`
	ReadLineCap      int           `json:"read_line_cap" mapstructure:"read_line_cap"`
	FetchByteCap     int           `json:"fetch_byte_cap" mapstructure:"fetch_byte_cap"`
	DocsByteCap      int           `json:"docs_byte_cap" mapstructure:"docs_byte_cap"`
	SearchMaxResults int           `json:"search_max_results" mapstructure:"search_max_results"`
	SearchURL        string        `json:"search_url" mapstructure:"search_url"`
	DocsURL          string        `json:"docs_url" mapstructure:"docs_url"`
	UserAgent        string        `json:"user_agent" mapstructure:"user_agent"`
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	// BrowserFetch renders fetch_url pages with headless Chrome.
	BrowserFetch bool   `json:"browser_fetch" mapstructure:"browser_fetch"`
	BrowserBin   string `json:"browser_bin" mapstructure:"browser_bin"`
	// AuditLog receives one JSON line per side effect. Defaults to
	// <data_dir>/audit.log.
	AuditLog string `json:"audit_log" mapstructure:"audit_log"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	// MaxSizeMB rotates the log file; zero disables rotation.
	MaxSizeMB  int `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int `json:"max_backups" mapstructure:"max_backups"`
}

// EventsConfig configures the progress-event gateway.
type EventsConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	Addr         string        `json:"addr" mapstructure:"addr"`
	SharedSecret string        `json:"shared_secret" mapstructure:"shared_secret"`
	TickInterval time.Duration `json:"tick_interval" mapstructure:"tick_interval"`
}

const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	SandboxDocker = "docker"
	SandboxLocal  = "local"
)

// DefaultSystemPrompt describes the tool protocol to models without native
// tool calling.
const DefaultSystemPrompt = `You are a coding assistant working inside a persistent shell in a sandboxed workspace.
Use the available tools to inspect and change files and to run commands.
If you cannot call tools natively, reply with exactly one JSON object per turn, for example:
{"thought": "look around", "command": "ls -la"}
{"thought": "create the file", "write_file": {"path": "main.go", "content": "package main\n"}}
{"tool": "read_file", "arguments": {"path": "go.mod"}}
When the task is finished, answer in plain text without any JSON action.`

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider:      ProviderOllama,
		Model:         "qwen2.5-coder:latest",
		Endpoint:      "http://localhost:11434/api/chat",
		SystemPrompt:  DefaultSystemPrompt,
		WorkspacePath: "./workspace",
		Agent: AgentConfig{
			MaxTurns:       15,
			ReasoningOpen:  "<think>",
			ReasoningClose: "</think>",
			RequestTimeout: 5 * time.Minute,
		},
		Sandbox: SandboxConfig{
			Mode:       SandboxDocker,
			Container:  "agerus_sandbox",
			Image:      "ubuntu:latest",
			Shell:      "bash",
			MountPoint: "/workspace",
			Sentinel:   "__END_OF_CMD__",
		},
		Tools: ToolsConfig{
			ShellOutputCap:   5000,
			ReadLineCap:      300,
			FetchByteCap:     8000,
			DocsByteCap:      4000,
			SearchMaxResults: 10,
			SearchURL:        "https://html.duckduckgo.com/html/",
			DocsURL:          "https://cheat.sh/",
			Timeout:          30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Redaction:  true,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Events: EventsConfig{
			Addr:         "127.0.0.1:7420",
			TickInterval: 15 * time.Second,
		},
	}
}

// String returns a JSON representation of the config with the API key masked.
func (c *Config) String() string {
	masked := *c
	if masked.APIKey != "" {
		masked.APIKey = "********"
	}
	if masked.Events.SharedSecret != "" {
		masked.Events.SharedSecret = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOllama:
	case ProviderOpenAI, ProviderAnthropic:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("api_key is required for provider %s", c.Provider)
		}
	default:
		return fmt.Errorf("invalid provider %q (must be: ollama, openai, anthropic)", c.Provider)
	}

	if c.Provider == ProviderOllama || c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid endpoint %q: must be an http(s) URL", c.Endpoint)
		}
	}

	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if strings.TrimSpace(c.WorkspacePath) == "" {
		return fmt.Errorf("workspace_path is required")
	}

	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be positive, got %d", c.Agent.MaxTurns)
	}
	if c.Agent.ReasoningOpen == "" || c.Agent.ReasoningClose == "" {
		return fmt.Errorf("agent.reasoning_open and agent.reasoning_close must be set")
	}

	switch c.Sandbox.Mode {
	case SandboxDocker:
		if c.Sandbox.Container == "" || c.Sandbox.Image == "" {
			return fmt.Errorf("sandbox.container and sandbox.image are required in docker mode")
		}
	case SandboxLocal:
	default:
		return fmt.Errorf("invalid sandbox mode %q (must be: docker, local)", c.Sandbox.Mode)
	}
	if strings.TrimSpace(c.Sandbox.Sentinel) == "" {
		return fmt.Errorf("sandbox.sentinel is required")
	}

	caps := []struct {
		key   string
		value int
	}{
		{"tools.shell_output_cap", c.Tools.ShellOutputCap},
		{"tools.read_line_cap", c.Tools.ReadLineCap},
		{"tools.fetch_byte_cap", c.Tools.FetchByteCap},
		{"tools.docs_byte_cap", c.Tools.DocsByteCap},
		{"tools.search_max_results", c.Tools.SearchMaxResults},
	}
	for _, limit := range caps {
		if limit.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", limit.key, limit.value)
		}
	}

	return nil
}
