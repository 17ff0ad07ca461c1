// Package provider streams chat completions from a model service. Each
// implementation turns its wire format into a channel of Chunks.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Message roles on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one function call requested by the model.
type ToolCall struct {
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Message is one entry of the request transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// Name is the tool name on tool messages.
	Name string `json:"name,omitempty"`
}

// ToolSpec advertises a tool. Parameters is a JSON Schema object.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is one streaming call. Empty Tools omits tools from the request.
type Request struct {
	Model    string
	Messages []Message
	Tools    []ToolSpec
}

// Chunk is one increment of a streamed reply. A chunk with Err is always the
// last one on the channel.
type Chunk struct {
	Content   string
	Reasoning string
	ToolCalls []ToolCall
	Done      bool
	Err       error
}

// Client streams model replies.
type Client interface {
	// Stream starts one request. Failures before the first byte of the reply
	// are returned directly; later failures arrive as a final Chunk.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	// Name identifies the provider in logs and metrics.
	Name() string
	// SeparatesReasoning reports whether reasoning arrives in its own field
	// rather than inline between tags.
	SeparatesReasoning() bool
}

// Config selects and configures a Client.
type Config struct {
	// Provider is ollama, openai or anthropic.
	Provider string `mapstructure:"provider"`
	// Endpoint is the full chat URL for ollama, or the base URL for the SDKs.
	Endpoint  string        `mapstructure:"endpoint"`
	APIKey    string        `mapstructure:"api_key"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`

	HTTPClient *http.Client   `mapstructure:"-"`
	Logger     zerolog.Logger `mapstructure:"-"`
}

// New builds the client named by cfg.Provider.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "ollama":
		return NewOllama(cfg)
	case "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// send delivers c unless ctx is done.
func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
