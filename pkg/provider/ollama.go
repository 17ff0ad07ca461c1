package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultOllamaEndpoint is the local Ollama chat API.
const DefaultOllamaEndpoint = "http://localhost:11434/api/chat"

type ollamaFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Arguments   map[string]interface{} `json:"arguments,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaChatLine struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	System  string  `json:"system,omitempty"`
	Context []int64 `json:"context,omitempty"`
	Format  string  `json:"format,omitempty"`
	Stream  bool    `json:"stream"`
}

type ollamaGenerateLine struct {
	Response string  `json:"response"`
	Done     bool    `json:"done"`
	Context  []int64 `json:"context,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Ollama talks to the Ollama HTTP API. Endpoints ending in /api/generate use
// the prompt/context protocol; anything else uses /api/chat messages.
type Ollama struct {
	endpoint string
	generate bool
	client   *http.Client
	logger   zerolog.Logger

	mu      sync.Mutex
	context []int64
}

// NewOllama creates an Ollama client.
func NewOllama(cfg Config) (*Ollama, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("invalid ollama endpoint %q", endpoint)
	}

	client := cfg.HTTPClient
	if client == nil {
		// No overall timeout: a stream lives as long as the model talks.
		client = &http.Client{}
	}

	return &Ollama{
		endpoint: endpoint,
		generate: strings.HasSuffix(strings.TrimRight(endpoint, "/"), "/api/generate"),
		client:   client,
		logger:   cfg.Logger,
	}, nil
}

// Name returns "ollama".
func (o *Ollama) Name() string { return "ollama" }

// SeparatesReasoning is false: thinking models without the thinking field
// still emit inline tags.
func (o *Ollama) SeparatesReasoning() bool { return false }

// ResetContext forgets the generate-mode context.
func (o *Ollama) ResetContext() {
	o.mu.Lock()
	o.context = nil
	o.mu.Unlock()
}

// Stream sends one request and streams NDJSON lines back as chunks.
func (o *Ollama) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	var (
		body []byte
		err  error
	)
	if o.generate {
		body, err = json.Marshal(o.generateRequest(req))
	} else {
		body, err = json.Marshal(chatRequest(req))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, classifyStatus(o.Name(), resp.StatusCode, errorMessage(data), len(req.Tools) > 0)
	}

	o.logger.Debug().
		Str("endpoint", o.endpoint).
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("Ollama stream opened")

	out := make(chan Chunk, 16)
	go o.read(ctx, resp.Body, out)
	return out, nil
}

func (o *Ollama) read(ctx context.Context, body io.ReadCloser, out chan<- Chunk) {
	defer close(out)
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			chunk, ok := o.decodeLine(line)
			if ok {
				if !send(ctx, out, chunk) {
					return
				}
				if chunk.Done || chunk.Err != nil {
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				send(ctx, out, Chunk{Done: true})
				return
			}
			if ctx.Err() == nil {
				send(ctx, out, Chunk{Err: fmt.Errorf("%w: %v", ErrTransport, err)})
			}
			return
		}
	}
}

// decodeLine returns false for lines that do not parse.
func (o *Ollama) decodeLine(line []byte) (Chunk, bool) {
	if o.generate {
		var gl ollamaGenerateLine
		if err := json.Unmarshal(line, &gl); err != nil {
			o.logger.Debug().Err(err).Msg("Skipping malformed stream line")
			return Chunk{}, false
		}
		if gl.Error != "" {
			return Chunk{Err: errors.New(gl.Error)}, true
		}
		if gl.Done && len(gl.Context) > 0 {
			o.mu.Lock()
			o.context = gl.Context
			o.mu.Unlock()
		}
		return Chunk{Content: gl.Response, Done: gl.Done}, true
	}

	var cl ollamaChatLine
	if err := json.Unmarshal(line, &cl); err != nil {
		o.logger.Debug().Err(err).Msg("Skipping malformed stream line")
		return Chunk{}, false
	}
	if cl.Error != "" {
		return Chunk{Err: errors.New(cl.Error)}, true
	}

	chunk := Chunk{
		Content:   cl.Message.Content,
		Reasoning: cl.Message.Thinking,
		Done:      cl.Done,
	}
	for _, tc := range cl.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: args})
	}
	return chunk, true
}

func chatRequest(req Request) ollamaChatRequest {
	wire := ollamaChatRequest{Model: req.Model, Stream: true}
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		if m.Role == RoleTool {
			om.ToolName = m.Name
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Function: ollamaFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		wire.Messages = append(wire.Messages, om)
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, ollamaTool{
			Type: "function",
			Function: ollamaFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return wire
}

// generateRequest flattens the transcript for /api/generate: the system
// messages become the system prompt and everything after the last assistant
// reply becomes the prompt. Earlier turns live in the kept context.
func (o *Ollama) generateRequest(req Request) ollamaGenerateRequest {
	var system []string
	lastAssistant := -1
	for i, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			lastAssistant = i
		}
	}

	var prompt []string
	for _, m := range req.Messages[lastAssistant+1:] {
		switch m.Role {
		case RoleUser:
			prompt = append(prompt, m.Content)
		case RoleTool:
			prompt = append(prompt, "System: "+m.Content)
		}
	}

	o.mu.Lock()
	var kept []int64
	if lastAssistant >= 0 {
		kept = o.context
	}
	o.mu.Unlock()

	return ollamaGenerateRequest{
		Model:   req.Model,
		Prompt:  strings.Join(prompt, "\n\n"),
		System:  strings.Join(system, "\n\n"),
		Context: kept,
		Format:  "json",
		Stream:  true,
	}
}

// errorMessage pulls the "error" field out of a JSON error body.
func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(data)
}
