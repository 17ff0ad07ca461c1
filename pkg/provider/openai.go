package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/rs/zerolog"
)

// OpenAI streams from the Chat Completions API or any compatible endpoint.
type OpenAI struct {
	client    openai.Client
	maxTokens int
	logger    zerolog.Logger
}

// NewOpenAI creates an OpenAI client. A non-empty Endpoint replaces the
// base URL, which covers compatible servers.
func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAI{
		client:    openai.NewClient(opts...),
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

// Name returns "openai".
func (p *OpenAI) Name() string { return "openai" }

// SeparatesReasoning is false; reasoning models that think out loud do so
// inline.
func (p *OpenAI) SeparatesReasoning() bool { return false }

type aggCall struct {
	id   string
	name string
	args string
}

// Stream opens a streaming completion. The first event is read before
// returning so a rejected request surfaces as an error.
func (p *OpenAI) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		if err == nil {
			out := make(chan Chunk, 1)
			out <- Chunk{Done: true}
			close(out)
			return out, nil
		}
		return nil, p.classify(ctx, err, len(req.Tools) > 0)
	}

	p.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("OpenAI stream opened")

	out := make(chan Chunk, 16)
	go p.read(ctx, stream, out)
	return out, nil
}

func (p *OpenAI) read(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], out chan<- Chunk) {
	defer close(out)
	defer stream.Close()

	toolAgg := map[int64]*aggCall{}
	for {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				ac.args += tc.Function.Arguments
			}
			if ch.Delta.Content != "" {
				if !send(ctx, out, Chunk{Content: ch.Delta.Content}) {
					return
				}
			}
		}

		if !stream.Next() {
			break
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() == nil {
			send(ctx, out, Chunk{Err: fmt.Errorf("openai streaming error: %w", err)})
		}
		return
	}

	send(ctx, out, Chunk{ToolCalls: finishCalls(toolAgg, p.logger), Done: true})
}

// finishCalls decodes the aggregated argument strings in index order.
func finishCalls(agg map[int64]*aggCall, logger zerolog.Logger) []ToolCall {
	if len(agg) == 0 {
		return nil
	}
	indexes := make([]int64, 0, len(agg))
	for idx := range agg {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	calls := make([]ToolCall, 0, len(agg))
	for _, idx := range indexes {
		ac := agg[idx]
		if ac.name == "" {
			continue
		}
		args := map[string]interface{}{}
		if ac.args != "" {
			if err := json.Unmarshal([]byte(ac.args), &args); err != nil {
				logger.Warn().Err(err).Str("tool", ac.name).Msg("Discarding undecodable tool arguments")
				args = map[string]interface{}{}
			}
		}
		calls = append(calls, ToolCall{ID: ac.id, Name: ac.name, Arguments: args})
	}
	return calls
}

func (p *OpenAI) params(req Request) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Arguments)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *OpenAI) classify(ctx context.Context, err error, withTools bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(p.Name(), apiErr.StatusCode, apiErr.Error(), withTools)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
