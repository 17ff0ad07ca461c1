package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/rs/zerolog"
)

const defaultAnthropicMaxTokens = 4096

// Anthropic streams from the Messages API.
type Anthropic struct {
	client    anthropic.Client
	maxTokens int64
	logger    zerolog.Logger
}

// NewAnthropic creates an Anthropic client.
func NewAnthropic(cfg Config) *Anthropic {
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

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
		logger:    cfg.Logger,
	}
}

// Name returns "anthropic".
func (p *Anthropic) Name() string { return "anthropic" }

// SeparatesReasoning is true: thinking arrives as its own delta type.
func (p *Anthropic) SeparatesReasoning() bool { return true }

type partialUse struct {
	id   string
	name string
	args strings.Builder
}

// Stream opens a streaming message. The first event is read before returning
// so a rejected request surfaces as an error.
func (p *Anthropic) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
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
		Msg("Anthropic stream opened")

	out := make(chan Chunk, 16)
	go p.read(ctx, stream, out)
	return out, nil
}

func (p *Anthropic) read(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- Chunk) {
	defer close(out)
	defer stream.Close()

	partials := map[int64]*partialUse{}
	var order []int64

	for {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if variant.ContentBlock.Type == "tool_use" {
				partials[variant.Index] = &partialUse{id: variant.ContentBlock.ID, name: variant.ContentBlock.Name}
				order = append(order, variant.Index)
			}
		case anthropic.ContentBlockDeltaEvent:
			var chunk Chunk
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				chunk.Content = delta.Text
			case anthropic.ThinkingDelta:
				chunk.Reasoning = delta.Thinking
			case anthropic.InputJSONDelta:
				if pu := partials[variant.Index]; pu != nil {
					pu.args.WriteString(delta.PartialJSON)
				}
			}
			if chunk.Content != "" || chunk.Reasoning != "" {
				if !send(ctx, out, chunk) {
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
			send(ctx, out, Chunk{Err: fmt.Errorf("anthropic streaming error: %w", err)})
		}
		return
	}

	var calls []ToolCall
	for _, idx := range order {
		pu := partials[idx]
		args := map[string]interface{}{}
		if raw := strings.TrimSpace(pu.args.String()); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				p.logger.Warn().Err(err).Str("tool", pu.name).Msg("Discarding undecodable tool input")
				args = map[string]interface{}{}
			}
		}
		calls = append(calls, ToolCall{ID: pu.id, Name: pu.name, Arguments: args})
	}
	send(ctx, out, Chunk{ToolCalls: calls, Done: true})
}

func (p *Anthropic) params(req Request) (anthropic.MessageNewParams, error) {
	var system []string
	messages := []anthropic.MessageParam{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: p.maxTokens,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			}
			switch required := tool.Parameters["required"].(type) {
			case []string:
				toolParam.InputSchema.Required = required
			case []interface{}:
				for _, v := range required {
					if s, ok := v.(string); ok {
						toolParam.InputSchema.Required = append(toolParam.InputSchema.Required, s)
					}
				}
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *Anthropic) classify(ctx context.Context, err error, withTools bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(p.Name(), apiErr.StatusCode, apiErr.Error(), withTools)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
