// Package tracing carries run identifiers through context.Context and onto
// zerolog loggers, and wraps OpenTelemetry span creation.
package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for an agent run
	RunIDKey ContextKey = "run_id"
	// ConversationKey is the context key for the conversation being driven
	ConversationKey ContextKey = "conversation"
	// TurnKey is the context key for the current turn number
	TurnKey ContextKey = "turn"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID      string
	RunID        string
	Conversation string
	Turn         int
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithConversation adds a conversation key to the context
func WithConversation(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ConversationKey, key)
}

// WithTurn records the current turn number
func WithTurn(ctx context.Context, turn int) context.Context {
	return context.WithValue(ctx, TurnKey, turn)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetConversation retrieves the conversation key from the context
func GetConversation(ctx context.Context) string {
	if key, ok := ctx.Value(ConversationKey).(string); ok {
		return key
	}
	return ""
}

// GetTurn retrieves the turn number, zero when unset
func GetTurn(ctx context.Context) int {
	if turn, ok := ctx.Value(TurnKey).(int); ok {
		return turn
	}
	return 0
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:      GetTraceID(ctx),
		RunID:        GetRunID(ctx),
		Conversation: GetConversation(ctx),
		Turn:         GetTurn(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.Conversation != "" {
		ctx = WithConversation(ctx, tc.Conversation)
	}
	if tc.Turn != 0 {
		ctx = WithTurn(ctx, tc.Turn)
	}
	return ctx
}

// NewRunContext starts a run: fresh run ID, trace ID kept when present.
func NewRunContext(ctx context.Context, conversation string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRunID(ctx, NewRunID())
	if conversation != "" {
		ctx = WithConversation(ctx, conversation)
	}
	return ctx
}
