package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()

	if id1 == "" {
		t.Error("NewRunID returned empty string")
	}
	if id1 == id2 {
		t.Error("NewRunID returned duplicate IDs")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithConversation(ctx, "chat_2026-01-02_03-04-05")
	ctx = WithTurn(ctx, 3)

	tc := FromContext(ctx)
	if tc.TraceID != "trace-1" || tc.RunID != "run-1" {
		t.Errorf("unexpected ids: %+v", tc)
	}
	if tc.Conversation != "chat_2026-01-02_03-04-05" {
		t.Errorf("Expected conversation, got %q", tc.Conversation)
	}
	if tc.Turn != 3 {
		t.Errorf("Expected turn 3, got %d", tc.Turn)
	}
}

func TestGettersEmpty(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" || GetRunID(ctx) != "" || GetConversation(ctx) != "" {
		t.Error("Expected empty values on a bare context")
	}
	if GetTurn(ctx) != 0 {
		t.Error("Expected zero turn on a bare context")
	}
}

func TestNewRunContext(t *testing.T) {
	parent := WithTraceID(context.Background(), "trace-keep")

	ctx := NewRunContext(parent, "work")
	if GetTraceID(ctx) != "trace-keep" {
		t.Error("Trace ID should be kept")
	}
	if GetRunID(ctx) == "" {
		t.Error("Run ID not generated")
	}
	if GetConversation(ctx) != "work" {
		t.Error("Conversation not set")
	}

	fresh := NewRunContext(context.Background(), "")
	if GetTraceID(fresh) == "" {
		t.Error("Trace ID should be generated when missing")
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithRunID(context.Background(), "run-42")
	ctx = WithTurn(ctx, 2)

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"run_id":"run-42"`) {
		t.Errorf("run_id missing from %s", out)
	}
	if !strings.Contains(out, `"turn":2`) {
		t.Errorf("turn missing from %s", out)
	}
	if strings.Contains(out, "trace_id") {
		t.Errorf("unset trace_id should be omitted: %s", out)
	}
}

func TestDetach(t *testing.T) {
	ctx, cancel := context.WithCancel(WithRunID(context.Background(), "run-7"))
	cancel()

	detached := Detach(ctx)
	if detached.Err() != nil {
		t.Error("Detached context should not be cancelled")
	}
	if GetRunID(detached) != "run-7" {
		t.Error("Detached context lost the run ID")
	}
}

func TestStartSpanSetsTraceID(t *testing.T) {
	if err := InitOpenTelemetry("agerus-test"); err != nil {
		t.Fatalf("InitOpenTelemetry: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "agerus.test", "unit")
	defer span.End()

	if GetTraceID(ctx) == "" {
		t.Error("StartSpan should populate trace_id")
	}
}
