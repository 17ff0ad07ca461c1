package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestStartSpanTagsRunContext(t *testing.T) {
	if err := InitOpenTelemetry("agerus-test"); err != nil {
		t.Fatalf("InitOpenTelemetry: %v", err)
	}

	ctx := WithTurn(NewRunContext(context.Background(), "demo"), 2)
	_, span := StartSpan(ctx, "agerus.test", "turn")
	defer span.End()

	ro, ok := span.(sdktrace.ReadOnlySpan)
	if !ok {
		t.Fatalf("expected an sdk span, got %T", span)
	}

	got := map[attribute.Key]attribute.Value{}
	for _, kv := range ro.Attributes() {
		got[kv.Key] = kv.Value
	}
	if got["agerus.conversation"].AsString() != "demo" {
		t.Errorf("conversation attribute = %q", got["agerus.conversation"].AsString())
	}
	if got["agerus.turn"].AsInt64() != 2 {
		t.Errorf("turn attribute = %d", got["agerus.turn"].AsInt64())
	}
	if got["agerus.run_id"].AsString() != GetRunID(ctx) {
		t.Error("run id attribute should match the context")
	}
}

func TestShutdownAllowsReinit(t *testing.T) {
	if err := InitOpenTelemetry("agerus-test"); err != nil {
		t.Fatalf("InitOpenTelemetry: %v", err)
	}
	if err := ShutdownOpenTelemetry(context.Background()); err != nil {
		t.Fatalf("ShutdownOpenTelemetry: %v", err)
	}
	if err := ShutdownOpenTelemetry(context.Background()); err != nil {
		t.Fatalf("second shutdown should be a no-op: %v", err)
	}
	if err := InitOpenTelemetry("agerus-test"); err != nil {
		t.Fatalf("reinit: %v", err)
	}

	_, span := StartSpan(context.Background(), "agerus.test", "after-reinit")
	defer span.End()
	if !span.IsRecording() {
		t.Error("span should record after reinit")
	}
}
