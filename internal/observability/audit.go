package observability

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ToolAudit is one tool call with side effects outside the process: a shell
// command, a file write, a network fetch.
type ToolAudit struct {
	Tool         string
	Conversation string
	CallID       string
	Turn         int
	Failed       bool
	Duration     time.Duration
	Metadata     map[string]interface{}
}

func (a ToolAudit) status() string {
	if a.Failed {
		return "failure"
	}
	return "success"
}

// AuditLogger appends tool audit records as JSON lines.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

var (
	auditMu   sync.RWMutex
	auditInst = &AuditLogger{logger: zerolog.Nop()}
)

// GetAuditLogger returns the process audit logger. It discards records
// until InitAuditLogger is called; stderr belongs to the terminal.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// InitAuditLogger points the process audit logger at an append-only file.
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	auditMu.Lock()
	auditInst = &AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}
	auditMu.Unlock()
	return nil
}

// NewAuditLogger writes to an arbitrary logger.
func NewAuditLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Record writes one line and adds a span event to the active span.
func (a *AuditLogger) Record(ctx context.Context, rec ToolAudit) {
	traceID := ""
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit", trace.WithAttributes(
			attribute.String("audit.tool", rec.Tool),
			attribute.String("audit.status", rec.status()),
			attribute.String("audit.call_id", rec.CallID),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("tool", rec.Tool).
		Str("status", rec.status()).
		Str("conversation", rec.Conversation).
		Str("call_id", rec.CallID).
		Int("turn", rec.Turn).
		Dur("duration", rec.Duration)
	if traceID != "" {
		entry.Str("trace_id", traceID)
	}
	if len(rec.Metadata) > 0 {
		entry.Interface("metadata", rec.Metadata)
	}
	entry.Send()
}

// Close closes the file. Later records are discarded.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger = zerolog.Nop()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// RecordToolAudit records rec on the process audit logger.
func RecordToolAudit(ctx context.Context, rec ToolAudit) {
	GetAuditLogger().Record(ctx, rec)
}
