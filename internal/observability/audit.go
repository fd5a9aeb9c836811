package observability

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one line of the audit log. Every mutation of business data
// (products, sales, market growth, expenses) and every outbound message is
// recorded.
type AuditEvent struct {
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
	Action    string         `json:"action"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

var (
	auditMu   sync.Mutex
	auditInst *AuditLogger
)

// GetAuditLogger returns the process audit logger, writing to stderr until
// InitAuditLogger is called.
func GetAuditLogger() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		auditInst = &AuditLogger{logger: zerolog.New(os.Stderr).With().Timestamp().Logger()}
	}
	return auditInst
}

// InitAuditLogger redirects audit events to path.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	auditMu.Lock()
	prev := auditInst
	auditInst = &AuditLogger{logger: zerolog.New(file).With().Timestamp().Logger(), file: file}
	auditMu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return nil
}

// Record writes event and mirrors it as an event on the active span.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// RecordDataAudit records a create, update or delete against a table.
func RecordDataAudit(ctx context.Context, table, op, status string, metadata map[string]any) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "data",
		Actor:    actorFromContext(ctx),
		Action:   op + ":" + table,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordMessageAudit records an outbound message attempt.
func RecordMessageAudit(ctx context.Context, channel, recipient, status string) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "message",
		Actor:    actorFromContext(ctx),
		Action:   "send:" + channel,
		Status:   status,
		Metadata: map[string]any{"recipient": recipient},
	})
}

type actorKey struct{}

// WithActor tags ctx with the identity recorded as the audit actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
