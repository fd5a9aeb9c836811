package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns base enriched with the correlation IDs in ctx.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := base.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.AgentID != "" {
		lc = lc.Str("agent_id", tc.AgentID)
	}
	if tc.SessionID != "" {
		lc = lc.Str("session_id", tc.SessionID)
	}
	if tc.UserID != "" {
		lc = lc.Str("user_id", tc.UserID)
	}
	return lc.Logger()
}

// Detach copies the correlation IDs of ctx onto a fresh background context.
// Work that must outlive the caller (queued tasks, websocket pumps) uses it
// so that logs stay correlated after the originating request is cancelled.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}

// MergeContext fills IDs missing from target with those found in source.
func MergeContext(target, source context.Context) context.Context {
	src := FromContext(source)
	dst := FromContext(target)
	if dst.TraceID == "" && src.TraceID != "" {
		target = WithTraceID(target, src.TraceID)
	}
	if dst.RunID == "" && src.RunID != "" {
		target = WithRunID(target, src.RunID)
	}
	if dst.AgentID == "" && src.AgentID != "" {
		target = WithAgentID(target, src.AgentID)
	}
	if dst.SessionID == "" && src.SessionID != "" {
		target = WithSessionID(target, src.SessionID)
	}
	if dst.UserID == "" && src.UserID != "" {
		target = WithUserID(target, src.UserID)
	}
	return target
}
