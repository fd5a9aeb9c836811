package tracing

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	runIDKey     contextKey = "run_id"
	agentIDKey   contextKey = "agent_id"
	sessionIDKey contextKey = "session_id"
	userIDKey    contextKey = "user_id"
)

// TraceContext is the set of correlation IDs carried through a request.
type TraceContext struct {
	TraceID   string
	RunID     string
	AgentID   string
	SessionID string
	UserID    string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey, id)
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func GetTraceID(ctx context.Context) string   { return stringValue(ctx, traceIDKey) }
func GetRunID(ctx context.Context) string     { return stringValue(ctx, runIDKey) }
func GetAgentID(ctx context.Context) string   { return stringValue(ctx, agentIDKey) }
func GetSessionID(ctx context.Context) string { return stringValue(ctx, sessionIDKey) }
func GetUserID(ctx context.Context) string    { return stringValue(ctx, userIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) TraceContext {
	return TraceContext{
		TraceID:   GetTraceID(ctx),
		RunID:     GetRunID(ctx),
		AgentID:   GetAgentID(ctx),
		SessionID: GetSessionID(ctx),
		UserID:    GetUserID(ctx),
	}
}

// NewContext copies the non-empty IDs of tc onto ctx.
func NewContext(ctx context.Context, tc TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.AgentID != "" {
		ctx = WithAgentID(ctx, tc.AgentID)
	}
	if tc.SessionID != "" {
		ctx = WithSessionID(ctx, tc.SessionID)
	}
	if tc.UserID != "" {
		ctx = WithUserID(ctx, tc.UserID)
	}
	return ctx
}

// NewRequestContext starts a new trace unless ctx already carries one.
func NewRequestContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

// NewAgentRunContext tags ctx with a fresh run ID for one agent invocation.
func NewAgentRunContext(ctx context.Context, agentID, sessionID, userID string) context.Context {
	ctx = NewRequestContext(ctx)
	ctx = WithRunID(ctx, NewRunID())
	ctx = WithAgentID(ctx, agentID)
	if sessionID != "" {
		ctx = WithSessionID(ctx, sessionID)
	}
	if userID != "" {
		ctx = WithUserID(ctx, userID)
	}
	return ctx
}
