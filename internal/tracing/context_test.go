package tracing

import (
	"context"
	"testing"
)

func TestNewIDsAreUnique(t *testing.T) {
	if NewTraceID() == NewTraceID() {
		t.Error("NewTraceID returned duplicate IDs")
	}
	if NewRunID() == NewRunID() {
		t.Error("NewRunID returned duplicate IDs")
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithAgentID(ctx, "market_agent")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithUserID(ctx, "user-1")

	tc := FromContext(ctx)
	want := TraceContext{TraceID: "trace-1", RunID: "run-1", AgentID: "market_agent", SessionID: "sess-1", UserID: "user-1"}
	if tc != want {
		t.Errorf("FromContext = %+v, want %+v", tc, want)
	}
}

func TestEmptyContext(t *testing.T) {
	tc := FromContext(context.Background())
	if tc != (TraceContext{}) {
		t.Errorf("Expected empty trace context, got %+v", tc)
	}
	//nolint:staticcheck
	if GetTraceID(nil) != "" {
		t.Error("Expected empty trace ID for nil context")
	}
}

func TestNewRequestContextKeepsExistingTrace(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-keep")
	if got := GetTraceID(NewRequestContext(ctx)); got != "trace-keep" {
		t.Errorf("Expected trace-keep, got %s", got)
	}

	fresh := NewRequestContext(context.Background())
	if GetTraceID(fresh) == "" {
		t.Error("Expected a generated trace ID")
	}
}

func TestNewAgentRunContext(t *testing.T) {
	parent := WithTraceID(context.Background(), "trace-1")
	ctx := NewAgentRunContext(parent, "redis_agent", "sess-9", "")

	if GetTraceID(ctx) != "trace-1" {
		t.Error("Trace ID not kept")
	}
	if GetRunID(ctx) == "" {
		t.Error("Run ID not generated")
	}
	if GetAgentID(ctx) != "redis_agent" || GetSessionID(ctx) != "sess-9" {
		t.Errorf("Unexpected IDs: %+v", FromContext(ctx))
	}
	if GetUserID(ctx) != "" {
		t.Error("Empty user ID should not be stored")
	}
}
