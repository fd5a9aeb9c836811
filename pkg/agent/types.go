package agent

import (
	"context"
	"strings"

	"github.com/harun/agentkit/pkg/session"
)

const (
	// DefaultMaxTurns bounds the model/tool loop of one run.
	DefaultMaxTurns   = 10
	DefaultMaxRetries = 3
	DefaultMaxTokens  = 4096
	DefaultModel      = "gemini-2.0-flash"
)

// RunRequest is one user turn.
type RunRequest struct {
	AppName   string
	UserID    string
	SessionID string
	Message   *session.Content
	// Sink, when set, receives every event of the run as it is produced.
	Sink EventSink
}

// RunResult is the outcome of a run.
type RunResult struct {
	SessionID string           `json:"session_id"`
	Response  string           `json:"response"`
	ToolCalls []ToolCall       `json:"tool_calls,omitempty"`
	Events    []*session.Event `json:"events,omitempty"`
	Usage     *TokenUsage      `json:"usage,omitempty"`
	Aborted   bool             `json:"aborted,omitempty"`
}

// EventSink receives run events. Emit must not block for long.
type EventSink interface {
	Emit(ctx context.Context, ev *session.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev *session.Event)

func (f EventSinkFunc) Emit(ctx context.Context, ev *session.Event) { f(ctx, ev) }

// ToolCall represents a tool invocation
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *TokenUsage) add(o *TokenUsage) *TokenUsage {
	if o == nil {
		return u
	}
	if u == nil {
		u = &TokenUsage{}
	}
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	return u
}

// AIProfile holds credentials for one provider. Profiles are tried in
// Priority order (lower first); a failing profile cools down for a minute
// per consecutive failure.
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, ollama, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
	// Model overrides the agent model for this profile.
	Model         string `json:"model,omitempty" mapstructure:"model"`
	Priority      int    `json:"priority" mapstructure:"priority"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty" mapstructure:"-"`
	FailureCount  int    `json:"failure_count" mapstructure:"-"`
}

// AgentMessage represents a message in the conversation
type AgentMessage struct {
	Role       string          `json:"role"` // system, user, assistant, tool
	Content    string          `json:"content"`
	Images     []*session.Blob `json:"images,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"econnreset", "etimedout", "connection reset", "connection refused",
		"429", "rate limit", "resource_exhausted",
		"500", "502", "503", "504", "overloaded", "unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// EstimateTokens provides a rough token count estimation
func EstimateTokens(messages []AgentMessage) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
	}
	// Rough estimation: 1 token ≈ 4 characters
	return (totalChars + 3) / 4
}
