package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/agentkit/pkg/toolexecutor"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []AgentMessage
	Tools        []toolexecutor.ToolDefinition
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LastUserText returns the text of the last message when it is a user
// message.
func (r *LLMRequest) LastUserText() string {
	if len(r.Messages) == 0 {
		return ""
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != "user" {
		return ""
	}
	return last.Content
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderCreator creates LLM providers from AI profiles.
type ProviderCreator interface {
	NewProvider(profile AIProfile) (LLMProvider, error)
}

// ProviderFactory creates the SDK-backed providers.
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on profile
func (f *ProviderFactory) NewProvider(profile AIProfile) (LLMProvider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	case "ollama":
		return NewOllamaProvider(profile.BaseURL), nil
	case "gemini":
		return NewGeminiProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// toolResultText renders a function response for providers that take tool
// results as text.
func toolResultText(content string) string {
	if content == "" {
		return "{}"
	}
	return content
}

func parseArguments(raw string) (map[string]any, error) {
	params := map[string]any{}
	if raw == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
	}
	return params, nil
}
