package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOllamaURL is the OpenAI-compatible endpoint of a local Ollama.
const DefaultOllamaURL = "http://localhost:11434/v1"

// OpenAIProvider implements LLMProvider for OpenAI and OpenAI-compatible
// servers.
type OpenAIProvider struct {
	client openai.Client
	name   string
}

// NewOpenAIProvider creates a new OpenAI provider. An empty baseURL selects
// the public API.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), name: "openai"}
}

// NewOllamaProvider talks to Ollama through its OpenAI-compatible API.
func NewOllamaProvider(baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	p := NewOpenAIProvider("ollama", baseURL)
	p.name = "ollama"
	return p
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return p.name
}

// Call makes an API call to OpenAI
func (p *OpenAIProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case "system":
			continue
		case "user":
			if len(msg.Images) == 0 {
				messages = append(messages, openai.UserMessage(msg.Content))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{}
			if msg.Content != "" {
				parts = append(parts, openai.TextContentPart(msg.Content))
			}
			for _, img := range msg.Images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
				}))
			}
			messages = append(messages, openai.UserMessage(parts))
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := []openai.ChatCompletionMessageToolCall{}
			for _, tc := range msg.ToolCalls {
				paramsJSON, err := json.Marshal(tc.Parameters)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool parameters: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(paramsJSON),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case "tool":
			messages = append(messages, openai.ToolMessage(toolResultText(msg.Content), msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}
	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}
	for _, def := range request.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(toolexecutor.ParametersSchema(def)),
			},
		})
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	out := &LLMResponse{
		Content: choice.Message.Content,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		params, err := parseArguments(tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Parameters: params})
	}
	return out, nil
}
