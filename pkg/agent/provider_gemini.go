package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/harun/agentkit/pkg/toolexecutor"
	"google.golang.org/genai"
)

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	apiKey string

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// NewGeminiProvider creates a new Gemini provider. The client is created on
// first use.
func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey}
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

func (p *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		p.client, p.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return p.client, p.clientErr
}

// Call makes an API call to Google Gemini
func (p *GeminiProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	contents, err := geminiContents(request.Messages)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{}
	if request.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(request.SystemPrompt, genai.RoleUser)
	}
	if request.Temperature > 0 {
		t := float32(request.Temperature)
		config.Temperature = &t
	}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}
	if len(request.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(request.Tools))
		for _, def := range request.Tools {
			decls = append(decls, geminiDeclaration(def))
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := client.Models.GenerateContent(ctx, request.Model, contents, config)
	if err != nil {
		return nil, err
	}

	out := &LLMResponse{}
	if resp.UsageMetadata != nil {
		out.Usage = &TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response candidates returned")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: id, Name: part.FunctionCall.Name, Parameters: args})
		case part.Text != "" && !part.Thought:
			out.Content += part.Text
		}
	}
	return out, nil
}

func geminiContents(messages []AgentMessage) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			continue
		case "assistant":
			c := &genai.Content{Role: string(genai.RoleModel)}
			if msg.Content != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Parameters}})
			}
			if len(c.Parts) > 0 {
				contents = append(contents, c)
			}
		case "tool":
			response := map[string]any{}
			if msg.Content != "" {
				if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
					response = map[string]any{"result": msg.Content}
				}
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: msg.ToolCallID, Name: msg.ToolName, Response: response}}
			// Responses to one model turn go back together.
			if n := len(contents); n > 0 && contents[n-1].Role == string(genai.RoleUser) && contents[n-1].Parts[0].FunctionResponse != nil {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{part}})
		default:
			c := &genai.Content{Role: string(genai.RoleUser)}
			for _, img := range msg.Images {
				c.Parts = append(c.Parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}})
			}
			if msg.Content != "" || len(c.Parts) == 0 {
				c.Parts = append(c.Parts, &genai.Part{Text: msg.Content})
			}
			contents = append(contents, c)
		}
	}
	return contents, nil
}

var geminiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

func geminiDeclaration(def toolexecutor.ToolDefinition) *genai.FunctionDeclaration {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(def.Parameters)),
	}
	for _, param := range def.Parameters {
		s := &genai.Schema{
			Type:        geminiTypes[strings.ToLower(param.Type)],
			Description: param.Description,
			Enum:        param.Enum,
		}
		if param.Type == "array" {
			items := param.Items
			if items == "" {
				items = "string"
			}
			s.Items = &genai.Schema{Type: geminiTypes[items]}
		}
		schema.Properties[param.Name] = s
		if param.Required {
			schema.Required = append(schema.Required, param.Name)
		}
	}
	return &genai.FunctionDeclaration{
		Name:        def.Name,
		Description: def.Description,
		Parameters:  schema,
	}
}
