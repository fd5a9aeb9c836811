package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harun/agentkit/pkg/commandqueue"
	"github.com/harun/agentkit/pkg/session"
	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
	name string
}

func (m *mockProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	args := m.Called(ctx, request)
	resp, _ := args.Get(0).(*LLMResponse)
	return resp, args.Error(1)
}

func (m *mockProvider) Provider() string { return m.name }

type mockFactory map[string]LLMProvider

func (f mockFactory) NewProvider(profile AIProfile) (LLMProvider, error) {
	p, ok := f[profile.ID]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
	return p, nil
}

type testEnv struct {
	runner   *Runner
	sessions *session.Manager
	provider *mockProvider
}

func setupTestRunner(t *testing.T, a Agent) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	sessions, err := session.NewManager(session.Config{
		Backend: session.NewMemoryBackend(nil),
		Logger:  &logger,
	})
	require.NoError(t, err)

	executor := toolexecutor.New()
	require.NoError(t, executor.RegisterTools(BuiltinTools()...))
	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "test_tool",
		Description: "A test tool",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "input", Type: "string", Description: "Test input", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return "test result: " + params["input"].(string), nil
		},
	}))

	queue := commandqueue.New()
	t.Cleanup(func() { queue.Close() })

	provider := &mockProvider{name: "anthropic"}
	if a.ID == "" {
		a.ID = "test_agent"
	}
	if a.Model == "" {
		a.Model = "test-model"
	}
	runner, err := NewRunner(Config{
		Agent:           a,
		Sessions:        sessions,
		ToolExecutor:    executor,
		CommandQueue:    queue,
		Logger:          &logger,
		Profiles:        []AIProfile{{ID: "primary", Provider: "anthropic", APIKey: "test-key", Priority: 1}},
		ProviderFactory: mockFactory{"primary": provider},
		RetryBaseDelay:  time.Millisecond,
	})
	require.NoError(t, err)

	return &testEnv{runner: runner, sessions: sessions, provider: provider}
}

func userText(text string) *session.Content {
	return session.NewTextContent("user", text)
}

func TestNewRunner(t *testing.T) {
	valid := func() Config {
		logger := zerolog.Nop()
		sessions, _ := session.NewManager(session.Config{Backend: session.NewMemoryBackend(nil), Logger: &logger})
		return Config{
			Agent:        Agent{ID: "a", Model: "m"},
			Sessions:     sessions,
			ToolExecutor: toolexecutor.New(),
			CommandQueue: commandqueue.New(),
			Profiles:     []AIProfile{{ID: "p", Provider: "anthropic", APIKey: "key"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"should create runner with valid config", func(*Config) {}, ""},
		{"should fail without session service", func(c *Config) { c.Sessions = nil }, "session service"},
		{"should fail without tool executor", func(c *Config) { c.ToolExecutor = nil }, "tool executor"},
		{"should fail without profiles", func(c *Config) { c.Profiles = nil }, "AI profile"},
		{"should reject empty model", func(c *Config) { c.Agent.Model = "" }, "model cannot be empty"},
		{"should reject bad temperature", func(c *Config) { c.Agent.Temperature = 3 }, "temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			runner, err := NewRunner(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotNil(t, runner)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_TextResponse(t *testing.T) {
	env := setupTestRunner(t, Agent{Name: "assistant", Instruction: "Be brief.", OutputKey: "last_response"})
	env.provider.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
		return req.SystemPrompt == "Be brief." && req.LastUserText() == "hello" && len(req.Tools) == 0
	})).Return(&LLMResponse{Content: "hi there", Usage: &TokenUsage{InputTokens: 3, OutputTokens: 2}}, nil).Once()

	ctx := context.Background()
	result, err := env.runner.Run(ctx, RunRequest{AppName: "app", UserID: "u1", SessionID: "s1", Message: userText("hello")})
	require.NoError(t, err)
	assert.Equal(t, "hi there", result.Response)
	assert.Equal(t, &TokenUsage{InputTokens: 3, OutputTokens: 2}, result.Usage)
	require.Len(t, result.Events, 2)
	assert.Equal(t, "user", result.Events[0].Author)
	assert.Equal(t, "assistant", result.Events[1].Author)
	assert.True(t, result.Events[1].TurnComplete)

	t.Run("should create and persist the session", func(t *testing.T) {
		sess, err := env.sessions.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "app", sess.AppName)
		assert.Equal(t, "u1", sess.UserID)
		require.Len(t, sess.Events, 2)
		assert.Equal(t, "hi there", sess.Events[1].Text())
		assert.Equal(t, "hi there", sess.State["last_response"])
	})

	t.Run("should replay history on the next turn", func(t *testing.T) {
		env.provider.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return len(req.Messages) == 3 && req.Messages[1].Role == "assistant" && req.Messages[1].Content == "hi there"
		})).Return(&LLMResponse{Content: "again"}, nil).Once()

		result, err := env.runner.Run(ctx, RunRequest{AppName: "app", UserID: "u1", SessionID: "s1", Message: userText("more")})
		require.NoError(t, err)
		assert.Equal(t, "again", result.Response)
	})

	env.provider.AssertExpectations(t)
}

func TestRun_ToolLoop(t *testing.T) {
	env := setupTestRunner(t, Agent{Tools: &toolexecutor.ToolPolicy{Allow: []string{"test_tool", "set_state", "get_state"}}})

	env.provider.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
		return len(req.Messages) == 1 && len(req.Tools) == 3
	})).Return(&LLMResponse{
		Content: "Let me check.",
		ToolCalls: []ToolCall{
			{ID: "call_1", Name: "test_tool", Parameters: map[string]any{"input": "x"}},
			{ID: "call_2", Name: "set_state", Parameters: map[string]any{"key": "temp:scratch", "value": "1"}},
			{ID: "call_3", Name: "set_state", Parameters: map[string]any{"key": "color", "value": "blue"}},
		},
	}, nil).Once()
	env.provider.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
		n := len(req.Messages)
		return n == 5 && req.Messages[2].Role == "tool" && req.Messages[2].Content == `{"result":"test result: x"}`
	})).Return(&LLMResponse{Content: "done"}, nil).Once()

	var emitted []*session.Event
	sink := EventSinkFunc(func(_ context.Context, ev *session.Event) { emitted = append(emitted, ev) })

	ctx := context.Background()
	result, err := env.runner.Run(ctx, RunRequest{SessionID: "tools", Message: userText("go"), Sink: sink})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Response)
	assert.Len(t, result.ToolCalls, 3)
	require.Len(t, emitted, 4)

	calls := emitted[1].FunctionCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, "test_tool", calls[0].Name)

	responses := emitted[2].Content.Parts
	require.Len(t, responses, 3)
	assert.Equal(t, "call_1", responses[0].FunctionResponse.ID)
	assert.Equal(t, map[string]any{"result": "test result: x"}, responses[0].FunctionResponse.Response)
	assert.Equal(t, map[string]any{"temp:scratch": "1", "color": "blue"}, emitted[2].Actions.StateDelta)

	t.Run("should persist state but not temp keys", func(t *testing.T) {
		sess, err := env.sessions.Get(ctx, "tools")
		require.NoError(t, err)
		assert.Equal(t, "blue", sess.State["color"])
		assert.NotContains(t, sess.State, "temp:scratch")
	})

	env.provider.AssertExpectations(t)
}

func TestRun_ToolPolicy(t *testing.T) {
	env := setupTestRunner(t, Agent{})
	env.provider.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
		return len(req.Messages) == 1
	})).Return(&LLMResponse{ToolCalls: []ToolCall{{ID: "c", Name: "test_tool", Parameters: map[string]any{"input": "x"}}}}, nil).Once()
	env.provider.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{Content: "ok"}, nil).Once()

	result, err := env.runner.Run(context.Background(), RunRequest{SessionID: "policy", Message: userText("go")})
	require.NoError(t, err)
	resp := result.Events[2].Content.Parts[0].FunctionResponse.Response
	assert.Equal(t, "tool 'test_tool' is not allowed by agent policy", resp["error"])
}

func TestRun_MaxTurns(t *testing.T) {
	env := setupTestRunner(t, Agent{Tools: &toolexecutor.ToolPolicy{Allow: []string{"*"}}})
	env.provider.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{
		ToolCalls: []ToolCall{{Name: "test_tool", Parameters: map[string]any{"input": "loop"}}},
	}, nil)

	_, err := env.runner.Run(context.Background(), RunRequest{SessionID: "loop", Message: userText("go")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum tool execution turns exceeded")
	env.provider.AssertNumberOfCalls(t, "Call", DefaultMaxTurns)
}

func TestRun_Validation(t *testing.T) {
	env := setupTestRunner(t, Agent{})

	_, err := env.runner.Run(context.Background(), RunRequest{Message: userText("x")})
	assert.EqualError(t, err, "session ID is required")

	_, err = env.runner.Run(context.Background(), RunRequest{SessionID: "s"})
	assert.EqualError(t, err, "message is required")
}

func TestExecuteWithFailover(t *testing.T) {
	logger := zerolog.Nop()
	sessions, err := session.NewManager(session.Config{Backend: session.NewMemoryBackend(nil), Logger: &logger})
	require.NoError(t, err)

	newRunner := func(t *testing.T, factory mockFactory, profiles ...AIProfile) *Runner {
		queue := commandqueue.New()
		t.Cleanup(func() { queue.Close() })
		r, err := NewRunner(Config{
			Agent:           Agent{ID: "a", Model: "m", MaxRetries: 2},
			Sessions:        sessions,
			ToolExecutor:    toolexecutor.New(),
			CommandQueue:    queue,
			Logger:          &logger,
			Profiles:        profiles,
			ProviderFactory: factory,
			RetryBaseDelay:  time.Millisecond,
		})
		require.NoError(t, err)
		return r
	}

	t.Run("should fail over on retryable errors and cool down the failed profile", func(t *testing.T) {
		primary := &mockProvider{name: "anthropic"}
		primary.On("Call", mock.Anything, mock.Anything).Return(nil, errors.New("503 overloaded"))
		backup := &mockProvider{name: "openai"}
		backup.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return req.Model == "gpt-4o-mini"
		})).Return(&LLMResponse{Content: "from backup"}, nil)

		r := newRunner(t, mockFactory{"primary": primary, "backup": backup},
			AIProfile{ID: "backup", Provider: "openai", Model: "gpt-4o-mini", Priority: 2},
			AIProfile{ID: "primary", Provider: "anthropic", Priority: 1},
		)

		resp, err := r.executeWithFailover(context.Background(), LLMRequest{Model: "m"})
		require.NoError(t, err)
		assert.Equal(t, "from backup", resp.Content)
		primary.AssertNumberOfCalls(t, "Call", 2)

		for _, p := range r.profiles {
			if p.ID == "primary" {
				assert.Equal(t, 1, p.FailureCount)
				require.NotNil(t, p.CooldownUntil)
			}
		}

		// The primary is cooling down, so only the backup is called.
		_, err = r.executeWithFailover(context.Background(), LLMRequest{Model: "m"})
		require.NoError(t, err)
		primary.AssertNumberOfCalls(t, "Call", 2)
	})

	t.Run("should stop on permanent errors", func(t *testing.T) {
		primary := &mockProvider{name: "anthropic"}
		primary.On("Call", mock.Anything, mock.Anything).Return(nil, errors.New("401 invalid api key"))
		backup := &mockProvider{name: "openai"}

		r := newRunner(t, mockFactory{"primary": primary, "backup": backup},
			AIProfile{ID: "primary", Provider: "anthropic", Priority: 1},
			AIProfile{ID: "backup", Provider: "openai", Priority: 2},
		)

		_, err := r.executeWithFailover(context.Background(), LLMRequest{Model: "m"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		primary.AssertNumberOfCalls(t, "Call", 1)
		backup.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
	})
}

func TestCompactIfNeeded(t *testing.T) {
	env := setupTestRunner(t, Agent{})
	env.runner.contextTokens = 10

	t.Run("should keep short histories", func(t *testing.T) {
		msgs := []AgentMessage{{Role: "user", Content: "hi"}}
		assert.Equal(t, msgs, env.runner.compactIfNeeded(msgs))
	})

	t.Run("should keep recent messages starting at a user turn", func(t *testing.T) {
		var msgs []AgentMessage
		for i := 0; i < 15; i++ {
			msgs = append(msgs,
				AgentMessage{Role: "user", Content: fmt.Sprintf("question %d", i)},
				AgentMessage{Role: "assistant", Content: fmt.Sprintf("answer %d", i)},
			)
		}
		out := env.runner.compactIfNeeded(msgs)
		require.Len(t, out, 22)
		assert.Contains(t, out[0].Content, "10 messages exchanged")
		assert.Equal(t, "question 5", out[2].Content)
	})
}

func TestInstruction(t *testing.T) {
	env := setupTestRunner(t, Agent{Instruction: "Hello {user:name}, keep {unknown} and {json"})
	got := env.runner.instruction(map[string]any{"user:name": "Ada"})
	assert.Equal(t, "Hello Ada, keep {unknown} and {json", got)

	env = setupTestRunner(t, Agent{})
	assert.Equal(t, defaultInstruction, env.runner.instruction(nil))
}

func TestToolResponse(t *testing.T) {
	tests := []struct {
		name     string
		in       toolexecutor.ToolResult
		expected map[string]any
	}{
		{"error", toolexecutor.ToolResult{Error: "boom"}, map[string]any{"error": "boom"}},
		{"map", toolexecutor.ToolResult{Success: true, Output: map[string]any{"a": 1}}, map[string]any{"a": 1}},
		{"string", toolexecutor.ToolResult{Success: true, Output: "text"}, map[string]any{"result": "text"}},
		{"slice", toolexecutor.ToolResult{Success: true, Output: []string{"a"}}, map[string]any{"result": []any{"a"}}},
		{"struct", toolexecutor.ToolResult{Success: true, Output: struct {
			Status string `json:"status"`
		}{"ok"}}, map[string]any{"status": "ok"}},
		{"nil", toolexecutor.ToolResult{Success: true}, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, toolResponse(tt.in))
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(errors.New("POST: 429 Too Many Requests")))
	assert.True(t, IsRetryableError(errors.New("read: connection reset by peer")))
	assert.True(t, IsRetryableError(errors.New("Error 503: UNAVAILABLE")))
	assert.False(t, IsRetryableError(errors.New("400 invalid request")))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(nil))
	assert.Equal(t, 2, EstimateTokens([]AgentMessage{{Content: "hello"}, {Content: "abc"}}))
}
