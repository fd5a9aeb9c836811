package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/internal/tracing"
	"github.com/harun/agentkit/pkg/commandqueue"
	"github.com/harun/agentkit/pkg/hooks"
	"github.com/harun/agentkit/pkg/session"
	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultInstruction   = "You are a helpful assistant."
	defaultContextTokens = 32000
	defaultRetryDelay    = time.Second
	recentMessages       = 20
)

// Agent is a resolved agent definition.
type Agent struct {
	ID          string
	Name        string
	Description string
	Model       string
	Instruction string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	// Tools limits the tools offered to the model. Nil offers none.
	Tools *toolexecutor.ToolPolicy
	// OutputKey, when set, stores the final answer in session state.
	OutputKey string
	Callbacks Callbacks
}

func (a Agent) author() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// Runner orchestrates AI agent execution
type Runner struct {
	agent           Agent
	sessions        session.Service
	toolExecutor    *toolexecutor.ToolExecutor
	commandQueue    *commandqueue.CommandQueue
	hooks           *hooks.Manager
	logger          zerolog.Logger
	providerFactory ProviderCreator

	maxTurns      int
	retryDelay    time.Duration
	toolTimeout   time.Duration
	contextTokens int

	// AI profiles
	profiles []AIProfile
	authMu   sync.RWMutex

	// Active runs for abort capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// Config holds runner configuration
type Config struct {
	Agent           Agent
	Sessions        session.Service
	ToolExecutor    *toolexecutor.ToolExecutor
	CommandQueue    *commandqueue.CommandQueue
	Hooks           *hooks.Manager
	Logger          *zerolog.Logger
	Profiles        []AIProfile
	ProviderFactory ProviderCreator

	MaxTurns       int
	RetryBaseDelay time.Duration
	ToolTimeout    time.Duration
	// ContextTokens is the estimated history size above which older
	// messages are summarized away.
	ContextTokens int
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if cfg.ToolExecutor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.CommandQueue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one AI profile is required")
	}
	if err := validateAgent(cfg.Agent); err != nil {
		return nil, fmt.Errorf("invalid agent: %w", err)
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryDelay
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = toolexecutor.DefaultTimeout
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = defaultContextTokens
	}

	profiles := make([]AIProfile, len(cfg.Profiles))
	copy(profiles, cfg.Profiles)

	return &Runner{
		agent:           cfg.Agent,
		sessions:        cfg.Sessions,
		toolExecutor:    cfg.ToolExecutor,
		commandQueue:    cfg.CommandQueue,
		hooks:           cfg.Hooks,
		logger:          logger.With().Str("component", "agent").Str("agent_id", cfg.Agent.ID).Logger(),
		providerFactory: providerFactory,
		maxTurns:        cfg.MaxTurns,
		retryDelay:      cfg.RetryBaseDelay,
		toolTimeout:     cfg.ToolTimeout,
		contextTokens:   cfg.ContextTokens,
		profiles:        profiles,
		activeRuns:      make(map[string]context.CancelFunc),
	}, nil
}

// Agent returns the agent definition the runner executes.
func (r *Runner) Agent() Agent {
	return r.agent
}

// validateAgent validates agent configuration
func validateAgent(a Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}
	if a.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if a.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// Run executes one user turn. Runs on the same session are serialized.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("session ID is required")
	}
	if req.Message == nil || len(req.Message.Parts) == 0 {
		return nil, fmt.Errorf("message is required")
	}
	if req.AppName == "" {
		req.AppName = session.DefaultAppName
	}
	if req.UserID == "" {
		req.UserID = session.DefaultUserID
	}

	ctx = tracing.NewAgentRunContext(ctx, r.agent.ID, req.SessionID, req.UserID)
	ctx, span := tracing.StartSpan(ctx, "agentkit.agent", "agent.run",
		attribute.String("agent_id", r.agent.ID),
		attribute.String("session_id", req.SessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	lane := "session:" + req.SessionID
	out, err := r.commandQueue.EnqueueWithContext(ctx, lane, func(taskCtx context.Context) (any, error) {
		res, err := r.execute(taskCtx, req)
		if err != nil {
			return nil, err
		}
		return res, nil
	}, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Agent run failed")
		tracing.Fail(span, err)
		return nil, err
	}
	return out.(*RunResult), nil
}

// Abort cancels a running agent execution
func (r *Runner) Abort(sessionID string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[sessionID]
	if !exists {
		r.logger.Debug().Str("session_id", sessionID).Msg("No active run to abort")
		return
	}

	r.logger.Info().Str("session_id", sessionID).Msg("Aborting agent execution")
	cancel()
	delete(r.activeRuns, sessionID)
}

// IsRunning checks if an agent is currently running for a session
func (r *Runner) IsRunning(sessionID string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[sessionID]
	return exists
}

func (r *Runner) loadOrCreate(ctx context.Context, req RunRequest) (*session.Session, error) {
	sess, err := r.sessions.Get(ctx, req.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return r.sessions.Create(ctx, req.SessionID, req.AppName, req.UserID)
	}
	if err != nil {
		return nil, err
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	return sess, nil
}

// execute performs the actual agent execution
func (r *Runner) execute(ctx context.Context, req RunRequest) (*RunResult, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.runsMu.Lock()
	r.activeRuns[req.SessionID] = cancel
	r.runsMu.Unlock()
	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, req.SessionID)
		r.runsMu.Unlock()
	}()

	sess, err := r.loadOrCreate(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load session")
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	invocationID := "e-" + uuid.NewString()
	result := &RunResult{SessionID: sess.ID}
	emit := func(ev *session.Event) error {
		if err := session.AppendEvent(ctx, r.sessions, sess, ev); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		result.Events = append(result.Events, ev)
		if req.Sink != nil {
			req.Sink.Emit(ctx, ev)
		}
		return nil
	}

	if err := emit(session.NewEvent(invocationID, "user", req.Message)); err != nil {
		return nil, err
	}

	state := &runState{base: sess.State}
	cc := &CallbackContext{
		AgentName: r.agent.author(),
		SessionID: sess.ID,
		UserID:    sess.UserID,
		State:     sess.State,
	}
	policy := r.agent.Tools
	if policy == nil {
		policy = &toolexecutor.ToolPolicy{}
	}
	var tools []toolexecutor.ToolDefinition
	if r.agent.Tools != nil {
		tools = r.toolExecutor.Definitions(r.agent.Tools)
	}

	for turn := 0; turn < r.maxTurns; turn++ {
		if runCtx.Err() != nil && ctx.Err() == nil {
			result.Aborted = true
			return result, nil
		}

		llmReq := &LLMRequest{
			Model:        r.agent.Model,
			Messages:     r.buildMessages(sess),
			Tools:        tools,
			Temperature:  r.agent.Temperature,
			MaxTokens:    r.agent.MaxTokens,
			SystemPrompt: r.instruction(sess.State),
		}
		resp, err := r.callModel(runCtx, cc, llmReq)
		if err != nil {
			if runCtx.Err() != nil && ctx.Err() == nil {
				result.Aborted = true
				return result, nil
			}
			return nil, err
		}
		result.Usage = result.Usage.add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			final := session.NewTextEvent(invocationID, r.agent.author(), resp.Content)
			final.TurnComplete = true
			if r.agent.OutputKey != "" {
				final.Actions.StateDelta = map[string]any{r.agent.OutputKey: resp.Content}
			}
			if err := emit(final); err != nil {
				return nil, err
			}
			session.ClearTempState(sess)

			result.Response = resp.Content
			r.hooks.Fire(ctx, hooks.EventAgentTurnCompleted, map[string]any{
				"agent_id":   r.agent.ID,
				"session_id": sess.ID,
				"user_id":    sess.UserID,
				"tool_calls": len(result.ToolCalls),
			})
			return result, nil
		}

		callParts := make([]*session.Part, 0, len(resp.ToolCalls)+1)
		if resp.Content != "" {
			callParts = append(callParts, &session.Part{Text: resp.Content})
		}
		for i := range resp.ToolCalls {
			if resp.ToolCalls[i].ID == "" {
				resp.ToolCalls[i].ID = "call_" + uuid.NewString()
			}
			tc := resp.ToolCalls[i]
			callParts = append(callParts, &session.Part{FunctionCall: &session.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Parameters}})
		}
		if err := emit(session.NewEvent(invocationID, r.agent.author(), &session.Content{Role: "model", Parts: callParts})); err != nil {
			return nil, err
		}

		respParts := make([]*session.Part, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			out := r.runTool(withRunState(runCtx, state), cc, tc, policy)
			respParts = append(respParts, &session.Part{FunctionResponse: &session.FunctionResponse{ID: tc.ID, Name: tc.Name, Response: out}})
		}
		respEvent := session.NewEvent(invocationID, r.agent.author(), &session.Content{Role: "user", Parts: respParts})
		respEvent.Actions.StateDelta = state.take()
		if err := emit(respEvent); err != nil {
			return nil, err
		}
		result.ToolCalls = append(result.ToolCalls, resp.ToolCalls...)
	}

	logger.Warn().Int("max_turns", r.maxTurns).Msg("Tool loop did not finish")
	return nil, fmt.Errorf("maximum tool execution turns exceeded")
}

var stateRef = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_:]*)\}`)

// instruction returns the system prompt with {key} references to session
// state filled in. Unknown keys are left as written.
func (r *Runner) instruction(state map[string]any) string {
	text := r.agent.Instruction
	if text == "" {
		text = defaultInstruction
	}
	return stateRef.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := state[m[1:len(m)-1]]; ok {
			return fmt.Sprint(v)
		}
		return m
	})
}

// buildMessages replays the session history for the model.
func (r *Runner) buildMessages(sess *session.Session) []AgentMessage {
	messages := []AgentMessage{}
	for _, ev := range sess.Events {
		if ev == nil || ev.Content == nil || ev.Partial {
			continue
		}
		var (
			text   strings.Builder
			images []*session.Blob
			calls  []ToolCall
			tools  []AgentMessage
		)
		for _, p := range ev.Content.Parts {
			switch {
			case p == nil:
			case p.FunctionCall != nil:
				calls = append(calls, ToolCall{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Parameters: p.FunctionCall.Args})
			case p.FunctionResponse != nil:
				data, _ := json.Marshal(p.FunctionResponse.Response)
				tools = append(tools, AgentMessage{
					Role:       "tool",
					Content:    string(data),
					ToolCallID: p.FunctionResponse.ID,
					ToolName:   p.FunctionResponse.Name,
				})
			case p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "image/"):
				images = append(images, p.InlineData)
			default:
				text.WriteString(p.Text)
			}
		}

		switch {
		case len(tools) > 0:
			messages = append(messages, tools...)
		case ev.Author == "user":
			if text.Len() > 0 || len(images) > 0 {
				messages = append(messages, AgentMessage{Role: "user", Content: text.String(), Images: images})
			}
		default:
			if text.Len() > 0 || len(calls) > 0 {
				messages = append(messages, AgentMessage{Role: "assistant", Content: text.String(), ToolCalls: calls})
			}
		}
	}
	return r.compactIfNeeded(messages)
}

// compactIfNeeded drops older messages once the history exceeds the context
// budget, keeping the most recent ones and a marker for what was dropped.
func (r *Runner) compactIfNeeded(messages []AgentMessage) []AgentMessage {
	tokenCount := EstimateTokens(messages)
	if tokenCount <= r.contextTokens || len(messages) <= recentMessages {
		return messages
	}

	start := len(messages) - recentMessages
	// Tool results must follow the call that produced them.
	for start < len(messages) && messages[start].Role != "user" {
		start++
	}
	if start == len(messages) {
		return messages
	}

	r.logger.Info().
		Int("token_count", tokenCount).
		Int("context_tokens", r.contextTokens).
		Int("dropped", start).
		Msg("Compacting context")

	out := []AgentMessage{{
		Role:    "user",
		Content: fmt.Sprintf("[Previous conversation summary: %d messages exchanged]", start),
	}, {
		Role:    "assistant",
		Content: "Understood.",
	}}
	return append(out, messages[start:]...)
}

// callModel runs the model callbacks around a failover call.
func (r *Runner) callModel(ctx context.Context, cc *CallbackContext, req *LLMRequest) (*LLMResponse, error) {
	for _, cb := range r.agent.Callbacks.BeforeModel {
		resp, err := cb(ctx, cc, req)
		if err != nil {
			return nil, fmt.Errorf("before model callback failed: %w", err)
		}
		if resp != nil {
			return resp, nil
		}
	}

	resp, err := r.executeWithFailover(ctx, *req)
	if err != nil {
		return nil, err
	}

	for _, cb := range r.agent.Callbacks.AfterModel {
		out, err := cb(ctx, cc, resp)
		if err != nil {
			return nil, fmt.Errorf("after model callback failed: %w", err)
		}
		if out != nil {
			return out, nil
		}
	}
	return resp, nil
}

// runTool executes one call with the tool callbacks applied. Failures are
// returned to the model as {"error": ...}.
func (r *Runner) runTool(ctx context.Context, cc *CallbackContext, call ToolCall, policy *toolexecutor.ToolPolicy) map[string]any {
	var result map[string]any
	for _, cb := range r.agent.Callbacks.BeforeTool {
		out, err := cb(ctx, cc, &call)
		if err != nil {
			out = map[string]any{"error": err.Error()}
		}
		if out != nil {
			result = out
			break
		}
	}

	if result == nil {
		tr := r.toolExecutor.Execute(ctx, call.Name, call.Parameters, &toolexecutor.ExecutionContext{
			SessionID:  cc.SessionID,
			AgentID:    r.agent.ID,
			Timeout:    r.toolTimeout,
			ToolPolicy: policy,
		})
		result = toolResponse(tr)
	}

	for _, cb := range r.agent.Callbacks.AfterTool {
		out, err := cb(ctx, cc, call, result)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		if out != nil {
			return out
		}
	}
	return result
}

// toolResponse converts an executor result to the map stored in the
// function response. Non-object outputs are wrapped as {"result": ...}.
func toolResponse(tr toolexecutor.ToolResult) map[string]any {
	if !tr.Success {
		return map[string]any{"error": tr.Error}
	}
	if tr.Output == nil {
		return map[string]any{}
	}
	if m, ok := tr.Output.(map[string]any); ok {
		return m
	}
	if s, ok := tr.Output.(string); ok {
		return map[string]any{"result": s}
	}
	data, err := json.Marshal(tr.Output)
	if err != nil {
		return map[string]any{"result": fmt.Sprint(tr.Output)}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err == nil && m != nil {
		return m
	}
	var v any
	_ = json.Unmarshal(data, &v)
	return map[string]any{"result": v}
}

// executeWithFailover executes with AI profile failover
func (r *Runner) executeWithFailover(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	r.authMu.RLock()
	profiles := make([]AIProfile, len(r.profiles))
	copy(profiles, r.profiles)
	r.authMu.RUnlock()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].Priority < profiles[j].Priority })

	var lastErr error
	for _, profile := range profiles {
		profileStart := time.Now()
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.Provider, true)
			logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := r.providerFactory.NewProvider(profile)
		if err != nil {
			lastErr = err
			observability.RecordAgentRun(profile.Provider, time.Since(profileStart), false)
			logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create provider")
			continue
		}

		call := req
		if profile.Model != "" {
			call.Model = profile.Model
		}
		resp, err := r.callWithRetry(ctx, provider, call)
		if err == nil {
			r.updateProfileSuccess(profile.ID)
			observability.RecordAgentRun(profile.Provider, time.Since(profileStart), true)
			return resp, nil
		}

		lastErr = err
		observability.RecordAgentRun(profile.Provider, time.Since(profileStart), false)
		logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("AI profile failed")
		r.updateProfileFailure(profile.ID)

		// Don't fail over on permanent errors
		if !IsRetryableError(err) || ctx.Err() != nil {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("every profile is cooling down")
	}
	logger.Error().Err(lastErr).Msg("All AI profiles failed")
	return nil, fmt.Errorf("all AI profiles failed: %w", lastErr)
}

// callWithRetry calls provider with exponential backoff retry
func (r *Runner) callWithRetry(ctx context.Context, provider LLMProvider, req LLMRequest) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "agentkit.agent", "agent.model_call",
		attribute.String("provider", provider.Provider()),
		attribute.String("model", req.Model),
	)
	defer span.End()

	maxRetries := r.agent.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		response, err := provider.Call(ctx, req)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !IsRetryableError(err) || attempt == maxRetries-1 {
			break
		}

		// Exponential backoff: base, 2x, 4x
		delay := r.retryDelay * time.Duration(1<<attempt)
		r.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Str("provider", provider.Provider()).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			tracing.Fail(span, ctx.Err())
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	tracing.Fail(span, lastErr)
	if !IsRetryableError(lastErr) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

// updateProfileSuccess resets failure count for a profile
func (r *Runner) updateProfileSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.profiles {
		if r.profiles[i].ID == profileID {
			r.profiles[i].FailureCount = 0
			r.profiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(r.profiles[i].Provider, false)
			break
		}
	}
}

// updateProfileFailure puts a profile into cooldown, one minute per
// consecutive failure.
func (r *Runner) updateProfileFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.profiles {
		if r.profiles[i].ID == profileID {
			r.profiles[i].FailureCount++
			cooldownMs := time.Now().UnixMilli() + int64(60000*r.profiles[i].FailureCount)
			r.profiles[i].CooldownUntil = &cooldownMs
			observability.SetProviderCooldown(r.profiles[i].Provider, true)
			break
		}
	}
}
