package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentkit/internal/config"
	"github.com/harun/agentkit/pkg/agent"
	"github.com/harun/agentkit/pkg/artifact"
	"github.com/harun/agentkit/pkg/hooks"
	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

const defaultHookTimeout = 5 * time.Second

func newHookManager(cfg config.HooksConfig, logger zerolog.Logger) (*hooks.Manager, error) {
	hookDefs := make([]hooks.Hook, 0, len(cfg.Entries))
	for _, entry := range cfg.Entries {
		timeout := time.Duration(entry.TimeoutSeconds) * time.Second
		if entry.TimeoutSeconds <= 0 {
			timeout = defaultHookTimeout
		}
		hookDefs = append(hookDefs, hooks.Hook{
			ID:      strings.TrimSpace(entry.ID),
			Event:   strings.TrimSpace(entry.Event),
			Script:  strings.TrimSpace(entry.Script),
			Timeout: timeout,
			Enabled: entry.Enabled,
		})
	}

	return hooks.NewManager(hooks.Config{
		Enabled: cfg.Enabled,
		Hooks:   hookDefs,
		Logger:  logger,
	})
}

// toolGroup is a set of tools backed by one client. A group is only opened
// and registered when some agent's policy allows one of its tools.
type toolGroup struct {
	name     string
	tools    []string
	register func(ctx context.Context, r *Runtime, exec *toolexecutor.ToolExecutor) error
}

var toolGroups = []toolGroup{
	{
		name:  "state",
		tools: []string{"get_state", "set_state", agent.CapitalCityTool},
		register: func(_ context.Context, _ *Runtime, exec *toolexecutor.ToolExecutor) error {
			return exec.RegisterTools(agent.BuiltinTools()...)
		},
	},
	{
		name:  "artifact",
		tools: []string{"save_artifact", "load_artifact", "list_artifacts"},
		register: func(ctx context.Context, r *Runtime, exec *toolexecutor.ToolExecutor) error {
			svc, err := r.artifactsLocked(ctx)
			if err != nil {
				return err
			}
			return exec.RegisterTools(artifact.Tools(svc, r.cfg.Session.AppName)...)
		},
	},
	{
		name:  "search",
		tools: []string{"google_search", "find_shopping_items", "search"},
		register: func(ctx context.Context, r *Runtime, exec *toolexecutor.ToolExecutor) error {
			clients, err := r.searchLocked(ctx)
			if err != nil {
				return err
			}
			return clients.RegisterTools(exec)
		},
	},
	{
		name: "catalog",
		tools: []string{
			"manage_products", "manage_sales", "manage_market_growth",
			"batch_create_products", "batch_create_sales", "batch_create_market_growth",
			"get_sales_growth", "get_category_performance",
		},
		register: func(ctx context.Context, r *Runtime, exec *toolexecutor.ToolExecutor) error {
			svc, err := r.catalogLocked(ctx)
			if err != nil {
				return err
			}
			return svc.RegisterTools(exec)
		},
	},
	{
		name: "expense",
		tools: []string{
			"add_expense", "edit_expense", "delete_expense",
			"list_expenses", "summarize_expenses", "expense_tool",
		},
		register: func(ctx context.Context, r *Runtime, exec *toolexecutor.ToolExecutor) error {
			if cmd := r.cfg.Expense.ServerCommand; len(cmd) > 0 {
				return r.registerExpenseServer(ctx, exec, cmd)
			}
			tracker, err := r.expenseLocked()
			if err != nil {
				return err
			}
			return tracker.RegisterTools(exec)
		},
	},
}

// registerExpenseServer runs the expense tracker as an MCP child process and
// registers the tools it advertises.
func (r *Runtime) registerExpenseServer(ctx context.Context, exec *toolexecutor.ToolExecutor, cmd []string) error {
	adapter := toolexecutor.NewMCPServerAdapter("expense", cmd[0], cmd[1:])
	if r.cfg.Tools.TimeoutSeconds > 0 {
		adapter = adapter.WithTimeout(time.Duration(r.cfg.Tools.TimeoutSeconds) * time.Second)
	}
	registered, err := exec.RegisterMCPServer(ctx, "expense", adapter)
	if err != nil {
		_ = adapter.Stop()
		return fmt.Errorf("failed to register expense MCP server: %w", err)
	}
	r.addCloser("expense mcp server", adapter.Stop)
	r.logger.Info().Strs("tools", registered).Msg("Expense MCP server registered")
	return nil
}

// toolPolicy converts an agent's tool config. An empty config yields nil,
// which offers no tools.
func toolPolicy(cfg config.ToolPolicyConfig) *toolexecutor.ToolPolicy {
	if len(cfg.Allow) == 0 && len(cfg.Deny) == 0 {
		return nil
	}
	return &toolexecutor.ToolPolicy{Allow: cfg.Allow, Deny: cfg.Deny}
}

func (g toolGroup) wanted(policy *toolexecutor.ToolPolicy) bool {
	if policy == nil {
		return false
	}
	for _, name := range g.tools {
		if policy.IsToolAllowed(name) {
			return true
		}
	}
	return false
}

func (r *Runtime) executorLocked() *toolexecutor.ToolExecutor {
	if r.executor == nil {
		r.executor = toolexecutor.NewWithConfig(toolexecutor.Config{
			Timeout:        time.Duration(r.cfg.Tools.TimeoutSeconds) * time.Second,
			MaxOutputBytes: r.cfg.Tools.MaxOutputBytes,
		})
	}
	return r.executor
}

// Executor returns the shared tool executor with every group the policy
// needs registered.
func (r *Runtime) Executor(ctx context.Context, policy *toolexecutor.ToolPolicy) (*toolexecutor.ToolExecutor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return r.ensureTools(ctx, policy)
}

func (r *Runtime) ensureTools(ctx context.Context, policy *toolexecutor.ToolPolicy) (*toolexecutor.ToolExecutor, error) {
	exec := r.executorLocked()
	for _, g := range toolGroups {
		if r.toolGroups[g.name] || !g.wanted(policy) {
			continue
		}
		if err := g.register(ctx, r, exec); err != nil {
			return nil, fmt.Errorf("failed to register %s tools: %w", g.name, err)
		}
		r.toolGroups[g.name] = true
		r.logger.Debug().Str("group", g.name).Msg("Tool group registered")
	}
	return exec, nil
}

func aiProfiles(in []config.AIProfile) []agent.AIProfile {
	out := make([]agent.AIProfile, 0, len(in))
	for _, p := range in {
		out = append(out, agent.AIProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Model:    p.Model,
			Priority: p.Priority,
		})
	}
	return out
}

// AgentDefinition builds the runnable definition of a configured agent.
func AgentDefinition(cfg config.AgentConfig) (agent.Agent, error) {
	callbacks, err := agent.GuardrailCallbacks(cfg.Guardrails)
	if err != nil {
		return agent.Agent{}, fmt.Errorf("agent %s: %w", cfg.ID, err)
	}
	return agent.Agent{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Model:       cfg.Model,
		Instruction: cfg.Instruction,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Tools:       toolPolicy(cfg.Tools),
		OutputKey:   cfg.OutputKey,
		Callbacks:   callbacks,
	}, nil
}

// Runner returns the runner of the configured agent id. Runners are cached.
func (r *Runtime) Runner(ctx context.Context, agentID string) (*agent.Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if runner, ok := r.runners[agentID]; ok {
		return runner, nil
	}

	agentCfg, ok := r.cfg.Agent(agentID)
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s", agentID)
	}
	def, err := AgentDefinition(agentCfg)
	if err != nil {
		return nil, err
	}

	sessions, err := r.sessionsLocked(ctx)
	if err != nil {
		return nil, err
	}
	exec, err := r.ensureTools(ctx, def.Tools)
	if err != nil {
		return nil, err
	}

	logger := r.logger
	runner, err := agent.NewRunner(agent.Config{
		Agent:           def,
		Sessions:        sessions,
		ToolExecutor:    exec,
		CommandQueue:    r.queue,
		Hooks:           r.hooks,
		Logger:          &logger,
		Profiles:        aiProfiles(r.cfg.AI.Profiles),
		ProviderFactory: r.providerFactory,
		ToolTimeout:     time.Duration(r.cfg.Tools.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	r.runners[agentID] = runner
	r.logger.Info().Str("agent_id", agentID).Int("tools", len(exec.Definitions(def.Tools))).Msg("Agent runner ready")
	return runner, nil
}
