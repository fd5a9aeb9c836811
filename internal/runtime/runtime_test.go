package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/harun/agentkit/internal/config"
	"github.com/harun/agentkit/pkg/agent"
	"github.com/harun/agentkit/pkg/artifact"
	"github.com/harun/agentkit/pkg/catalog"
	"github.com/harun/agentkit/pkg/expense"
	"github.com/harun/agentkit/pkg/search"
	"github.com/harun/agentkit/pkg/session"
	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	reply    string
	requests []agent.LLMRequest
}

func (p *stubProvider) Call(_ context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	p.requests = append(p.requests, req)
	return &agent.LLMResponse{Content: p.reply}, nil
}

func (p *stubProvider) Provider() string { return "stub" }

type stubFactory struct{ provider *stubProvider }

func (f stubFactory) NewProvider(agent.AIProfile) (agent.LLMProvider, error) {
	return f.provider, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.AI.Profiles = []config.AIProfile{{ID: "primary", Provider: "gemini", APIKey: "test", Priority: 1}}
	return cfg
}

func newTestRuntime(t *testing.T, cfg *config.Config, provider *stubProvider) *Runtime {
	t.Helper()
	opts := Options{Logger: zerolog.Nop()}
	if provider != nil {
		opts.ProviderFactory = stubFactory{provider: provider}
	}
	rt, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func toolNames(defs []toolexecutor.ToolDefinition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

func groupTools(t *testing.T, name string) []string {
	t.Helper()
	for _, g := range toolGroups {
		if g.name == name {
			names := append([]string(nil), g.tools...)
			sort.Strings(names)
			return names
		}
	}
	t.Fatalf("no tool group %q", name)
	return nil
}

func TestToolGroups_MatchPackageTools(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("state", func(t *testing.T) {
		assert.Equal(t, toolNames(agent.BuiltinTools()), groupTools(t, "state"))
	})

	t.Run("artifact", func(t *testing.T) {
		assert.Equal(t, toolNames(artifact.Tools(artifact.NewMemoryService(), "app")), groupTools(t, "artifact"))
	})

	t.Run("search", func(t *testing.T) {
		google, err := search.NewGoogleClient(ctx, search.GoogleConfig{APIKey: "k", CX: "cx"})
		require.NoError(t, err)
		vector, err := search.NewVectorClient(search.VectorConfig{URL: "http://localhost/api/query"})
		require.NoError(t, err)
		clients := search.Clients{Google: google, Vector: vector, DDG: search.NewDDGClient(search.DDGConfig{})}
		assert.Equal(t, toolNames(clients.Tools()), groupTools(t, "search"))
	})

	t.Run("catalog", func(t *testing.T) {
		store, err := catalog.OpenSQLite(filepath.Join(dir, "catalog.db"))
		require.NoError(t, err)
		defer store.Close()
		svc, err := catalog.New(catalog.Config{Store: store})
		require.NoError(t, err)
		assert.Equal(t, toolNames(svc.Tools()), groupTools(t, "catalog"))
	})

	t.Run("expense", func(t *testing.T) {
		store, err := expense.Open(filepath.Join(dir, "expenses.db"))
		require.NoError(t, err)
		defer store.Close()
		tracker, err := expense.NewTracker(expense.Config{Store: store})
		require.NoError(t, err)
		assert.Equal(t, toolNames(tracker.Tools()), groupTools(t, "expense"))
	})
}

func TestNew(t *testing.T) {
	t.Run("should require a config", func(t *testing.T) {
		_, err := New(nil, Options{})
		assert.EqualError(t, err, "config is required")
	})

	t.Run("should default hook timeouts", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Hooks = config.HooksConfig{
			Enabled: true,
			Entries: []config.HookConfig{{ID: " notify ", Event: "session:created", Script: "true", Enabled: true}},
		}
		rt := newTestRuntime(t, cfg, nil)
		assert.True(t, rt.Hooks().Has("session:created"))
	})
}

func TestRuntime_Sessions(t *testing.T) {
	ctx := context.Background()

	t.Run("should cache the memory manager", func(t *testing.T) {
		rt := newTestRuntime(t, testConfig(t), nil)
		first, err := rt.Sessions(ctx)
		require.NoError(t, err)
		second, err := rt.Sessions(ctx)
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, "memory", first.Backend())
	})

	t.Run("should open sqlite under the data dir", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Session.Backend = "sqlite"
		rt := newTestRuntime(t, cfg, nil)

		mgr, err := rt.Sessions(ctx)
		require.NoError(t, err)
		assert.Equal(t, "sqlite", mgr.Backend())
		assert.FileExists(t, filepath.Join(cfg.DataDir, "sessions.db"))
	})

	t.Run("should reject unknown backends", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Session.Backend = "etcd"
		rt := newTestRuntime(t, cfg, nil)
		_, err := rt.Sessions(ctx)
		assert.EqualError(t, err, "unsupported session backend: etcd")
	})
}

func TestRuntime_Runner(t *testing.T) {
	ctx := context.Background()

	t.Run("should register only the tool groups the agent needs", func(t *testing.T) {
		provider := &stubProvider{reply: "noted"}
		rt := newTestRuntime(t, testConfig(t), provider)

		runner, err := rt.Runner(ctx, "redis_agent")
		require.NoError(t, err)

		again, err := rt.Runner(ctx, "redis_agent")
		require.NoError(t, err)
		assert.Same(t, runner, again)

		exec, err := rt.Executor(ctx, nil)
		require.NoError(t, err)
		assert.NotNil(t, exec.GetTool("set_state"))
		assert.Nil(t, exec.GetTool("manage_products"))
		assert.Nil(t, exec.GetTool("save_artifact"))

		result, err := runner.Run(ctx, agent.RunRequest{
			AppName:   "app",
			UserID:    "u1",
			SessionID: "s1",
			Message:   session.NewTextContent("user", "remember blue"),
		})
		require.NoError(t, err)
		assert.Equal(t, "noted", result.Response)

		require.Len(t, provider.requests, 1)
		assert.ElementsMatch(t, []string{"get_state", "set_state"}, toolNames(provider.requests[0].Tools))
	})

	t.Run("should open the catalog for market tools", func(t *testing.T) {
		cfg := testConfig(t)
		rt := newTestRuntime(t, cfg, &stubProvider{})

		_, err := rt.Runner(ctx, "market_agent")
		require.NoError(t, err)

		exec, err := rt.Executor(ctx, nil)
		require.NoError(t, err)
		assert.NotNil(t, exec.GetTool("manage_products"))
		assert.NotNil(t, exec.GetTool("get_sales_growth"))
		assert.FileExists(t, filepath.Join(cfg.DataDir, "catalog.db"))
	})

	t.Run("should reject unknown agents", func(t *testing.T) {
		rt := newTestRuntime(t, testConfig(t), &stubProvider{})
		_, err := rt.Runner(ctx, "nobody")
		assert.EqualError(t, err, "unknown agent: nobody")
	})

	t.Run("should map guardrails", func(t *testing.T) {
		def, err := AgentDefinition(config.AgentConfig{
			ID:         "g",
			Guardrails: []string{"block_keyword"},
		})
		require.NoError(t, err)
		assert.Len(t, def.Callbacks.BeforeModel, 1)
		assert.Nil(t, def.Tools)

		_, err = AgentDefinition(config.AgentConfig{ID: "g", Guardrails: []string{"nope"}})
		assert.Error(t, err)
	})
}

func TestRuntime_Close(t *testing.T) {
	t.Run("should close in reverse order and join errors", func(t *testing.T) {
		rt, err := New(testConfig(t), Options{Logger: zerolog.Nop()})
		require.NoError(t, err)

		var order []string
		rt.addCloser("first", func() error { order = append(order, "first"); return nil })
		rt.addCloser("second", func() error { order = append(order, "second"); return errors.New("boom") })
		rt.addCloser("third", func() error { order = append(order, "third"); return nil })

		err = rt.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "second: boom")
		assert.Equal(t, []string{"third", "second", "first"}, order)

		assert.NoError(t, rt.Close())
	})

	t.Run("should refuse use after close", func(t *testing.T) {
		rt, err := New(testConfig(t), Options{Logger: zerolog.Nop()})
		require.NoError(t, err)
		require.NoError(t, rt.Close())

		_, err = rt.Sessions(context.Background())
		assert.EqualError(t, err, "runtime is closed")
	})
}
