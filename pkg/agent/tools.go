package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/agentkit/pkg/toolexecutor"
)

// CapitalCityTool is the tool the guardrail demos act on.
const CapitalCityTool = "get_capital_city"

var capitals = map[string]string{
	"united states": "Washington, D.C.",
	"canada":        "Ottawa",
	"france":        "Paris",
	"germany":       "Berlin",
}

// runState is the session state a tool call sees. Writes are collected as a
// delta and applied with the function response event.
type runState struct {
	mu    sync.Mutex
	base  map[string]any
	delta map[string]any
}

type runStateKey struct{}

func withRunState(ctx context.Context, rs *runState) context.Context {
	return context.WithValue(ctx, runStateKey{}, rs)
}

func runStateFrom(ctx context.Context) *runState {
	rs, _ := ctx.Value(runStateKey{}).(*runState)
	return rs
}

func (rs *runState) get(key string) (any, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if v, ok := rs.delta[key]; ok {
		return v, true
	}
	v, ok := rs.base[key]
	return v, ok
}

func (rs *runState) set(key string, value any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.delta == nil {
		rs.delta = map[string]any{}
	}
	rs.delta[key] = value
}

// take returns and clears the collected delta.
func (rs *runState) take() map[string]any {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	d := rs.delta
	rs.delta = nil
	return d
}

var errNoRunState = errors.New("session state is only available inside an agent run")

// BuiltinTools returns the tools every runtime registers: session state
// access and the capital city lookup used by the guardrail demos.
func BuiltinTools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "get_state",
			Description: "Read a value from the session state.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "key", Type: "string", Description: "State key", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				rs := runStateFrom(ctx)
				if rs == nil {
					return nil, errNoRunState
				}
				key, _ := params["key"].(string)
				v, ok := rs.get(key)
				return map[string]any{"key": key, "value": v, "found": ok}, nil
			},
		},
		{
			Name:        "set_state",
			Description: "Store a value in the session state. Keys prefixed with 'user:' or 'app:' are shared; 'temp:' keys last for this turn only.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "key", Type: "string", Description: "State key", Required: true},
				{Name: "value", Type: "string", Description: "Value to store", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				rs := runStateFrom(ctx)
				if rs == nil {
					return nil, errNoRunState
				}
				key, _ := params["key"].(string)
				if strings.TrimSpace(key) == "" {
					return nil, fmt.Errorf("key is required")
				}
				rs.set(key, params["value"])
				return map[string]any{"status": "success", "key": key}, nil
			},
		},
		{
			Name:        CapitalCityTool,
			Description: "Retrieves the capital city of a given country.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "country", Type: "string", Description: "Country name", Required: true},
			},
			Handler: func(_ context.Context, params map[string]any) (any, error) {
				country, _ := params["country"].(string)
				if capital, ok := capitals[strings.ToLower(country)]; ok {
					return map[string]any{"result": capital}, nil
				}
				return map[string]any{"result": "Capital not found for " + country}, nil
			},
		},
	}
}
