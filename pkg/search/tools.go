package search

import (
	"context"
	"errors"

	"github.com/harun/agentkit/pkg/catalog"
	"github.com/harun/agentkit/pkg/toolexecutor"
)

// Clients groups the configured search clients. Nil clients contribute no
// tools.
type Clients struct {
	Google *GoogleClient
	Vector *VectorClient
	DDG    *DDGClient
}

// Tools returns the tool definitions for every configured client.
func (c Clients) Tools() []toolexecutor.ToolDefinition {
	var defs []toolexecutor.ToolDefinition
	if c.Google != nil {
		defs = append(defs, toolexecutor.ToolDefinition{
			Name:        "google_search",
			Description: "Search recent market intelligence and industry reports with Google. Returns the top snippets.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "query", Type: "string", Description: "Search query, e.g. \"cloud security market growth 2026\"", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.Google.Search(ctx, catalog.Args(params).String("query"))
			},
		})
	}
	if c.Vector != nil {
		defs = append(defs, toolexecutor.ToolDefinition{
			Name:        "find_shopping_items",
			Description: "Retrieve shopping items from the product catalog for a list of queries.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "queries", Type: "array", Items: "string", Description: "Search queries", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				raw, _ := params["queries"].([]any)
				queries := make([]string, 0, len(raw))
				for _, q := range raw {
					if s, ok := q.(string); ok && s != "" {
						queries = append(queries, s)
					}
				}
				if len(queries) == 0 {
					return nil, errors.New("at least one query is required")
				}
				return c.Vector.FindShoppingItems(ctx, queries)
			},
		})
	}
	if c.DDG != nil {
		defs = append(defs, toolexecutor.ToolDefinition{
			Name:        "search",
			Description: "Search the web with DuckDuckGo for external market trends, reports and forecasts.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "query", Type: "string", Description: "Search query", Required: true},
				{Name: "max_results", Type: "integer", Description: "Maximum snippets to return", Default: DefaultDDGMaxResults},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				a := catalog.Args(params)
				return c.DDG.Search(ctx, a.String("query"), a.Int("max_results", DefaultDDGMaxResults)), nil
			},
		})
	}
	return defs
}

// RegisterTools registers every configured search tool on executor.
func (c Clients) RegisterTools(executor *toolexecutor.ToolExecutor) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	return executor.RegisterTools(c.Tools()...)
}
