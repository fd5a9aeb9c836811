package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultModel = "gemini-2.0-flash"

// DefaultAgents returns the built-in agent definitions.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			ID:          "market_agent",
			Name:        "Market Analyst",
			Description: "Answers questions about products, sales and market growth.",
			Model:       defaultModel,
			Instruction: "You are a market analyst for a Cloud Security vendor. " +
				"Use manage_products, manage_sales and manage_market_growth to read and change data. " +
				"Use get_sales_growth to compare internal revenue growth with market benchmarks " +
				"and google_search for recent public growth figures. Always quote the numbers you used.",
			Tools: ToolPolicyConfig{Allow: []string{
				"manage_products", "manage_sales", "manage_market_growth",
				"get_sales_growth", "get_category_performance", "google_search",
			}},
		},
		{
			ID:          "shopping_agent",
			Name:        "Shopping Assistant",
			Description: "Finds products in the e-commerce catalog.",
			Model:       defaultModel,
			Instruction: "You help users find products. Turn the request into a few short search " +
				"queries and call find_shopping_items once with all of them. Summarize the best matches.",
			Tools: ToolPolicyConfig{Allow: []string{"find_shopping_items"}},
		},
		{
			ID:          "expense_agent",
			Name:        "Expense Tracker",
			Description: "Records and summarizes personal expenses.",
			Model:       defaultModel,
			Instruction: "You track expenses. Dates are YYYY-MM-DD and amounts must be positive. " +
				"Confirm every change you make and show totals when asked for a summary.",
			Tools: ToolPolicyConfig{Allow: []string{
				"expense_tool", "add_expense", "edit_expense", "delete_expense",
				"list_expenses", "summarize_expenses",
			}},
		},
		{
			ID:          "redis_agent",
			Name:        "Stateful Assistant",
			Description: "Remembers facts across turns using session state.",
			Model:       defaultModel,
			Instruction: "Use set_state to remember facts the user tells you and get_state to recall them.",
			Tools:       ToolPolicyConfig{Allow: []string{"get_state", "set_state"}},
			OutputKey:   "last_response",
		},
		{
			ID:          "search_agent",
			Name:        "Web Search",
			Description: "Answers questions with a web search.",
			Model:       defaultModel,
			Instruction: "Answer with the help of the search tool. Cite what you found.",
			Tools:       ToolPolicyConfig{Allow: []string{"search"}},
		},
		{
			ID:          "guarded_agent",
			Name:        "Guarded Assistant",
			Description: "Demonstrates model and tool callbacks.",
			Model:       defaultModel,
			Instruction: "You are a helpful assistant.",
			Guardrails:  []string{"block_keyword", "replace_text"},
		},
		{
			ID:          "capital_agent",
			Name:        "Capital Cities",
			Description: "Demonstrates tool callbacks on the capital city lookup.",
			Model:       defaultModel,
			Instruction: "Answer questions about capital cities with get_capital_city.",
			Tools:       ToolPolicyConfig{Allow: []string{"get_capital_city"}},
			Guardrails:  []string{"rewrite_arg", "block_arg", "annotate_result"},
		},
		{
			ID:          "live_agent",
			Name:        "Live Assistant",
			Description: "Agent behind the websocket relay.",
			Model:       defaultModel,
			Instruction: "You are a concise assistant answering over a live connection. " +
				"Describe images you are shown when asked.",
			Tools: ToolPolicyConfig{Allow: []string{"google_search", "save_artifact", "load_artifact"}},
		},
	}
}

type agentsFile struct {
	Agents []AgentConfig `yaml:"agents"`
}

// LoadAgentsFile reads agent definitions from a YAML file. Relative
// instruction_file paths are resolved against the file's directory and the
// instruction text is inlined.
func LoadAgentsFile(path string) ([]AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}

	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %w", err)
	}

	base := filepath.Dir(path)
	for i := range file.Agents {
		agent := &file.Agents[i]
		if agent.InstructionFile == "" {
			continue
		}
		p := agent.InstructionFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		text, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("agent %s: failed to read instruction file: %w", agent.ID, err)
		}
		agent.Instruction = string(text)
	}
	return file.Agents, nil
}

// MergeAgents overlays extra on top of base, replacing agents by ID.
func MergeAgents(base, extra []AgentConfig) []AgentConfig {
	out := make([]AgentConfig, 0, len(base)+len(extra))
	index := make(map[string]int, len(base))
	for _, a := range base {
		index[a.ID] = len(out)
		out = append(out, a)
	}
	for _, a := range extra {
		if i, ok := index[a.ID]; ok {
			out[i] = a
			continue
		}
		index[a.ID] = len(out)
		out = append(out, a)
	}
	return out
}
