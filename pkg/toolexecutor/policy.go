package toolexecutor

import (
	"path"

	"github.com/rs/zerolog/log"
)

// ToolPolicy defines which tools an agent can use. Entries are tool names or
// glob patterns ("manage_*", "*").
type ToolPolicy struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"` // overrides allow
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name || p == "*" {
			return true
		}
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// IsToolAllowed checks if a tool is allowed by the policy. A nil policy
// allows everything; a non-nil policy denies anything not explicitly allowed.
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}
	if matchAny(tp.Deny, toolName) {
		return false
	}
	return matchAny(tp.Allow, toolName)
}

// ValidatePolicy rejects malformed patterns and warns about policies that
// deny everything.
func ValidatePolicy(policy *ToolPolicy) error {
	if policy == nil {
		return nil
	}
	for _, list := range [][]string{policy.Allow, policy.Deny} {
		for _, p := range list {
			if _, err := path.Match(p, ""); err != nil {
				return &PolicyError{Pattern: p, Err: err}
			}
		}
	}

	if len(policy.Allow) == 0 {
		log.Warn().Msg("Policy has empty allow list - all tools will be denied by default")
	}
	for _, d := range policy.Deny {
		if d == "*" {
			log.Warn().Msg("Policy denies every tool")
			break
		}
	}
	return nil
}

// PolicyError reports an invalid policy pattern.
type PolicyError struct {
	Pattern string
	Err     error
}

func (e *PolicyError) Error() string {
	return "invalid tool pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PolicyError) Unwrap() error { return e.Err }

// FilterToolsByPolicy filters a list of tools based on a policy
func FilterToolsByPolicy(tools []string, policy *ToolPolicy) []string {
	if policy == nil {
		return tools
	}
	filtered := make([]string, 0, len(tools))
	for _, tool := range tools {
		if policy.IsToolAllowed(tool) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}
