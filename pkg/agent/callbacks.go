package agent

import (
	"context"
	"fmt"
	"strings"
)

// CallbackContext describes the run a callback fires in.
type CallbackContext struct {
	AgentName string
	SessionID string
	UserID    string
	// State is the session state as seen by the run. Callbacks must treat
	// it as read-only.
	State map[string]any
}

// BeforeModelFunc may rewrite req in place. A non-nil response skips the
// model call.
type BeforeModelFunc func(ctx context.Context, cc *CallbackContext, req *LLMRequest) (*LLMResponse, error)

// AfterModelFunc may return a replacement response.
type AfterModelFunc func(ctx context.Context, cc *CallbackContext, resp *LLMResponse) (*LLMResponse, error)

// BeforeToolFunc may rewrite call.Parameters in place. A non-nil result
// skips the tool.
type BeforeToolFunc func(ctx context.Context, cc *CallbackContext, call *ToolCall) (map[string]any, error)

// AfterToolFunc may return a replacement result.
type AfterToolFunc func(ctx context.Context, cc *CallbackContext, call ToolCall, result map[string]any) (map[string]any, error)

// Callbacks are run in order; the first callback that short-circuits or
// replaces wins.
type Callbacks struct {
	BeforeModel []BeforeModelFunc
	AfterModel  []AfterModelFunc
	BeforeTool  []BeforeToolFunc
	AfterTool   []AfterToolFunc
}

// Merge appends other's callbacks after c's.
func (c Callbacks) Merge(other Callbacks) Callbacks {
	return Callbacks{
		BeforeModel: append(append([]BeforeModelFunc{}, c.BeforeModel...), other.BeforeModel...),
		AfterModel:  append(append([]AfterModelFunc{}, c.AfterModel...), other.AfterModel...),
		BeforeTool:  append(append([]BeforeToolFunc{}, c.BeforeTool...), other.BeforeTool...),
		AfterTool:   append(append([]AfterToolFunc{}, c.AfterTool...), other.AfterTool...),
	}
}

const (
	BlockedModelMessage = "LLM call was blocked by before_model_callback."
	BlockedToolMessage  = "Tool execution was blocked by before_tool_callback."
)

// BlockKeywordGuard answers without calling the model when the last user
// message contains keyword, ignoring case.
func BlockKeywordGuard(keyword string) Callbacks {
	keyword = strings.ToUpper(keyword)
	return Callbacks{BeforeModel: []BeforeModelFunc{
		func(_ context.Context, _ *CallbackContext, req *LLMRequest) (*LLMResponse, error) {
			if keyword == "" || !strings.Contains(strings.ToUpper(req.LastUserText()), keyword) {
				return nil, nil
			}
			return &LLMResponse{Content: BlockedModelMessage}, nil
		},
	}}
}

// ReplaceTextGuard replaces every occurrence of from with to in the model's
// text answer.
func ReplaceTextGuard(from, to string) Callbacks {
	return Callbacks{AfterModel: []AfterModelFunc{
		func(_ context.Context, _ *CallbackContext, resp *LLMResponse) (*LLMResponse, error) {
			if from == "" || !strings.Contains(resp.Content, from) {
				return nil, nil
			}
			out := *resp
			out.Content = strings.ReplaceAll(resp.Content, from, to)
			return &out, nil
		},
	}}
}

// RewriteArgGuard rewrites argument arg of tool from one value to another,
// matching case-insensitively.
func RewriteArgGuard(tool, arg, from, to string) Callbacks {
	return Callbacks{BeforeTool: []BeforeToolFunc{
		func(_ context.Context, _ *CallbackContext, call *ToolCall) (map[string]any, error) {
			if call.Name != tool {
				return nil, nil
			}
			if v, ok := call.Parameters[arg].(string); ok && strings.EqualFold(v, from) {
				params := make(map[string]any, len(call.Parameters))
				for k, v := range call.Parameters {
					params[k] = v
				}
				params[arg] = to
				call.Parameters = params
			}
			return nil, nil
		},
	}}
}

// BlockArgGuard skips tool when argument arg equals keyword, ignoring case.
func BlockArgGuard(tool, arg, keyword string) Callbacks {
	return Callbacks{BeforeTool: []BeforeToolFunc{
		func(_ context.Context, _ *CallbackContext, call *ToolCall) (map[string]any, error) {
			if v, ok := call.Parameters[arg].(string); ok && call.Name == tool && strings.EqualFold(v, keyword) {
				return map[string]any{"result": BlockedToolMessage}, nil
			}
			return nil, nil
		},
	}}
}

// AnnotateResultGuard appends note to the "result" of tool when it equals
// match.
func AnnotateResultGuard(tool, match, note string) Callbacks {
	return Callbacks{AfterTool: []AfterToolFunc{
		func(_ context.Context, _ *CallbackContext, call ToolCall, result map[string]any) (map[string]any, error) {
			if call.Name != tool || fmt.Sprint(result["result"]) != match {
				return nil, nil
			}
			out := make(map[string]any, len(result)+1)
			for k, v := range result {
				out[k] = v
			}
			out["result"] = match + " " + note
			out["note_added_by_callback"] = true
			return out, nil
		},
	}}
}

// Guardrail names accepted in agent definitions.
const (
	GuardBlockKeyword   = "block_keyword"
	GuardReplaceText    = "replace_text"
	GuardRewriteArg     = "rewrite_arg"
	GuardBlockArg       = "block_arg"
	GuardAnnotateResult = "annotate_result"
)

// GuardrailCallbacks builds the named guardrails with their demo settings.
func GuardrailCallbacks(names []string) (Callbacks, error) {
	var cb Callbacks
	for _, name := range names {
		switch name {
		case GuardBlockKeyword:
			cb = cb.Merge(BlockKeywordGuard("BLOCK"))
		case GuardReplaceText:
			cb = cb.Merge(ReplaceTextGuard("joke", "funny story"))
		case GuardRewriteArg:
			cb = cb.Merge(RewriteArgGuard(CapitalCityTool, "country", "Canada", "France"))
		case GuardBlockArg:
			cb = cb.Merge(BlockArgGuard(CapitalCityTool, "country", "BLOCK"))
		case GuardAnnotateResult:
			cb = cb.Merge(AnnotateResultGuard(CapitalCityTool, "Washington, D.C.", "(Note: This is the capital of the USA)."))
		default:
			return Callbacks{}, fmt.Errorf("unknown guardrail %q", name)
		}
	}
	return cb, nil
}
