package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 10 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	// Items is the element type of an array parameter.
	Items string `json:"items,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	// Source names where the tool came from ("builtin" or an MCP server ID).
	Source string `json:"source,omitempty"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]any) (any, error)

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	SessionID  string
	AgentID    string
	Timeout    time.Duration
	ToolPolicy *ToolPolicy
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool           `json:"success"`
	Output    any            `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Config configures a ToolExecutor. Zero values select the defaults.
type Config struct {
	Timeout        time.Duration
	MaxOutputBytes int
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools     map[string]*ToolDefinition
	schemas   map[string]*gojsonschema.Schema
	timeout   time.Duration
	maxOutput int
	mu        sync.RWMutex
}

// New creates a ToolExecutor with the default limits.
func New() *ToolExecutor {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a ToolExecutor with custom limits.
func NewWithConfig(cfg Config) *ToolExecutor {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}

	log.Debug().Dur("timeout", cfg.Timeout).Int("max_output", cfg.MaxOutputBytes).Msg("Tool executor initialized")
	return &ToolExecutor{
		tools:     make(map[string]*ToolDefinition),
		schemas:   make(map[string]*gojsonschema.Schema),
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutputBytes,
	}
}

// RegisterTool registers a new tool, replacing any tool with the same name.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(ParametersSchema(def)))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}
	if def.Source == "" {
		def.Source = "builtin"
	}

	te.mu.Lock()
	defer te.mu.Unlock()
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Str("source", def.Source).Msg("Tool registered")
	return nil
}

// RegisterTools registers each definition, stopping at the first error.
func (te *ToolExecutor) RegisterTools(defs ...ToolDefinition) error {
	for _, def := range defs {
		if err := te.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()
	delete(te.tools, name)
	delete(te.schemas, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return te.tools[name]
}

// ListTools returns all registered tool names, sorted.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools
}

// Definitions returns the definitions allowed by policy, sorted by name.
func (te *ToolExecutor) Definitions(policy *ToolPolicy) []ToolDefinition {
	names := FilterToolsByPolicy(te.ListTools(), policy)

	te.mu.RLock()
	defer te.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		if def, ok := te.tools[name]; ok {
			defs = append(defs, *def)
		}
	}
	return defs
}

// Execute runs a tool. Failures of any kind are reported in the result,
// never as a panic or a Go error.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]any, execCtx *ExecutionContext) (result ToolResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	if params == nil {
		params = map[string]any{}
	}
	startTime := time.Now()

	ctx, span := tracing.StartSpan(ctx, "agentkit.toolexecutor", "tool.execute",
		attribute.String("tool", toolName),
	)
	defer func() {
		duration := time.Since(startTime)
		if result.Metadata == nil {
			result.Metadata = map[string]any{}
		}
		result.Metadata["duration"] = duration.Milliseconds()
		if !result.Success {
			tracing.Fail(span, fmt.Errorf("%s", result.Error))
		}
		observability.RecordToolExecution(toolName, duration, result.Success)
		span.End()
	}()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("tool", toolName).Logger()

	if execCtx != nil && execCtx.ToolPolicy != nil && !execCtx.ToolPolicy.IsToolAllowed(toolName) {
		logger.Warn().Str("agent_id", execCtx.AgentID).Msg("Tool execution blocked by policy")
		return ToolResult{
			Error: fmt.Sprintf("tool '%s' is not allowed by agent policy", toolName),
			Metadata: map[string]any{
				"policy_violation": true,
				"agent_id":         execCtx.AgentID,
			},
		}
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		logger.Error().Msg("Tool not found")
		return ToolResult{Error: fmt.Sprintf("tool not found: %s", toolName)}
	}

	if err := validateParameters(schema, params); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		return ToolResult{Error: fmt.Sprintf("parameter validation failed: %v", err)}
	}

	timeout := te.timeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(WithExecution(ctx, execCtx), timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := tool.Handler(timeoutCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			logger.Error().Err(out.err).Msg("Tool execution failed")
			return ToolResult{Error: out.err.Error()}
		}
		output, truncated := te.truncateOutput(out.value)
		logger.Debug().Bool("truncated", truncated).Msg("Tool execution completed")
		return ToolResult{Success: true, Output: output, Truncated: truncated}

	case <-timeoutCtx.Done():
		logger.Error().Dur("timeout", timeout).Msg("Tool execution timeout")
		if ctx.Err() != nil {
			return ToolResult{Error: fmt.Sprintf("tool execution cancelled: %v", ctx.Err())}
		}
		return ToolResult{Error: fmt.Sprintf("tool execution timeout after %v", timeout)}
	}
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Items != "" && !validTypes[param.Items] {
			return fmt.Errorf("invalid items type %s for %s", param.Items, param.Name)
		}
	}
	return nil
}

// ParametersSchema returns the JSON Schema object describing def's
// parameters. Providers send it to the model as the function declaration.
func ParametersSchema(def ToolDefinition) map[string]any {
	properties := make(map[string]any, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		p := map[string]any{"type": param.Type}
		if param.Description != "" {
			p["description"] = param.Description
		}
		if param.Default != nil {
			p["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			p["enum"] = param.Enum
		}
		if param.Type == "array" {
			items := param.Items
			if items == "" {
				items = "string"
			}
			p["items"] = map[string]any{"type": items}
		}
		properties[param.Name] = p
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateParameters(schema *gojsonschema.Schema, params map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}
	return nil
}

// truncateOutput caps the serialized size of output. Strings are cut
// directly; other values are measured as JSON and replaced by their
// truncated JSON text when too large.
func (te *ToolExecutor) truncateOutput(output any) (any, bool) {
	var str string
	switch v := output.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			str = fmt.Sprintf("%v", v)
		} else {
			str = string(b)
		}
	}

	if len(str) <= te.maxOutput {
		return output, false
	}

	log.Warn().Int("original", len(str)).Int("truncated", te.maxOutput).Msg("Output truncated")
	return str[:te.maxOutput] + "\n... [output truncated]", true
}
