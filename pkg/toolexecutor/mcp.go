package toolexecutor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MCPProtocolVersion is the protocol revision negotiated on initialize.
const MCPProtocolVersion = "2024-11-05"

// ErrMCPStopped is returned for calls pending when the server exits.
var ErrMCPStopped = errors.New("MCP server stopped")

// MCP JSON-RPC messages
type mcpRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      any    `json:"id,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
	ID      any             `json:"id"`
}

type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// mcpContent is one block of a tools/call result.
type mcpContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type mcpCallResult struct {
	Content []mcpContent `json:"content"`
	IsError bool         `json:"isError"`
}

// MCPServerAdapter is a client for a Model Context Protocol server running
// as a child process speaking newline-delimited JSON-RPC on stdio.
type MCPServerAdapter struct {
	serverID string
	command  string
	args     []string
	env      []string
	timeout  time.Duration

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	id      int
	pending map[int]chan *mcpResponse
	done    chan struct{}
}

// NewMCPServerAdapter creates a new adapter for an MCP server
func NewMCPServerAdapter(serverID, command string, args []string) *MCPServerAdapter {
	return &MCPServerAdapter{
		serverID: serverID,
		command:  command,
		args:     args,
		timeout:  10 * time.Second,
		pending:  make(map[int]chan *mcpResponse),
	}
}

// WithEnv adds environment variables (KEY=VALUE) for the child process.
func (a *MCPServerAdapter) WithEnv(env ...string) *MCPServerAdapter {
	a.env = append(a.env, env...)
	return a
}

// WithTimeout sets the per-request timeout.
func (a *MCPServerAdapter) WithTimeout(d time.Duration) *MCPServerAdapter {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// ID returns the server ID.
func (a *MCPServerAdapter) ID() string { return a.serverID }

// Start launches the server process and performs the initialize handshake.
// It is a no-op when the process is already running.
func (a *MCPServerAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.process != nil {
		a.mu.Unlock()
		return nil
	}

	// The child outlives the ctx of the first call.
	cmd := exec.Command(a.command, a.args...)
	cmd.Env = append(os.Environ(), a.env...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		a.mu.Unlock()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if err := cmd.Start(); err != nil {
		a.mu.Unlock()
		return err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	a.process = cmd
	a.stdin = stdin
	a.stdout = scanner
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.listen()

	log.Info().Str("server", a.serverID).Str("command", a.command).Msg("MCP server started")
	if err := a.initialize(ctx); err != nil {
		_ = a.Stop()
		return fmt.Errorf("failed to initialize MCP server %s: %w", a.serverID, err)
	}
	return nil
}

func (a *MCPServerAdapter) listen() {
	defer func() {
		a.mu.Lock()
		for id, ch := range a.pending {
			close(ch)
			delete(a.pending, id)
		}
		close(a.done)
		a.mu.Unlock()
	}()

	for a.stdout.Scan() {
		var resp mcpResponse
		if err := json.Unmarshal(a.stdout.Bytes(), &resp); err != nil {
			log.Error().Err(err).Str("server", a.serverID).Msg("Failed to unmarshal MCP response")
			continue
		}

		if id, ok := resp.ID.(float64); ok {
			a.mu.Lock()
			ch, exists := a.pending[int(id)]
			if exists {
				delete(a.pending, int(id))
				ch <- &resp
			}
			a.mu.Unlock()
		}
	}
}

func (a *MCPServerAdapter) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": MCPProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "agentkit",
			"version": "0.1.0",
		},
	}
	if _, err := a.call(ctx, "initialize", params); err != nil {
		return err
	}
	return a.notify("notifications/initialized")
}

func (a *MCPServerAdapter) write(msg mcpRequest) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	stdin := a.stdin
	a.mu.Unlock()
	if stdin == nil {
		return ErrMCPStopped
	}
	_, err = stdin.Write(append(data, '\n'))
	return err
}

func (a *MCPServerAdapter) notify(method string) error {
	return a.write(mcpRequest{JSONRPC: "2.0", Method: method})
}

func (a *MCPServerAdapter) call(ctx context.Context, method string, params any) (*mcpResponse, error) {
	a.mu.Lock()
	a.id++
	id := a.id
	ch := make(chan *mcpResponse, 1)
	a.pending[id] = ch
	a.mu.Unlock()

	if err := a.write(mcpRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}); err != nil {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrMCPStopped
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("MCP request timeout")
	}
}

// ExecuteTool calls a tool on the MCP server. A single text block holding
// JSON is decoded; other text is returned as a string. Results flagged
// isError become errors.
func (a *MCPServerAdapter) ExecuteTool(ctx context.Context, name string, params map[string]any) (any, error) {
	if err := a.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP server: %w", err)
	}

	resp, err := a.call(ctx, "tools/call", map[string]any{"name": name, "arguments": params})
	if err != nil {
		return nil, err
	}

	var result mcpCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tool result: %w", err)
	}

	texts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	text := strings.Join(texts, "\n")
	if result.IsError {
		return nil, fmt.Errorf("%s", text)
	}

	var decoded any
	if len(texts) == 1 && json.Unmarshal([]byte(text), &decoded) == nil {
		return decoded, nil
	}
	return text, nil
}

// MCPResource describes a resource exposed by an MCP server.
type MCPResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// MCPResourceContent is one entry of a resources/read result.
type MCPResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ListResources fetches resource listings from the MCP server.
func (a *MCPServerAdapter) ListResources(ctx context.Context) ([]MCPResource, error) {
	if err := a.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP server: %w", err)
	}

	resp, err := a.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Resources []MCPResource `json:"resources"`
	}
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}
	return listResult.Resources, nil
}

// ReadResource reads a specific resource from the MCP server.
func (a *MCPServerAdapter) ReadResource(ctx context.Context, uri string) ([]MCPResourceContent, error) {
	if err := a.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP server: %w", err)
	}

	resp, err := a.call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}

	var result struct {
		Contents []MCPResourceContent `json:"contents"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}
	return result.Contents, nil
}

// GetTools fetches the tool definitions from the MCP server. Handlers are
// left nil; RegisterMCPServer binds them.
func (a *MCPServerAdapter) GetTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := a.Start(ctx); err != nil {
		return nil, err
	}

	resp, err := a.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}

	defs := make([]ToolDefinition, 0, len(listResult.Tools))
	for _, t := range listResult.Tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  parseMCPToolParameters(t.InputSchema),
			Source:      a.serverID,
		})
	}
	return defs, nil
}

// Stop closes the server's stdin and waits briefly for it to exit before
// killing it.
func (a *MCPServerAdapter) Stop() error {
	a.mu.Lock()
	cmd, stdin, done := a.process, a.stdin, a.done
	a.process, a.stdin = nil, nil
	a.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	}
	_ = cmd.Wait()
	log.Info().Str("server", a.serverID).Msg("MCP server stopped")
	return nil
}

func parseMCPToolParameters(schema json.RawMessage) []ToolParameter {
	if len(schema) == 0 {
		return nil
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil
	}

	properties, ok := schemaMap["properties"].(map[string]any)
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schemaMap["required"].([]any); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	params := make([]ToolParameter, 0, len(properties))
	for name, propData := range properties {
		prop, ok := propData.(map[string]any)
		if !ok {
			continue
		}
		param := ToolParameter{Name: name, Required: required[name], Type: "string"}
		if typeVal, ok := prop["type"].(string); ok {
			param.Type = typeVal
		}
		if desc, ok := prop["description"].(string); ok {
			param.Description = desc
		}
		if defVal, ok := prop["default"]; ok {
			param.Default = defVal
		}
		if items, ok := prop["items"].(map[string]any); ok {
			param.Items, _ = items["type"].(string)
		}
		params = append(params, param)
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}
