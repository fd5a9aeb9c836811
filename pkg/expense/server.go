package expense

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// ServerName is reported in the initialize handshake.
const ServerName = "ExpenseTracker"

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602

	maxResultBytes = 4 * 1024 * 1024
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Server speaks newline-delimited JSON-RPC 2.0 (MCP) on a pair of streams.
type Server struct {
	tracker  *Tracker
	executor *toolexecutor.ToolExecutor
	version  string
	logger   zerolog.Logger

	writeMu sync.Mutex
}

// NewServer builds an MCP server over tracker's tools.
func NewServer(tracker *Tracker, version string, logger zerolog.Logger) (*Server, error) {
	if tracker == nil {
		return nil, fmt.Errorf("expense tracker is required")
	}
	executor := toolexecutor.NewWithConfig(toolexecutor.Config{MaxOutputBytes: maxResultBytes})
	if err := tracker.RegisterTools(executor); err != nil {
		return nil, err
	}
	return &Server{
		tracker:  tracker,
		executor: executor,
		version:  version,
		logger:   logger.With().Str("component", "expense_mcp").Logger(),
	}, nil
}

// Serve reads requests from r until EOF or ctx is done. Requests are
// handled in order; notifications get no reply.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(w)

	s.logger.Info().Msg("Expense MCP server started")
	defer s.logger.Info().Msg("Expense MCP server stopped")

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			if resp := s.handle(ctx, line); resp != nil {
				s.write(encoder, resp)
			}
		}
	}
}

func (s *Server) write(encoder *json.Encoder, resp *rpcResponse) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := encoder.Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write MCP response")
	}
}

func (s *Server) handle(ctx context.Context, line []byte) *rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return &rpcResponse{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: &rpcError{Code: codeParseError, Message: "parse error"}}
	}
	notification := len(req.ID) == 0

	result, rpcErr := s.dispatch(ctx, &req)
	if notification {
		return nil
	}
	return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
}

func (s *Server) dispatch(ctx context.Context, req *rpcRequest) (any, *rpcError) {
	s.logger.Debug().Str("method", req.Method).Msg("MCP request")

	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": toolexecutor.MCPProtocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{"name": ServerName, "version": s.version},
		}, nil

	case "notifications/initialized", "initialized":
		return nil, nil

	case "ping":
		return map[string]any{}, nil

	case "tools/list":
		defs := s.executor.Definitions(nil)
		tools := make([]map[string]any, 0, len(defs))
		for _, def := range defs {
			tools = append(tools, map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"inputSchema": toolexecutor.ParametersSchema(def),
			})
		}
		return map[string]any{"tools": tools}, nil

	case "tools/call":
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "tool name is required"}
		}
		if s.executor.GetTool(params.Name) == nil {
			return nil, &rpcError{Code: codeMethodNotFound, Message: "tool not found: " + params.Name}
		}
		return s.callTool(ctx, params.Name, params.Arguments), nil

	case "resources/list":
		return map[string]any{
			"resources": []map[string]any{{
				"uri":         CategoriesURI,
				"name":        "categories",
				"description": "Expense categories and subcategories",
				"mimeType":    "application/json",
			}},
		}, nil

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: "uri is required"}
		}
		if params.URI != CategoriesURI {
			return nil, &rpcError{Code: codeInvalidParams, Message: "unknown resource: " + params.URI}
		}
		text, _ := json.Marshal(s.tracker.CategoriesResource())
		return map[string]any{
			"contents": []map[string]any{{
				"uri":      CategoriesURI,
				"mimeType": "application/json",
				"text":     string(text),
			}},
		}, nil

	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

// callTool runs a tool and wraps its result as an MCP text block. Failures
// from the executor itself (schema validation, timeouts) are reported in the
// same {status, tool, error} shape the tools use.
func (s *Server) callTool(ctx context.Context, name string, args map[string]any) map[string]any {
	res := s.executor.Execute(ctx, name, args, nil)

	var payload any = res.Output
	isError := !res.Success
	if res.Success {
		if m, ok := res.Output.(map[string]any); ok && m["status"] == "error" {
			isError = true
		}
	} else {
		payload = map[string]any{"status": "error", "tool": name, "error": res.Error}
	}

	text, err := json.Marshal(payload)
	if err != nil {
		text = []byte(fmt.Sprintf(`{"status":"error","tool":%q,"error":%q}`, name, err.Error()))
		isError = true
	}
	return map[string]any{
		"content": []textBlock{{Type: "text", Text: string(text)}},
		"isError": isError,
	}
}
