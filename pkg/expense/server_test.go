package expense

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcReply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func serve(t *testing.T, tracker *Tracker, requests ...string) []rpcReply {
	t.Helper()
	srv, err := NewServer(tracker, "test", zerolog.Nop())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, srv.Serve(context.Background(), strings.NewReader(strings.Join(requests, "\n")+"\n"), &out))

	var replies []rpcReply
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var r rpcReply
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		replies = append(replies, r)
	}
	return replies
}

func decodeToolText(t *testing.T, result json.RawMessage) (map[string]any, bool) {
	t.Helper()
	var call struct {
		Content []textBlock `json:"content"`
		IsError bool        `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(result, &call))
	require.Len(t, call.Content, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(call.Content[0].Text), &payload))
	return payload, call.IsError
}

func TestServer_Handshake(t *testing.T) {
	replies := serve(t, newTestTracker(t, nil),
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`not json`,
		`{"jsonrpc":"2.0","id":3,"method":"bogus"}`,
	)
	require.Len(t, replies, 4, "notifications get no reply")

	var init struct {
		ProtocolVersion string         `json:"protocolVersion"`
		ServerInfo      map[string]any `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(replies[0].Result, &init))
	assert.Equal(t, toolexecutor.MCPProtocolVersion, init.ProtocolVersion)
	assert.Equal(t, ServerName, init.ServerInfo["name"])

	var list struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(replies[1].Result, &list))
	require.Len(t, list.Tools, 6)
	assert.Equal(t, "add_expense", list.Tools[0].Name)
	assert.ElementsMatch(t, []any{"date", "amount", "category"}, list.Tools[0].InputSchema["required"])

	assert.Equal(t, -32700, replies[2].Error.Code)
	assert.Equal(t, "null", string(replies[2].ID))
	assert.Equal(t, -32601, replies[3].Error.Code)
}

func TestServer_ToolCalls(t *testing.T) {
	replies := serve(t, newTestTracker(t, nil),
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"add_expense","arguments":{"date":"2026-03-01","amount":20,"category":"Food"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"add_expense","arguments":{"date":"2026-03-01","amount":-5,"category":"Food"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"delete_expense","arguments":{"expense_id":99}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"summarize_expenses","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
	)
	require.Len(t, replies, 5)

	payload, isErr := decodeToolText(t, replies[0].Result)
	assert.False(t, isErr)
	assert.Equal(t, "success", payload["status"])
	assert.Equal(t, "add_expense", payload["tool"])

	payload, isErr = decodeToolText(t, replies[1].Result)
	assert.True(t, isErr)
	assert.Equal(t, "Amount must be greater than zero", payload["error"])

	payload, isErr = decodeToolText(t, replies[2].Result)
	assert.True(t, isErr)
	assert.Equal(t, "Expense ID not found", payload["error"])

	payload, _ = decodeToolText(t, replies[3].Result)
	assert.Equal(t, 20.0, payload["response"].(map[string]any)["grand_total"])

	require.NotNil(t, replies[4].Error)
	assert.Equal(t, -32601, replies[4].Error.Code)
}

func TestServer_Resources(t *testing.T) {
	path := t.TempDir() + "/categories.json"
	tracker := newTestTracker(t, NewCategories(path, zerolog.Nop()))

	replies := serve(t, tracker,
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"expense://categories"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"expense://other"}}`,
	)
	require.Len(t, replies, 3)
	assert.Contains(t, string(replies[0].Result), CategoriesURI)

	var read struct {
		Contents []struct {
			MIMEType string `json:"mimeType"`
			Text     string `json:"text"`
		} `json:"contents"`
	}
	require.NoError(t, json.Unmarshal(replies[1].Result, &read))
	require.Len(t, read.Contents, 1)
	assert.Equal(t, "application/json", read.Contents[0].MIMEType)
	assert.JSONEq(t, `{"status":"error","tool":"categories","error":"categories.json not found"}`, read.Contents[0].Text)

	assert.Equal(t, -32602, replies[2].Error.Code)
}

func TestExpenseMCPHelper(t *testing.T) {
	if os.Getenv("EXPENSE_MCP_HELPER") != "1" {
		t.Skip("helper process")
	}
	store, err := Open(os.Getenv("EXPENSE_MCP_DB"))
	require.NoError(t, err)
	tracker, err := NewTracker(Config{Store: store})
	require.NoError(t, err)
	srv, err := NewServer(tracker, "test", zerolog.Nop())
	require.NoError(t, err)
	_ = srv.Serve(context.Background(), os.Stdin, os.Stdout)
}

func TestServer_WithMCPClient(t *testing.T) {
	ctx := context.Background()
	adapter := toolexecutor.NewMCPServerAdapter("expense", os.Args[0], []string{"-test.run", "TestExpenseMCPHelper"}).
		WithEnv("EXPENSE_MCP_HELPER=1", "EXPENSE_MCP_DB="+filepath.Join(t.TempDir(), "expenses.db"))
	defer adapter.Stop()

	executor := toolexecutor.New()
	registered, err := executor.RegisterMCPServer(ctx, "expense", adapter)
	require.NoError(t, err)
	assert.Contains(t, registered, "expense_tool")
	assert.Contains(t, registered, "mcp_expense_resource_read")

	result := executor.Execute(ctx, "expense_tool", map[string]any{
		"operation": "add", "date": "2026-01-01", "amount": 3.0, "category": "Misc",
	}, nil)
	require.True(t, result.Success, result.Error)
	out := result.Output.(map[string]any)
	assert.Equal(t, "add_expense", out["tool"])

	result = executor.Execute(ctx, "delete_expense", map[string]any{"expense_id": 42.0}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Expense ID not found")
}
