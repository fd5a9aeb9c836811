// Package expense is a personal expense tracker backed by SQLite.
//
// The tracker is exposed two ways: as agent tools registered on a
// toolexecutor.ToolExecutor, and as a stdio MCP server (see Server) that
// other agents attach to through toolexecutor.MCPServerAdapter. Tool results
// always carry the tool name:
//
//	{"status": "success", "tool": "add_expense", "response": {...}}
//	{"status": "error", "tool": "add_expense", "error": "..."}
package expense
