package toolexecutor

import (
	"context"
	"fmt"
	"strings"
)

// RegisterMCPServer registers the tools of an MCP server plus two helper
// tools, mcp_<id>_resources_list and mcp_<id>_resource_read. A tool whose
// name is already taken is registered as <id>_<name>.
func (te *ToolExecutor) RegisterMCPServer(ctx context.Context, serverID string, adapter *MCPServerAdapter) ([]string, error) {
	if strings.TrimSpace(serverID) == "" {
		return nil, fmt.Errorf("mcp server id is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("mcp adapter is required")
	}

	tools, err := adapter.GetTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch MCP tools: %w", err)
	}

	uniqueName := func(name string) string {
		if te.GetTool(name) != nil {
			return serverID + "_" + name
		}
		return name
	}

	registered := make([]string, 0, len(tools)+2)
	for _, tool := range tools {
		originalName := tool.Name
		if originalName == "" {
			continue
		}
		if tool.Description == "" {
			tool.Description = originalName
		}

		tool.Name = uniqueName(originalName)
		tool.Handler = func(ctx context.Context, params map[string]any) (any, error) {
			return adapter.ExecuteTool(ctx, originalName, params)
		}
		if err := te.RegisterTool(tool); err != nil {
			return registered, fmt.Errorf("failed to register MCP tool %s: %w", tool.Name, err)
		}
		registered = append(registered, tool.Name)
	}

	listName := uniqueName(fmt.Sprintf("mcp_%s_resources_list", serverID))
	if err := te.RegisterTool(ToolDefinition{
		Name:        listName,
		Description: fmt.Sprintf("List resources exposed by the %s MCP server", serverID),
		Source:      serverID,
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return adapter.ListResources(ctx)
		},
	}); err != nil {
		return registered, fmt.Errorf("failed to register MCP resources list tool: %w", err)
	}
	registered = append(registered, listName)

	readName := uniqueName(fmt.Sprintf("mcp_%s_resource_read", serverID))
	if err := te.RegisterTool(ToolDefinition{
		Name:        readName,
		Description: fmt.Sprintf("Read a resource exposed by the %s MCP server", serverID),
		Source:      serverID,
		Parameters: []ToolParameter{{
			Name:        "uri",
			Type:        "string",
			Description: "Resource URI",
			Required:    true,
		}},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			uri, _ := params["uri"].(string)
			if strings.TrimSpace(uri) == "" {
				return nil, fmt.Errorf("uri parameter is required")
			}
			contents, err := adapter.ReadResource(ctx, uri)
			if err != nil {
				return nil, err
			}
			if len(contents) == 1 {
				return contents[0].Text, nil
			}
			return contents, nil
		},
	}); err != nil {
		return registered, fmt.Errorf("failed to register MCP resource read tool: %w", err)
	}
	registered = append(registered, readName)

	return registered, nil
}
