package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/agentkit/internal/tracing"
	"github.com/harun/agentkit/pkg/toolexecutor"
)

// Tools exposes svc to agents. The user and session come from the run
// context, so an agent can only reach its own artifacts.
func Tools(svc Service, appName string) []toolexecutor.ToolDefinition {
	keyFor := func(ctx context.Context, filename string) (Key, error) {
		sessionID := tracing.GetSessionID(ctx)
		if sessionID == "" {
			sessionID = toolexecutor.SessionID(ctx)
		}
		key := Key{
			AppName:   appName,
			UserID:    tracing.GetUserID(ctx),
			SessionID: sessionID,
			Filename:  filename,
		}
		return key, key.validate()
	}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "save_artifact",
			Description: "Save text content as a new version of an artifact file. Prefix the filename with 'user:' to share it across sessions.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "filename", Type: "string", Description: "Artifact filename", Required: true},
				{Name: "content", Type: "string", Description: "Text content to store", Required: true},
				{Name: "mime_type", Type: "string", Description: "MIME type", Default: "text/plain"},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				filename, _ := params["filename"].(string)
				content, _ := params["content"].(string)
				mime, _ := params["mime_type"].(string)
				if mime == "" {
					mime = "text/plain"
				}
				key, err := keyFor(ctx, filename)
				if err != nil {
					return nil, err
				}
				version, err := svc.Save(ctx, key, NewBytesPart([]byte(content), mime))
				if err != nil {
					return nil, err
				}
				return map[string]any{"status": "success", "filename": filename, "version": version}, nil
			},
		},
		{
			Name:        "load_artifact",
			Description: "Load an artifact file. Returns the latest version unless a version is given.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "filename", Type: "string", Description: "Artifact filename", Required: true},
				{Name: "version", Type: "integer", Description: "Version to load"},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				filename, _ := params["filename"].(string)
				key, err := keyFor(ctx, filename)
				if err != nil {
					return nil, err
				}
				var version *int
				if v, ok := params["version"].(float64); ok {
					n := int(v)
					version = &n
				}
				part, err := svc.Load(ctx, key, version)
				if errors.Is(err, ErrNotFound) {
					return map[string]any{"status": "error", "error": fmt.Sprintf("Artifact %s not found.", filename)}, nil
				}
				if err != nil {
					return nil, err
				}
				data, mime, _ := partBytes(part)
				return map[string]any{"status": "success", "filename": filename, "mime_type": mime, "content": string(data)}, nil
			},
		},
		{
			Name:        "list_artifacts",
			Description: "List the artifact filenames available in this session.",
			Handler: func(ctx context.Context, _ map[string]any) (any, error) {
				keys, err := svc.ListKeys(ctx, appName, tracing.GetUserID(ctx), tracing.GetSessionID(ctx))
				if err != nil {
					return nil, err
				}
				return map[string]any{"status": "success", "filenames": keys}, nil
			},
		},
	}
}
