package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/lifearchivist/core/internal/archerr"
)

// folderAddInput is the SPEC_FULL.md-added folder.add tool's input,
// wrapping C12's AddFolder for operability of the watcher from the same
// tool surface as the rest of the system.
type folderAddInput struct {
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

type folderAddOutput struct {
	FolderID string `json:"folder_id"`
}

type folderAddTool struct{ deps Deps }

func (t *folderAddTool) Name() string { return "folder.add" }

func (t *folderAddTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"path"},
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"enabled": map[string]any{"type": "boolean", "default": true},
		},
	}
}

func (t *folderAddTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	in := folderAddInput{Enabled: true}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	if in.Path == "" {
		return nil, archerr.ValidationError("path is required", nil)
	}

	id, err := t.deps.Watcher.AddFolder(ctx, in.Path, in.Enabled)
	if err != nil {
		return nil, err
	}
	return folderAddOutput{FolderID: id}, nil
}

// folderRemoveInput is folder.remove's input, wrapping C12's RemoveFolder.
type folderRemoveInput struct {
	FolderID string `json:"folder_id"`
}

type folderRemoveTool struct{ deps Deps }

func (t *folderRemoveTool) Name() string { return "folder.remove" }

func (t *folderRemoveTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"folder_id"},
		"properties": map[string]any{
			"folder_id": map[string]any{"type": "string"},
		},
	}
}

func (t *folderRemoveTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var in folderRemoveInput
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	if in.FolderID == "" {
		return nil, archerr.ValidationError("folder_id is required", nil)
	}

	if err := t.deps.Watcher.RemoveFolder(ctx, in.FolderID); err != nil {
		return nil, err
	}
	return map[string]any{"removed": true}, nil
}
