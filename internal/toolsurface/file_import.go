package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/lifearchivist/core/internal/ingest"
)

// fileImportInput is file.import's JSON-schema-tagged input struct, per
// spec §6.5: `file.import(path, mime_hint?, tags?, metadata?, session_id?)`.
type fileImportInput struct {
	Path      string         `json:"path"`
	MimeHint  string         `json:"mime_hint,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// fileImportOutput is file.import's output shape:
// `{file_id, hash, mime_type, status}`. The file size is not included.
type fileImportOutput struct {
	FileID   string `json:"file_id"`
	Hash     string `json:"hash"`
	MimeType string `json:"mime_type"`
	Status   string `json:"status"`
}

type fileImportTool struct{ deps Deps }

func (t *fileImportTool) Name() string { return "file.import" }

func (t *fileImportTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"path"},
		"properties": map[string]any{
			"path":       map[string]any{"type": "string"},
			"mime_hint":  map[string]any{"type": "string"},
			"tags":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"metadata":   map[string]any{"type": "object"},
			"session_id": map[string]any{"type": "string"},
		},
	}
}

func (t *fileImportTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var in fileImportInput
	if err := decode(raw, &in); err != nil {
		return nil, err
	}

	result, err := t.deps.Pipeline.Ingest(ctx, ingest.Input{
		Path:      in.Path,
		MimeHint:  in.MimeHint,
		Tags:      in.Tags,
		Metadata:  in.Metadata,
		SessionID: in.SessionID,
	})
	if err != nil {
		return nil, err
	}

	return fileImportOutput{
		FileID:   result.DocumentID,
		Hash:     result.Hash,
		MimeType: result.MimeType,
		Status:   result.Status,
	}, nil
}
