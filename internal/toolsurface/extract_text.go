package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/lifearchivist/core/internal/archerr"
)

// extractTextInput is extract.text's input, per spec §6.5:
// `extract.text(file_id, file_path?, mime_type?, file_hash?)`.
type extractTextInput struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileHash string `json:"file_hash,omitempty"`
}

// extractTextOutput is the declared output: `{text, metadata}`.
type extractTextOutput struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

type extractTextTool struct{ deps Deps }

func (t *extractTextTool) Name() string { return "extract.text" }

func (t *extractTextTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"file_id"},
		"properties": map[string]any{
			"file_id":   map[string]any{"type": "string"},
			"file_path": map[string]any{"type": "string"},
			"mime_type": map[string]any{"type": "string"},
			"file_hash": map[string]any{"type": "string"},
		},
	}
}

// Invoke re-derives text/metadata from the vault-stored copy of an already
// ingested document, for callers that need text without re-importing (e.g.
// after an extractor registry change).
func (t *extractTextTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var in extractTextInput
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	if in.FileID == "" {
		return nil, archerr.ValidationError("file_id is required", nil)
	}

	meta, err := t.deps.Tracker.GetFullMetadata(ctx, in.FileID)
	if err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, archerr.NotFoundError(archerr.CodeNotFoundDocument, "file not tracked: "+in.FileID)
	}

	hash := in.FileHash
	if hash == "" {
		hash, _ = meta["file_hash"].(string)
	}
	mimeType := in.MimeType
	if mimeType == "" {
		mimeType, _ = meta["mime_type"].(string)
	}

	storedPath, ok := t.deps.Vault.Get(hash, extFromMIME(mimeType))
	if !ok {
		return nil, archerr.NotFoundError(archerr.CodeNotFoundDocument, "stored content missing for: "+in.FileID)
	}

	result := t.deps.Extractor.ExtractText(ctx, mimeType, storedPath)
	return extractTextOutput{Text: result.Text, Metadata: meta}, nil
}

var mimeToExt = map[string]string{
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
	"text/plain":    ".txt",
	"text/markdown": ".md",
	"text/csv":      ".csv",
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
}

func extFromMIME(mime string) string {
	return mimeToExt[mime]
}
