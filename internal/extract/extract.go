// Package extract implements the metadata and text extraction dispatch
// tables (C2/C3): MIME-keyed, pure functions that never fail the ingestion
// pipeline — unknown types and extraction errors yield empty output instead
// of propagating up.
package extract

import (
	"context"
	"strings"
)

// Method names reported for provenance, per spec §4.2.
const (
	MethodTextFile = "text_file"
	MethodPDF      = "pdf"
	MethodDOCX     = "docx"
	MethodXLSX     = "xlsx"
	MethodOCR      = "ocr"
	MethodUnknown  = "unknown"
)

// TextResult is the output of TextExtractor.Extract.
type TextResult struct {
	Text   string
	Method string
}

// MetadataExtractor pulls structured metadata out of a file at path.
type MetadataExtractor func(ctx context.Context, path string) (map[string]any, error)

// TextExtractorFunc pulls plaintext out of a file at path.
type TextExtractorFunc func(ctx context.Context, path string) (string, error)

// Registry dispatches metadata/text extraction by MIME type.
type Registry struct {
	metadata map[string]MetadataExtractor
	text     map[string]TextExtractorFunc
	method   map[string]string
}

// NewRegistry builds the default registry covering PDF, DOCX, XLSX, images
// and plain text, per spec §4.2's required format coverage.
func NewRegistry() *Registry {
	r := &Registry{
		metadata: make(map[string]MetadataExtractor),
		text:     make(map[string]TextExtractorFunc),
		method:   make(map[string]string),
	}

	r.register("application/pdf", extractPDFMetadata, extractPDFText, MethodPDF)
	r.register("application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		extractDOCXMetadata, extractDOCXText, MethodDOCX)
	r.register("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		extractXLSXMetadata, extractXLSXText, MethodXLSX)
	r.register("text/plain", nil, extractPlainText, MethodTextFile)
	r.register("text/markdown", nil, extractPlainText, MethodTextFile)

	for _, mime := range []string{"image/jpeg", "image/tiff", "image/heic"} {
		r.register(mime, extractImageMetadata, nil, MethodUnknown)
	}

	return r
}

func (r *Registry) register(mime string, meta MetadataExtractor, text TextExtractorFunc, method string) {
	if meta != nil {
		r.metadata[mime] = meta
	}
	if text != nil {
		r.text[mime] = text
	}
	r.method[mime] = method
}

// ExtractMetadata returns the metadata dict for mime/path. Unknown MIME
// types and extraction failures both yield an empty, non-nil map — per
// spec §4.2, metadata extraction never fails the ingestion pipeline.
func (r *Registry) ExtractMetadata(ctx context.Context, mime, path string) map[string]any {
	fn, ok := r.metadata[normalizeMIME(mime)]
	if !ok {
		return map[string]any{}
	}
	meta, err := fn(ctx, path)
	if err != nil || meta == nil {
		return map[string]any{}
	}
	return meta
}

// ExtractText returns extracted plaintext and the method used for
// provenance. Unknown MIME types and extraction failures yield empty text
// tagged "unknown" rather than an error.
func (r *Registry) ExtractText(ctx context.Context, mime, path string) TextResult {
	key := normalizeMIME(mime)
	fn, ok := r.text[key]
	if !ok {
		return TextResult{Text: "", Method: MethodUnknown}
	}
	text, err := fn(ctx, path)
	if err != nil {
		return TextResult{Text: "", Method: MethodUnknown}
	}
	return TextResult{Text: text, Method: r.method[key]}
}

func normalizeMIME(mime string) string {
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = mime[:idx]
	}
	return strings.TrimSpace(strings.ToLower(mime))
}
