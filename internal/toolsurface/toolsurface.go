// Package toolsurface implements the tagged-variant tool registry of spec
// §6.5 and §9's "replace runtime class lookup with a tagged-variant Tool"
// redesign note: a closed set of named, JSON-schema-described operations
// dispatched by name rather than by reflective method lookup.
//
// Grounded on the teacher's internal/mcp/tools.go, whose tools each carried
// a Go struct tagged for JSON-schema generation as their input shape; that
// idiom is kept here (each tool's input struct doubles as its schema
// source) while the MCP transport binding itself is dropped, per spec
// §6.5's "consumed by an external HTTP layer" framing — this package stops
// at the registry and leaves the HTTP/RPC binding to that external layer.
package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/lifearchivist/core/internal/archerr"
	"github.com/lifearchivist/core/internal/extract"
	"github.com/lifearchivist/core/internal/ingest"
	"github.com/lifearchivist/core/internal/llmclient"
	"github.com/lifearchivist/core/internal/query"
	"github.com/lifearchivist/core/internal/search"
	"github.com/lifearchivist/core/internal/tracker"
	"github.com/lifearchivist/core/internal/vault"
	"github.com/lifearchivist/core/internal/watch"
)

// Tool is one entry of the tagged-variant registry: a name, a JSON-Schema
// description of its input, and an invocation that decodes a raw JSON
// payload and returns a JSON-serializable result.
type Tool interface {
	Name() string
	InputSchema() map[string]any
	Invoke(ctx context.Context, input json.RawMessage) (any, error)
}

// Deps is the explicit dependency-injection struct every tool constructor
// closes over, per spec §9's "Dependencies form an explicit injection
// struct" — never package globals.
type Deps struct {
	Vault     *vault.Vault
	Tracker   *tracker.Tracker
	Extractor *extract.Registry
	Pipeline  *ingest.Pipeline
	Search    *search.Service
	Query     *query.Service
	Watcher   *watch.Watcher
	LLM       *llmclient.Client
}

// Registry maps tool names to their constructed Tool.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry constructs six tools wired against deps: the four of spec §6.5
// (file.import, extract.text, llamaindex.query, index.search) plus the
// folder.add and folder.remove operations added by SPEC_FULL.md §6.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{tools: make(map[string]Tool, 6)}
	r.register(&fileImportTool{deps: deps})
	r.register(&extractTextTool{deps: deps})
	r.register(&queryTool{deps: deps})
	r.register(&searchTool{deps: deps})
	r.register(&folderAddTool{deps: deps})
	r.register(&folderRemoveTool{deps: deps})
	return r
}

func (r *Registry) register(t Tool) { r.tools[t.Name()] = t }

// Names lists every registered tool name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Lookup returns the tool registered under name, or ok=false.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Invoke is dispatch-by-name: the pattern match named in spec §9, realised
// as a single map lookup over the tagged variants.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (any, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, archerr.NotFoundError(archerr.CodeNotFoundTool, "unknown tool: "+name)
	}
	return t.Invoke(ctx, input)
}

func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return archerr.ValidationError("decode tool input", err)
	}
	return nil
}
