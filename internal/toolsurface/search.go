package toolsurface

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lifearchivist/core/internal/archerr"
	"github.com/lifearchivist/core/internal/filter"
	"github.com/lifearchivist/core/internal/search"
)

const defaultSearchLimit = 20

// searchInput is index.search's input, per spec §6.5:
// `index.search(query, mode=hybrid, filters?, limit=20, offset=0, include_content=false)`.
// A filter value is either a bare scalar (equality) or an operator object
// (`$gte`/`$lte`/`$gt`/`$lt`/`$in`/`$nin`/`$ne`), per spec §4.3/§4.7.
type searchInput struct {
	Query          string         `json:"query"`
	Mode           string         `json:"mode,omitempty"`
	Filters        filter.Filters `json:"filters,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	Offset         int            `json:"offset,omitempty"`
	IncludeContent bool           `json:"include_content,omitempty"`
}

// searchOutput is the declared output: `{results[], total, query_time_ms}`.
type searchOutput struct {
	Results     []search.Result `json:"results"`
	Total       int             `json:"total"`
	QueryTimeMs int64           `json:"query_time_ms"`
}

type searchTool struct{ deps Deps }

func (t *searchTool) Name() string { return "index.search" }

func (t *searchTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"query"},
		"properties": map[string]any{
			"query":           map[string]any{"type": "string"},
			"mode":            map[string]any{"type": "string", "enum": []string{"semantic", "keyword", "hybrid"}, "default": "hybrid"},
			"filters":         map[string]any{"type": "object"},
			"limit":           map[string]any{"type": "integer", "default": defaultSearchLimit},
			"offset":          map[string]any{"type": "integer", "default": 0},
			"include_content": map[string]any{"type": "boolean", "default": false},
		},
	}
}

func (t *searchTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var in searchInput
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, archerr.ValidationError("query is required", nil)
	}
	if err := filter.Validate(in.Filters); err != nil {
		return nil, err
	}
	if in.Limit <= 0 {
		in.Limit = defaultSearchLimit
	}
	mode := search.Mode(in.Mode)
	if mode == "" {
		mode = search.ModeHybrid
	}

	started := time.Now()
	// limit+offset is applied after scoring: the underlying search services
	// rank then truncate to topK, so topK must cover the paginated window.
	results, err := t.deps.Search.Search(ctx, mode, in.Query, in.Offset+in.Limit, in.Filters)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(started)

	if in.Offset > 0 {
		if in.Offset >= len(results) {
			results = nil
		} else {
			results = results[in.Offset:]
		}
	}
	if len(results) > in.Limit {
		results = results[:in.Limit]
	}
	if !in.IncludeContent {
		for i := range results {
			results[i].Text = ""
		}
	}

	return searchOutput{Results: results, Total: len(results), QueryTimeMs: elapsed.Milliseconds()}, nil
}
