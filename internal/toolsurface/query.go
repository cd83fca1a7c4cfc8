package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/lifearchivist/core/internal/query"
)

const defaultSimilarityTopK = 5

// queryInput is llamaindex.query's input, per spec §6.5:
// `llamaindex.query(question, similarity_top_k=5, response_mode=tree_summarize)`.
//
// response_mode is accepted and validated for interface fidelity with spec
// §6.5's four named modes, but internal/query.Service synthesizes a single
// answer per question regardless of mode (no per-mode synthesis strategy is
// implemented, per SPEC_FULL.md's §4.8 scope); it is otherwise unused.
//
// similarity_top_k is decoded but not used: Invoke does not pass it to
// internal/query.Service, so the number of retrieved sources does not
// depend on it.
type queryInput struct {
	Question        string `json:"question"`
	SimilarityTopK   int    `json:"similarity_top_k,omitempty"`
	ResponseMode     string `json:"response_mode,omitempty"`
}

var validResponseModes = map[string]struct{}{
	"tree_summarize":   {},
	"compact":          {},
	"refine":           {},
	"simple_summarize": {},
}

// queryOutput is the declared output:
// `{answer, confidence, sources[], method, metadata}`.
type queryOutput struct {
	Answer     string          `json:"answer"`
	Confidence float64         `json:"confidence"`
	Sources    []query.Source  `json:"sources"`
	Method     string          `json:"method"`
	Metadata   query.Statistics `json:"metadata"`
}

type queryTool struct{ deps Deps }

func (t *queryTool) Name() string { return "llamaindex.query" }

func (t *queryTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"question"},
		"properties": map[string]any{
			"question":         map[string]any{"type": "string"},
			"similarity_top_k":  map[string]any{"type": "integer", "default": defaultSimilarityTopK},
			"response_mode":     map[string]any{"type": "string", "enum": []string{"tree_summarize", "compact", "refine", "simple_summarize"}},
		},
	}
}

func (t *queryTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var in queryInput
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	if in.ResponseMode != "" {
		if _, ok := validResponseModes[in.ResponseMode]; !ok {
			in.ResponseMode = ""
		}
	}

	answer, err := t.deps.Query.Ask(ctx, in.Question, nil)
	if err != nil {
		return nil, err
	}

	return queryOutput{
		Answer:     answer.Answer,
		Confidence: answer.ConfidenceScore,
		Sources:    answer.Sources,
		Method:     answer.Method,
		Metadata:   answer.Statistics,
	}, nil
}
