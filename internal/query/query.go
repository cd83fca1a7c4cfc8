// Package query implements the QueryService: an intent gate that separates
// chitchat from document questions, context assembly over the hybrid search
// service, LLM answer synthesis (batch and streaming), and the confidence
// function used to score an answer against its supporting context. It is
// grounded in the teacher's (now-deleted, see internal/search's dropped
// classifier.go) pattern-based classification idea - deciding a query's
// handling ahead of an LLM round trip - generalised into its own
// from-scratch chitchat/document_query intent gate, since the teacher's
// classifier typed a different axis (lexical/semantic/mixed) and its
// concrete types were never a fit to call into directly.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lifearchivist/core/internal/activity"
	"github.com/lifearchivist/core/internal/filter"
	"github.com/lifearchivist/core/internal/llmclient"
	"github.com/lifearchivist/core/internal/search"
)

// Intent is the result of the pre-retrieval gate, per spec §4.8.
type Intent string

const (
	IntentChitchat     Intent = "chitchat"
	IntentDocumentQuery Intent = "document_query"
)

// chitchatPhrases is the closed set of greetings/pleasantries classified as
// chitchat outright, regardless of word count.
var chitchatPhrases = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "thanks": {}, "thank you": {},
	"bye": {}, "goodbye": {}, "how are you": {}, "what's up": {},
	"sup": {}, "yo": {},
}

// documentOverrideKeywords force document_query even for a short query,
// per spec §4.8.
var documentOverrideKeywords = []string{
	"document", "file", "pdf", "show", "find", "search", "what", "when",
	"where", "who", "how", "why", "tell me", "explain", "describe",
	"list", "summary", "summarize", "based on", "according to", "in my",
}

// errorishTerms halve confidence when present in a lowercased answer, per
// spec §4.8.1.
var errorishTerms = []string{
	"error", "failed", "unable", "cannot", "don't have", "not found", "insufficient",
}

// confidenceWeights is w = (0.25, 0.35, 0.20, 0.20), per spec §4.8.1.
const (
	weightSourceCount = 0.25
	weightMeanScore   = 0.35
	weightAnswerLen   = 0.20
	weightContextLen  = 0.20

	sourceCountSaturation = 5.0
	answerLenSaturation   = 500.0
	contextLenSaturation  = 2000.0

	chitchatResponse = "Hi! I'm here to help you find information in your documents. Ask me anything about what's been archived."
	errorResponse     = "Something went wrong answering that. Please try again in a moment."

	contextSeparator = "\n\n---\n\n"

	methodDirectResponse = "direct_response"
	methodRAG            = "llamaindex_rag"
	methodError          = "llamaindex_error"

	defaultTopK              = 5
	defaultContextThreshold  = 0.45
)

// ClassifyIntent applies the chitchat/document_query gate of spec §4.8.
func ClassifyIntent(question string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(question))
	if _, ok := chitchatPhrases[normalized]; ok {
		return IntentChitchat
	}

	for _, kw := range documentOverrideKeywords {
		if strings.Contains(normalized, kw) {
			return IntentDocumentQuery
		}
	}

	if wordCount(normalized) < 3 && !strings.Contains(normalized, "?") {
		return IntentChitchat
	}
	return IntentDocumentQuery
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// Source is a single piece of supporting context returned alongside an answer.
type Source struct {
	DocumentID string
	NodeID     string
	Score      float64
	Text       string
}

// Statistics carries secondary metrics about an answer, surfaced for
// observability rather than consumed by callers.
type Statistics struct {
	NumChunksUsed int
	ContextChars  int
	AnswerChars   int
}

// Answer is the result of a non-streaming document_query execution.
type Answer struct {
	Answer          string
	Sources         []Source
	Method          string
	ContextUsed     string
	NumChunksUsed   int
	ConfidenceScore float64
	Statistics      Statistics
}

// StreamEventType names the typed events emitted by StreamAsk, per spec §4.8.
type StreamEventType string

const (
	EventIntentCheck StreamEventType = "intent_check"
	EventSources     StreamEventType = "sources"
	EventChunk       StreamEventType = "chunk"
	EventMetadata    StreamEventType = "metadata"
	EventError       StreamEventType = "error"
)

// StreamEvent is a single event in the streaming event sequence:
// intent_check -> sources -> chunk* -> metadata|error.
type StreamEvent struct {
	Type    StreamEventType
	Intent  Intent
	Sources []Source
	Chunk   string
	Answer  *Answer
	Err     error
}

// Config tunes context assembly.
type Config struct {
	TopK              int
	ContextThreshold  float64
	HeaderMode        bool
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.ContextThreshold <= 0 {
		c.ContextThreshold = defaultContextThreshold
	}
	return c
}

// Service synthesizes answers from hybrid search context plus an LLM, per
// spec §4.8.
type Service struct {
	cfg      Config
	search   *search.Service
	llm      *llmclient.Client
	activity *activity.Log
}

// New creates a Service from its collaborators. activity is optional (nil
// disables qa_query event logging).
func New(cfg Config, searchSvc *search.Service, llm *llmclient.Client, activityLog *activity.Log) *Service {
	return &Service{cfg: cfg.withDefaults(), search: searchSvc, llm: llm, activity: activityLog}
}

// Ask classifies intent, and for document_query builds context, invokes the
// LLM, and scores confidence, per spec §4.8.
func (s *Service) Ask(ctx context.Context, question string, filters filter.Filters) (*Answer, error) {
	intent := ClassifyIntent(question)
	s.logQuery(ctx, question, intent)

	if intent == IntentChitchat {
		return &Answer{
			Answer:          chitchatResponse,
			Sources:         nil,
			Method:          methodDirectResponse,
			ConfidenceScore: 1.0,
		}, nil
	}

	sources, contextText, err := s.buildContext(ctx, question, filters)
	if err != nil {
		return &Answer{
			Answer:          errorResponse,
			Method:          methodError,
			ConfidenceScore: 0.0,
		}, nil
	}

	answerText, err := s.llm.Chat(ctx, chatMessages(contextText, question))
	if err != nil {
		return &Answer{
			Answer:          errorResponse,
			Method:          methodError,
			ConfidenceScore: 0.0,
		}, nil
	}

	return s.finalize(answerText, sources, contextText), nil
}

// StreamAsk emits the typed event sequence of spec §4.8 to onEvent. For
// chitchat, the canned response is yielded character-by-character. Returning
// from onEvent's context as cancelled terminates the stream cleanly with the
// partial answer discarded.
func (s *Service) StreamAsk(ctx context.Context, question string, filters filter.Filters, onEvent func(StreamEvent)) error {
	intent := ClassifyIntent(question)
	s.logQuery(ctx, question, intent)
	onEvent(StreamEvent{Type: EventIntentCheck, Intent: intent})

	if intent == IntentChitchat {
		onEvent(StreamEvent{Type: EventSources, Sources: nil})
		for _, r := range chitchatResponse {
			if ctx.Err() != nil {
				return nil
			}
			onEvent(StreamEvent{Type: EventChunk, Chunk: string(r)})
		}
		onEvent(StreamEvent{Type: EventMetadata, Answer: &Answer{
			Answer: chitchatResponse, Method: methodDirectResponse, ConfidenceScore: 1.0,
		}})
		return nil
	}

	sources, contextText, err := s.buildContext(ctx, question, filters)
	if err != nil {
		onEvent(StreamEvent{Type: EventError, Err: err})
		return nil
	}
	onEvent(StreamEvent{Type: EventSources, Sources: sources})

	var answer strings.Builder
	streamErr := s.llm.ChatStream(ctx, chatMessages(contextText, question), func(token string) {
		if ctx.Err() != nil {
			return
		}
		answer.WriteString(token)
		onEvent(StreamEvent{Type: EventChunk, Chunk: token})
	})
	if ctx.Err() != nil {
		return nil
	}
	if streamErr != nil {
		onEvent(StreamEvent{Type: EventError, Err: streamErr})
		return nil
	}

	onEvent(StreamEvent{Type: EventMetadata, Answer: s.finalize(answer.String(), sources, contextText)})
	return nil
}

// buildContext runs semantic search at the spec's §4.8 threshold and
// concatenates chunks with the spec's separator, optionally prefixed with a
// per-chunk header.
func (s *Service) buildContext(ctx context.Context, question string, filters filter.Filters) ([]Source, string, error) {
	results, err := s.search.Semantic(ctx, question, s.cfg.TopK, s.cfg.ContextThreshold, filters)
	if err != nil {
		return nil, "", err
	}

	sources := make([]Source, 0, len(results))
	parts := make([]string, 0, len(results))
	for i, r := range results {
		sources = append(sources, Source{DocumentID: r.DocumentID, NodeID: r.NodeID, Score: r.Score, Text: r.Text})
		if s.cfg.HeaderMode {
			parts = append(parts, fmt.Sprintf("[Chunk %d | Doc: %s | Score: %s]\n%s",
				i+1, r.DocumentID, strconv.FormatFloat(r.Score, 'f', 3, 64), r.Text))
		} else {
			parts = append(parts, r.Text)
		}
	}
	return sources, strings.Join(parts, contextSeparator), nil
}

func chatMessages(contextText, question string) []llmclient.ChatMessage {
	return []llmclient.ChatMessage{
		{Role: "system", Content: "Answer the question using only the provided context. If the context doesn't contain the answer, say so."},
		{Role: "user", Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, question)},
	}
}

func (s *Service) finalize(answerText string, sources []Source, contextText string) *Answer {
	confidence := Confidence(sources, answerText, contextText)
	return &Answer{
		Answer:          answerText,
		Sources:         sources,
		Method:          methodRAG,
		ContextUsed:     contextText,
		NumChunksUsed:   len(sources),
		ConfidenceScore: confidence,
		Statistics: Statistics{
			NumChunksUsed: len(sources),
			ContextChars:  len(contextText),
			AnswerChars:   len(answerText),
		},
	}
}

// Confidence computes C in [0,1] per spec §4.8.1:
//
//	C0 = w0*min(s/5,1) + w1*r + w2*min(a/500,1) + w3*min(c/2000,1)
//
// halved if the lowercased answer contains an error-ish term, then clamped
// and rounded to 3 decimals.
func Confidence(sources []Source, answer string, context string) float64 {
	s := float64(len(sources))
	var r float64
	if len(sources) > 0 {
		var sum float64
		for _, src := range sources {
			sum += src.Score
		}
		r = sum / float64(len(sources))
	}
	a := float64(len(answer))
	c := float64(len(context))

	confidence := weightSourceCount*minOf(s/sourceCountSaturation, 1) +
		weightMeanScore*r +
		weightAnswerLen*minOf(a/answerLenSaturation, 1) +
		weightContextLen*minOf(c/contextLenSaturation, 1)

	lowered := strings.ToLower(answer)
	for _, term := range errorishTerms {
		if strings.Contains(lowered, term) {
			confidence *= 0.5
			break
		}
	}

	confidence = clamp(confidence, 0, 1)
	return round3(confidence)
}

func minOf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round3(v float64) float64 {
	scaled := v*1000 + 0.5
	whole := int64(scaled)
	return float64(whole) / 1000
}

func (s *Service) logQuery(ctx context.Context, question string, intent Intent) {
	if s.activity == nil {
		return
	}
	_, _ = s.activity.Add(ctx, "qa_query", map[string]any{
		"question": question,
		"intent":   string(intent),
	})
}
