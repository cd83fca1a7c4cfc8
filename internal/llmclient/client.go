// Package llmclient talks to an Ollama-compatible runtime for both chat
// completion (C10 query synthesis) and embedding generation (C6 vector
// indexing), following the connection-pooling and retry shape of Ollama
// clients used elsewhere in this codebase family.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lifearchivist/core/internal/archerr"
)

const (
	// DefaultDimensions is used when a model's embedding size cannot be detected.
	DefaultDimensions = 768

	defaultConnectTimeout = 5 * time.Second
	defaultWarmTimeout    = 60 * time.Second
	defaultColdTimeout    = 180 * time.Second
	defaultPoolSize       = 4
	defaultMaxRetries     = 3
)

// Config configures an Ollama-backed client.
type Config struct {
	Host           string
	ChatModel      string
	EmbeddingModel string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
	PoolSize       int
	// SkipHealthCheck avoids the startup probe; used in tests against miniredis-like fakes.
	SkipHealthCheck bool
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "http://localhost:11434"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultWarmTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	return c
}

// Client is a pooled HTTP client against an Ollama-compatible API, providing
// both chat completion and text embedding.
type Client struct {
	cfg       Config
	http      *http.Client
	transport *http.Transport

	mu   sync.RWMutex
	dims int
}

// New builds a Client and, unless SkipHealthCheck is set, probes the host and
// detects the embedding model's dimensionality.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Transport: transport},
		transport: transport,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, defaultColdTimeout)
		defer cancel()
		if _, err := c.listModels(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableLLM, "connect to ollama", err)
		}
		dims, err := c.detectDimensions(checkCtx)
		if err == nil {
			c.mu.Lock()
			c.dims = dims
			c.mu.Unlock()
		}
	}
	if c.Dimensions() == 0 {
		c.mu.Lock()
		c.dims = DefaultDimensions
		c.mu.Unlock()
	}

	return c, nil
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// Dimensions returns the detected (or default) embedding dimensionality.
func (c *Client) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dims
}

type modelListResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (c *Client) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	var out modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	names := make([]string, len(out.Models))
	for i, m := range out.Models {
		names[i] = m.Name
	}
	return names, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Client) detectDimensions(ctx context.Context) (int, error) {
	embeddings, err := c.embedBatch(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(embeddings[0]), nil
}

// Embed returns the embedding vector for a single piece of text. Blank input
// yields a zero vector rather than a round trip.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, c.Dimensions()), nil
	}
	vecs, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableEmbedder, "no embedding returned", nil)
	}
	return vecs[0], nil
}

// EmbedBatch embeds multiple texts in one request, retrying transient
// failures with exponential backoff.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedBatch(ctx, texts)
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embedRequest{Model: c.cfg.EmbeddingModel, Input: texts}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	var lastErr error
	backoff := 250 * time.Millisecond
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		req, rerr := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Host+"/api/embed", bytes.NewReader(body))
		if rerr != nil {
			cancel()
			return nil, rerr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, derr := c.http.Do(req)
		if derr != nil {
			cancel()
			lastErr = derr
			continue
		}

		var out embedResponse
		decErr := json.NewDecoder(resp.Body).Decode(&out)
		status := resp.StatusCode
		_ = resp.Body.Close()
		cancel()

		if status != http.StatusOK {
			lastErr = fmt.Errorf("embedding request failed with status %d", status)
			continue
		}
		if decErr != nil {
			lastErr = fmt.Errorf("decode embedding response: %w", decErr)
			continue
		}
		return out.Embeddings, nil
	}

	return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableEmbedder, "embedding request exhausted retries", lastErr)
}

// ChatMessage is a single turn in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ChatOptions overrides sampling parameters for a single ChatWithOptions
// call, for callers (e.g. date extraction) that need a low-temperature,
// bounded-length completion rather than the conversational defaults.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type chatResponse struct {
	Message ChatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// Chat sends a non-streaming chat completion request and returns the
// assistant's reply text.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	reqBody := chatRequest{Model: c.cfg.ChatModel, Messages: messages, Stream: false}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", archerr.ServiceUnavailableError(archerr.CodeUnavailableLLM, "chat request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", archerr.ServiceUnavailableError(archerr.CodeUnavailableLLM,
			fmt.Sprintf("chat request status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	return out.Message.Content, nil
}

// ChatWithOptions sends a non-streaming chat completion request with an
// explicit sampling temperature, token cap, and request timeout, for callers
// that need deterministic, bounded completions outside the client's
// conversational defaults.
func (c *Client) ChatWithOptions(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error) {
	reqBody := chatRequest{
		Model:    c.cfg.ChatModel,
		Messages: messages,
		Stream:   false,
		Options:  &chatOptions{Temperature: opts.Temperature, NumPredict: opts.MaxTokens},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", archerr.ServiceUnavailableError(archerr.CodeUnavailableLLM, "chat request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", archerr.ServiceUnavailableError(archerr.CodeUnavailableLLM,
			fmt.Sprintf("chat request status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	return out.Message.Content, nil
}

// ChatStream streams chat completion tokens to onToken as newline-delimited
// JSON objects arrive, matching Ollama's streaming response shape.
func (c *Client) ChatStream(ctx context.Context, messages []ChatMessage, onToken func(string)) error {
	reqBody := chatRequest{Model: c.cfg.ChatModel, Messages: messages, Stream: true}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableLLM, "chat stream failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableLLM,
			fmt.Sprintf("chat stream status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk chatResponse
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decode chat stream chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			onToken(chunk.Message.Content)
		}
		if chunk.Done {
			return nil
		}
	}
}

// Available reports whether the configured host currently responds.
func (c *Client) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	_, err := c.listModels(checkCtx)
	return err == nil
}
