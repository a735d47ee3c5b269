// Package local implements the local/Ollama-native Provider transport
// (spec §4.1, C1): a hand-rolled HTTP client against Ollama's native
// /api/chat and /api/embed endpoints, with a /api/tags (falling back
// to /api/version) reachability probe.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/llm"
	"github.com/memori-ai/memori/internal/observability"
)

const defaultBaseURL = "http://localhost:11434"

// Client is the local/Ollama-native C1 transport.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	healthy    bool
}

// Config is the subset of facade configuration this transport needs.
type Config struct {
	Model   string
	BaseURL string // defaults to http://localhost:11434
}

// New builds a local transport.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		model:      strings.TrimSpace(cfg.Model),
	}
}

// Initialize probes reachability via /api/tags, falling back to
// /api/version if the server predates the tags endpoint.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.probe(ctx, "/api/tags"); err != nil {
		if err2 := c.probe(ctx, "/api/version"); err2 != nil {
			c.healthy = false
			return fmt.Errorf("local: %w: %v", errs.ErrTransport, err2)
		}
	}
	c.healthy = true
	return nil
}

func (c *Client) probe(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

// Dispose releases resources.
func (c *Client) Dispose(ctx context.Context) error {
	c.healthy = false
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string      `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  chatOptions `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	// Ollama reports token counts as prompt_eval_count/eval_count, not the
	// OpenAI-style usage object.
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
	DoneReason      string `json:"done_reason"`
}

// CreateChatCompletion posts to /api/chat with stream disabled, and maps
// Ollama's done_reason onto the canonical FinishReason.
func (c *Client) CreateChatCompletion(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	if len(params.Messages) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("local: %w: at least one message required", errs.ErrInvalidRequest)
	}

	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = c.model
	}
	if model == "" {
		return llm.ChatResponse{}, fmt.Errorf("local: %w: no model configured", errs.ErrConfiguration)
	}

	reqBody := chatRequest{
		Model:  model,
		Stream: false,
		Options: chatOptions{
			Temperature: params.Temperature,
			TopP:        params.TopP,
			NumPredict:  params.MaxTokens,
		},
	}
	for _, m := range params.Messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	var out chatResponse
	if err := c.post(ctx, "/api/chat", reqBody, &out); err != nil {
		c.healthy = false
		log.Error().Err(err).Str("model", model).Dur("duration", time.Since(start)).Msg("local_chat_error")
		return llm.ChatResponse{}, &errs.TransportError{Provider: "local", Op: "CreateChatCompletion", Err: err}
	}
	c.healthy = true

	return llm.ChatResponse{
		Content:      out.Message.Content,
		FinishReason: mapDoneReason(out.DoneReason),
		Model:        out.Model,
		Usage: llm.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// CreateEmbedding posts to /api/embed (Ollama's batch embedding endpoint).
func (c *Client) CreateEmbedding(ctx context.Context, params llm.EmbeddingParams) (llm.EmbeddingResponse, error) {
	if len(params.Input) == 0 {
		return llm.EmbeddingResponse{}, fmt.Errorf("local: %w: at least one input string required", errs.ErrInvalidRequest)
	}
	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = c.model
	}
	if model == "" {
		return llm.EmbeddingResponse{}, fmt.Errorf("local: %w: no model configured", errs.ErrConfiguration)
	}

	var out embedResponse
	if err := c.post(ctx, "/api/embed", embedRequest{Model: model, Input: params.Input}, &out); err != nil {
		c.healthy = false
		return llm.EmbeddingResponse{}, &errs.TransportError{Provider: "local", Op: "CreateEmbedding", Err: err}
	}
	if len(out.Embeddings) != len(params.Input) {
		return llm.EmbeddingResponse{}, fmt.Errorf("local: %w: got %d embeddings, want %d", errs.ErrTransport, len(out.Embeddings), len(params.Input))
	}
	c.healthy = true

	return llm.EmbeddingResponse{
		Vectors: out.Embeddings,
		Model:   out.Model,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %s: %s", resp.Status, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsHealthy reports the status recorded by the most recent call.
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.healthy
}

// GetDiagnostics returns a snapshot of this transport's state.
func (c *Client) GetDiagnostics() llm.Diagnostics {
	return llm.Diagnostics{
		ProviderType: c.GetProviderType(),
		Model:        c.model,
		Healthy:      c.healthy,
		BaseURL:      c.baseURL,
	}
}

// GetModel returns the configured default model.
func (c *Client) GetModel() string { return c.model }

// GetProviderType identifies this transport.
func (c *Client) GetProviderType() string { return "ollama-local" }

// mapDoneReason translates Ollama's done_reason into the canonical
// FinishReason (spec §4.1).
func mapDoneReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	default:
		return llm.FinishUnknown
	}
}
