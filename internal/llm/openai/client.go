// Package openai implements the OpenAI-compatible Provider transport
// (spec §4.1, C1) over the official SDK: chat completions and embeddings
// against any OpenAI-wire-compatible endpoint (OpenAI itself, or a
// self-hosted server that speaks the same schema).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/llm"
	"github.com/memori-ai/memori/internal/observability"
)

const defaultEmbeddingModel = "text-embedding-3-small"

// Client is the OpenAI-compatible C1 transport.
type Client struct {
	sdk     sdk.Client
	model   string
	baseURL string
	apiKey  string
	healthy bool
}

// Config is the subset of facade configuration this transport needs.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // empty uses the SDK's default (https://api.openai.com/v1)
}

// New builds an OpenAI-compatible transport.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = sdk.ChatModelGPT4o
	}

	return &Client{
		sdk:     sdk.NewClient(opts...),
		model:   model,
		baseURL: base,
		apiKey:  cfg.APIKey,
	}
}

// Initialize validates configuration. Self-hosted deployments (empty
// BaseURL override, no API key requirement) are intentionally permissive
// here; IsHealthy reflects actual call outcomes.
func (c *Client) Initialize(ctx context.Context) error {
	if strings.TrimSpace(c.apiKey) == "" && c.baseURL == "" {
		return fmt.Errorf("openai: %w: API key required against the default endpoint", errs.ErrConfiguration)
	}
	c.healthy = true
	return nil
}

// Dispose releases resources.
func (c *Client) Dispose(ctx context.Context) error {
	c.healthy = false
	return nil
}

// CreateChatCompletion adapts params onto sdk.ChatCompletionNewParams and
// maps the first choice's finish_reason into the canonical FinishReason.
func (c *Client) CreateChatCompletion(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	if len(params.Messages) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("openai: %w: at least one message required", errs.ErrInvalidRequest)
	}

	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = c.model
	}

	reqParams := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: adaptMessages(params.Messages),
	}
	if params.Temperature > 0 {
		reqParams.Temperature = sdk.Float(params.Temperature)
	}
	if params.MaxTokens > 0 {
		reqParams.MaxCompletionTokens = sdk.Int(int64(params.MaxTokens))
	}
	if params.TopP > 0 {
		reqParams.TopP = sdk.Float(params.TopP)
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, reqParams)
	dur := time.Since(start)
	if err != nil {
		c.healthy = false
		log.Error().Err(err).Str("model", model).Dur("duration", dur).Msg("openai_chat_error")
		return llm.ChatResponse{}, &errs.TransportError{Provider: "openai", Op: "CreateChatCompletion", Err: err}
	}
	c.healthy = true

	var content string
	var finish llm.FinishReason
	if len(comp.Choices) > 0 {
		content = comp.Choices[0].Message.Content
		finish = mapFinishReason(string(comp.Choices[0].FinishReason))
	}

	return llm.ChatResponse{
		Content:      content,
		FinishReason: finish,
		Model:        string(comp.Model),
		Usage: llm.Usage{
			PromptTokens:     int(comp.Usage.PromptTokens),
			CompletionTokens: int(comp.Usage.CompletionTokens),
			TotalTokens:      int(comp.Usage.TotalTokens),
		},
	}, nil
}

// CreateEmbedding adapts params onto sdk.EmbeddingNewParams.
func (c *Client) CreateEmbedding(ctx context.Context, params llm.EmbeddingParams) (llm.EmbeddingResponse, error) {
	if len(params.Input) == 0 {
		return llm.EmbeddingResponse{}, fmt.Errorf("openai: %w: at least one input string required", errs.ErrInvalidRequest)
	}

	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = defaultEmbeddingModel
	}

	reqParams := sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(model),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: params.Input},
	}
	if params.Dimensions > 0 {
		reqParams.Dimensions = sdk.Int(int64(params.Dimensions))
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	resp, err := c.sdk.Embeddings.New(ctx, reqParams)
	dur := time.Since(start)
	if err != nil {
		c.healthy = false
		log.Error().Err(err).Str("model", model).Dur("duration", dur).Msg("openai_embedding_error")
		return llm.EmbeddingResponse{}, &errs.TransportError{Provider: "openai", Op: "CreateEmbedding", Err: err}
	}
	c.healthy = true

	vectors := make([][]float32, 0, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		vectors = append(vectors, vec)
	}

	return llm.EmbeddingResponse{
		Vectors: vectors,
		Model:   string(resp.Model),
		Usage: llm.Usage{
			PromptTokens: int(resp.Usage.PromptTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
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
func (c *Client) GetProviderType() string { return "openai" }

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

// mapFinishReason normalizes OpenAI's finish_reason values into the
// canonical FinishReason (spec §4.1).
func mapFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	case "tool_calls":
		return llm.FinishToolCalls
	default:
		return llm.FinishUnknown
	}
}
