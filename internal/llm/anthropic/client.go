// Package anthropic implements the Anthropic-native Provider transport
// (spec §4.1, C1): system messages travel in a top-level system field,
// responses are built by concatenating text content blocks, and embeddings
// are unsupported.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/llm"
	"github.com/memori-ai/memori/internal/observability"
)

const defaultMaxTokens int64 = 1024

// Client is the Anthropic-native C1 transport.
type Client struct {
	sdk     anthropicsdk.Client
	model   string
	baseURL string
	apiKey  string
	healthy bool
}

// Config is the subset of facade configuration this transport needs.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// New builds an Anthropic transport. It does not perform network I/O.
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
		model = string(anthropicsdk.ModelClaude3_7SonnetLatest)
	}

	return &Client{
		sdk:     anthropicsdk.NewClient(opts...),
		model:   model,
		baseURL: base,
		apiKey:  cfg.APIKey,
	}
}

// Initialize checks that an API key is configured and marks the transport
// healthy. It sends no request to the API.
func (c *Client) Initialize(ctx context.Context) error {
	if strings.TrimSpace(c.apiKey) == "" {
		return fmt.Errorf("anthropic: %w: API key required", errs.ErrConfiguration)
	}
	c.healthy = true
	return nil
}

// Dispose releases resources. The Anthropic SDK owns no long-lived
// connections beyond its http.Client, which the caller owns.
func (c *Client) Dispose(ctx context.Context) error {
	c.healthy = false
	return nil
}

// CreateChatCompletion extracts system-role messages into a top-level
// system field, sends the remainder as the conversation, and concatenates
// the response's text content blocks back into a single string (spec
// §4.1).
func (c *Client) CreateChatCompletion(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	if llm.IsInternalCall(ctx) {
		ctx = llm.WithInternalCall(ctx)
	}

	system, msgs, err := adaptMessages(params.Messages)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("anthropic: %w", err)
	}
	if len(msgs) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("anthropic: %w: at least one non-system message required", errs.ErrInvalidRequest)
	}

	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = c.model
	}

	maxTokens := defaultMaxTokens
	if params.MaxTokens > 0 {
		maxTokens = int64(params.MaxTokens)
	}

	reqParams := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		reqParams.System = system
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, reqParams)
	dur := time.Since(start)
	if err != nil {
		c.healthy = false
		log.Error().Err(err).Str("model", model).Dur("duration", dur).Msg("anthropic_chat_error")
		return llm.ChatResponse{}, &errs.TransportError{Provider: "anthropic", Op: "CreateChatCompletion", Err: err}
	}
	c.healthy = true

	content := contentFromResponse(resp)
	return llm.ChatResponse{
		Content:      content,
		FinishReason: mapStopReason(resp.StopReason),
		Model:        string(resp.Model),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// CreateEmbedding is unsupported: Anthropic has no embeddings endpoint
// (spec §4.1).
func (c *Client) CreateEmbedding(ctx context.Context, params llm.EmbeddingParams) (llm.EmbeddingResponse, error) {
	return llm.EmbeddingResponse{}, fmt.Errorf("anthropic: %w: embeddings", errs.ErrUnsupported)
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
func (c *Client) GetProviderType() string { return "anthropic" }

// adaptMessages splits msgs into Anthropic's top-level system blocks and
// the conversation proper. System messages never interleave with the
// conversation on the wire (spec §4.1).
func adaptMessages(msgs []llm.Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam, error) {
	if len(msgs) == 0 {
		return nil, nil, fmt.Errorf("messages required")
	}
	var system []anthropicsdk.TextBlockParam
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		text := strings.TrimSpace(m.Content)
		switch m.Role {
		case llm.RoleSystem:
			if text != "" {
				system = append(system, anthropicsdk.TextBlockParam{Text: m.Content})
			}
		case llm.RoleUser:
			if text != "" {
				out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
			}
		case llm.RoleAssistant:
			if text != "" {
				out = append(out, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
			}
		default:
			return nil, nil, fmt.Errorf("unsupported role for anthropic provider: %s", m.Role)
		}
	}
	return system, out, nil
}

// contentFromResponse concatenates every text content block in resp (spec
// §4.1: non-text blocks, e.g. thinking/tool-use, are not part of this
// non-streaming, tool-less transport's contract and are ignored).
func contentFromResponse(resp *anthropicsdk.Message) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if v, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			sb.WriteString(v.Text)
		}
	}
	return sb.String()
}

// mapStopReason translates Anthropic's stop_reason into the canonical
// FinishReason (spec §4.1 stop-reason mapping table).
func mapStopReason(reason anthropicsdk.StopReason) llm.FinishReason {
	switch reason {
	case anthropicsdk.StopReasonEndTurn, anthropicsdk.StopReasonStopSequence:
		return llm.FinishStop
	case anthropicsdk.StopReasonMaxTokens:
		return llm.FinishLength
	case anthropicsdk.StopReasonToolUse:
		return llm.FinishToolCalls
	default:
		return llm.FinishUnknown
	}
}
