// Package llm defines the Provider Transport contract (spec §4.1, C1): a
// single interface implemented by three concrete wire-format transports
// (OpenAI-compatible, Anthropic-native, local/Ollama-native).
package llm

import "context"

// Role is the canonical set of inbound/outbound message roles (spec §4.1
// Message role handling).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message is one turn in a chat request, in the transport-agnostic shape
// every Provider accepts.
type Message struct {
	Role    Role
	Content string
}

// FinishReason normalizes each backend's stop signal (spec §4.1 Anthropic
// stop-reason mapping; OpenAI's finish_reason needs no translation beyond
// being represented in this same type).
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishUnknown   FinishReason = ""
)

// Usage reports token accounting for a single call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatParams is the canonical request shape a Provider.CreateChatCompletion
// accepts. Only Messages/Model are required; the rest default per provider.
type ChatParams struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// ChatResponse is the canonical response shape every Provider returns,
// regardless of wire format.
type ChatResponse struct {
	Content      string
	FinishReason FinishReason
	Model        string
	Usage        Usage
}

// EmbeddingParams is the canonical embedding request shape.
type EmbeddingParams struct {
	Input          []string
	Model          string
	EncodingFormat string
	Dimensions     int
}

// EmbeddingResponse is the canonical embedding response shape.
type EmbeddingResponse struct {
	Vectors []([]float32)
	Model   string
	Usage   Usage
}

// Diagnostics is a snapshot of a provider's operational state, returned by
// GetDiagnostics for health/debug surfaces.
type Diagnostics struct {
	ProviderType string
	Model        string
	Healthy      bool
	BaseURL      string
}

// Provider is the contract every concrete transport (C1) implements. All
// methods are idempotent from the caller's perspective; retries are the
// caller's concern (spec §4.1).
type Provider interface {
	Initialize(ctx context.Context) error
	Dispose(ctx context.Context) error

	CreateChatCompletion(ctx context.Context, params ChatParams) (ChatResponse, error)
	CreateEmbedding(ctx context.Context, params EmbeddingParams) (EmbeddingResponse, error)

	IsHealthy(ctx context.Context) bool
	GetDiagnostics() Diagnostics
	GetModel() string
	GetProviderType() string
}

// internalCallKey is the context key used to mark a provider call as
// originating from within the extractor (C3) itself, so the
// memory-recording hook and the request cache can both be bypassed for it
// (spec §4.2 Open question, §5 Recursion guard, §9).
type internalCallKey struct{}

// WithInternalCall marks ctx so that downstream envelope/controller code
// knows this call must not re-enter memory recording or request caching.
func WithInternalCall(ctx context.Context) context.Context {
	return context.WithValue(ctx, internalCallKey{}, true)
}

// IsInternalCall reports whether ctx was marked by WithInternalCall.
func IsInternalCall(ctx context.Context) bool {
	v, _ := ctx.Value(internalCallKey{}).(bool)
	return v
}
