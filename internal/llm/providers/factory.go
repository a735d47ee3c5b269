// Package providers is the enum-keyed C1 transport factory (spec §9 Design
// Notes: a static switch replaces a dynamic/reflection-based registry).
package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/memori-ai/memori/internal/llm"
	"github.com/memori-ai/memori/internal/llm/anthropic"
	"github.com/memori-ai/memori/internal/llm/local"
	"github.com/memori-ai/memori/internal/llm/openai"
)

// Kind is the closed set of provider transports this factory builds.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindLocal     Kind = "ollama-local"
)

// Params collects the fields any transport's Config needs; only the fields
// relevant to the selected Kind are consulted.
type Params struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Build constructs the llm.Provider for kind.
func Build(kind Kind, params Params, httpClient *http.Client) (llm.Provider, error) {
	switch kind {
	case "", KindOpenAI:
		return openai.New(openai.Config{APIKey: params.APIKey, Model: params.Model, BaseURL: params.BaseURL}, httpClient), nil
	case KindAnthropic:
		return anthropic.New(anthropic.Config{APIKey: params.APIKey, Model: params.Model, BaseURL: params.BaseURL}, httpClient), nil
	case KindLocal:
		return local.New(local.Config{Model: params.Model, BaseURL: params.BaseURL}, httpClient), nil
	default:
		return nil, fmt.Errorf("providers: unsupported provider kind: %s", kind)
	}
}

// Detect picks a Kind from an explicit name first, then the API-key prefix
// pattern, then falls back to OpenAI (spec §4.8 / §9 provider
// auto-detection: explicit > API-key-prefix-pattern > default-OpenAI).
func Detect(explicit string, apiKey string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(explicit))) {
	case KindOpenAI, KindAnthropic, KindLocal:
		return Kind(strings.ToLower(strings.TrimSpace(explicit)))
	}

	key := strings.TrimSpace(apiKey)
	switch {
	case strings.HasPrefix(key, "sk-ant-"):
		return KindAnthropic
	case key == "ollama-local":
		return KindLocal
	case strings.HasPrefix(key, "sk-") && len(key) > 20:
		return KindOpenAI
	default:
		return KindOpenAI
	}
}
