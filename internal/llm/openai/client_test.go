package openai

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/llm"
)

func TestMapFinishReason(t *testing.T) {
	cases := map[string]llm.FinishReason{
		"stop":       llm.FinishStop,
		"length":     llm.FinishLength,
		"tool_calls": llm.FinishToolCalls,
		"weird":      llm.FinishUnknown,
	}
	for reason, want := range cases {
		assert.Equal(t, want, mapFinishReason(reason))
	}
}

func TestCreateChatCompletion_RejectsEmptyMessages(t *testing.T) {
	client := New(Config{APIKey: "sk-test"}, http.DefaultClient)
	_, err := client.CreateChatCompletion(context.Background(), llm.ChatParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestCreateEmbedding_RejectsEmptyInput(t *testing.T) {
	client := New(Config{APIKey: "sk-test"}, http.DefaultClient)
	_, err := client.CreateEmbedding(context.Background(), llm.EmbeddingParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestInitialize_RequiresAPIKeyAgainstDefaultEndpoint(t *testing.T) {
	client := New(Config{}, http.DefaultClient)
	err := client.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestInitialize_AllowsNoKeyAgainstOverriddenBaseURL(t *testing.T) {
	client := New(Config{BaseURL: "http://localhost:8080/v1"}, http.DefaultClient)
	require.NoError(t, client.Initialize(context.Background()))
	assert.True(t, client.IsHealthy(context.Background()))
}

func TestGetDiagnostics(t *testing.T) {
	client := New(Config{APIKey: "sk-test", Model: "gpt-4o-mini"}, http.DefaultClient)
	d := client.GetDiagnostics()
	assert.Equal(t, "openai", d.ProviderType)
	assert.Equal(t, "gpt-4o-mini", d.Model)
}
