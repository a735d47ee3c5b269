package envelope

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memori-ai/memori/internal/llm"
)

type countingProvider struct {
	fakeProvider
	chatCalls int
}

func (c *countingProvider) CreateChatCompletion(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	c.chatCalls++
	return llm.ChatResponse{Content: "response", Usage: llm.Usage{PromptTokens: 3, CompletionTokens: 2}}, nil
}

func TestEnvelope_Chat_PopulatesCacheOnMiss(t *testing.T) {
	p := &countingProvider{fakeProvider: fakeProvider{healthy: true}}
	e := New("fake", "hash", func(ctx context.Context) (llm.Provider, error) { return p, nil }, Options{EnableCache: true})
	t.Cleanup(func() { e.Close(context.Background()) })

	params := llm.ChatParams{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}

	resp1, err := e.Chat(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "response", resp1.Content)

	resp2, err := e.Chat(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "response", resp2.Content)

	assert.Equal(t, 1, p.chatCalls, "second call should be served from cache")
}

type failingProvider struct {
	fakeProvider
}

func (f *failingProvider) CreateChatCompletion(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	return llm.ChatResponse{}, errors.New("boom")
}

func TestEnvelope_Chat_RecordsHealthOnFailure(t *testing.T) {
	p := &failingProvider{fakeProvider: fakeProvider{healthy: true}}
	e := New("fake", "hash", func(ctx context.Context) (llm.Provider, error) { return p, nil }, Options{
		EnablePool:   true,
		EnableHealth: true,
		Health:       HealthOptions{FailureThreshold: 1},
	})
	t.Cleanup(func() { e.Close(context.Background()) })

	_, err := e.Chat(context.Background(), llm.ChatParams{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.False(t, e.IsHealthy())
}

func TestEnvelope_IsHealthy_DefaultsTrueWithoutMonitor(t *testing.T) {
	e := New("fake", "hash", func(ctx context.Context) (llm.Provider, error) { return &fakeProvider{healthy: true}, nil }, Options{})
	t.Cleanup(func() { e.Close(context.Background()) })
	assert.True(t, e.IsHealthy())
}
