package envelope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memori-ai/memori/internal/llm"
)

type fakeProvider struct {
	healthy bool
	id      int
}

func (f *fakeProvider) Initialize(ctx context.Context) error { return nil }
func (f *fakeProvider) Dispose(ctx context.Context) error     { return nil }
func (f *fakeProvider) CreateChatCompletion(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	return llm.ChatResponse{Content: "ok"}, nil
}
func (f *fakeProvider) CreateEmbedding(ctx context.Context, params llm.EmbeddingParams) (llm.EmbeddingResponse, error) {
	return llm.EmbeddingResponse{}, nil
}
func (f *fakeProvider) IsHealthy(ctx context.Context) bool { return f.healthy }
func (f *fakeProvider) GetDiagnostics() llm.Diagnostics    { return llm.Diagnostics{} }
func (f *fakeProvider) GetModel() string                  { return "fake" }
func (f *fakeProvider) GetProviderType() string            { return "fake" }

func TestConnectionPool_AcquireReusesHealthyEntry(t *testing.T) {
	p := NewConnectionPool(PoolOptions{MaxConnections: 2})
	t.Cleanup(func() { p.Close(context.Background()) })

	calls := 0
	factory := func(ctx context.Context) (llm.Provider, error) {
		calls++
		return &fakeProvider{healthy: true, id: calls}, nil
	}

	first, err := p.Acquire(context.Background(), "openai", "hash", factory)
	require.NoError(t, err)
	second, err := p.Acquire(context.Background(), "openai", "hash", factory)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestConnectionPool_CreatesUpToMaxConnections(t *testing.T) {
	p := NewConnectionPool(PoolOptions{MaxConnections: 2})
	t.Cleanup(func() { p.Close(context.Background()) })

	calls := 0
	factory := func(ctx context.Context) (llm.Provider, error) {
		calls++
		return &fakeProvider{healthy: false}, nil // unhealthy so each Acquire creates anew
	}

	_, err := p.Acquire(context.Background(), "openai", "hash", factory)
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "openai", "hash", factory)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestConfigHash_Deterministic(t *testing.T) {
	a := ConfigHash(true, "https://api.openai.com", "gpt-4o", map[string]string{"x": "1"})
	b := ConfigHash(true, "https://api.openai.com", "gpt-4o", map[string]string{"x": "1"})
	assert.Equal(t, a, b)

	c := ConfigHash(false, "https://api.openai.com", "gpt-4o", map[string]string{"x": "1"})
	assert.NotEqual(t, a, c)
}
