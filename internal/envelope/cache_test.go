package envelope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memori-ai/memori/internal/llm"
)

func TestRequestCache_ChatHitAndMiss(t *testing.T) {
	c := NewRequestCache(CacheOptions{})
	t.Cleanup(c.Close)

	params := llm.ChatParams{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, Model: "m"}
	key := ChatKey(params)

	_, ok := c.GetChat(context.Background(), key)
	assert.False(t, ok)

	c.PutChat(context.Background(), key, llm.ChatResponse{Content: "hello"})
	resp, ok := c.GetChat(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "hello", resp.Content)
}

func TestRequestCache_ExpiresLazily(t *testing.T) {
	c := NewRequestCache(CacheOptions{})
	t.Cleanup(c.Close)

	key := "k"
	c.mu.Lock()
	c.entries[key] = &cacheEntry{response: []byte(`{"content":"x"}`), timestamp: time.Now().Add(-1 * time.Hour), ttl: time.Minute}
	c.mu.Unlock()

	_, ok := c.GetChat(context.Background(), key)
	assert.False(t, ok)
}

func TestRequestCache_EvictsLRUBeyondMaxSize(t *testing.T) {
	c := NewRequestCache(CacheOptions{MaxSizeMB: 0})
	t.Cleanup(c.Close)
	c.maxSizeMB = 1 // shrink to force eviction with tiny payloads

	for i := 0; i < 5; i++ {
		params := llm.ChatParams{Model: "m", Messages: []llm.Message{{Role: llm.RoleUser, Content: string(rune('a' + i))}}}
		c.PutChat(context.Background(), ChatKey(params), llm.ChatResponse{Content: largePayload()})
		time.Sleep(time.Millisecond)
	}

	c.mu.Lock()
	remaining := len(c.entries)
	c.mu.Unlock()
	assert.Less(t, remaining, 5)
}

func largePayload() string {
	b := make([]byte, 512*1024)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

func TestChatKey_DeterministicAndContentSensitive(t *testing.T) {
	a := llm.ChatParams{Model: "m", Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}
	b := llm.ChatParams{Model: "m", Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}
	assert.Equal(t, ChatKey(a), ChatKey(b))

	c := llm.ChatParams{Model: "m", Messages: []llm.Message{{Role: llm.RoleUser, Content: "bye"}}}
	assert.NotEqual(t, ChatKey(a), ChatKey(c))
}

func TestEmbeddingKey_Deterministic(t *testing.T) {
	a := llm.EmbeddingParams{Input: []string{"a", "b"}, Model: "m"}
	b := llm.EmbeddingParams{Input: []string{"a", "b"}, Model: "m"}
	assert.Equal(t, EmbeddingKey(a), EmbeddingKey(b))
}
