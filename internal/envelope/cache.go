// Package envelope implements the Performance Envelope (spec §4.2, C2):
// a request cache, a connection pool, and a health monitor wrapped around
// a C1 Provider, composed as cache→pool→health on every call.
package envelope

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/memori-ai/memori/internal/llm"
)

const (
	defaultChatTTL      = 5 * time.Minute
	defaultEmbeddingTTL = 1 * time.Hour
	defaultMaxTTL       = 1 * time.Hour
	defaultMaxSizeMB    = 64
)

// cacheEntry is one Request Cache row (spec §4.2 Request Cache).
type cacheEntry struct {
	response     []byte
	isEmbedding  bool
	timestamp    time.Time
	ttl          time.Duration
	size         int
	accessCount  int
	lastAccessed time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.timestamp) > e.ttl
}

// RequestCache is an in-process LRU cache of canonicalised requests, with
// an optional Redis mirror so multiple façade instances can share hits
// (spec §4.2: TTL defaults 5 min chat / 1 h embedding, size-bounded LRU
// eviction, lazy + periodic expiry).
type RequestCache struct {
	mu          sync.Mutex
	entries     map[string]*cacheEntry
	currentSize int
	maxSizeMB   int
	maxTTL      time.Duration

	redis     redis.UniversalClient
	keyPrefix string

	stopCleanup chan struct{}
}

// CacheOptions configures a RequestCache. A nil Redis disables the
// distributed mirror; MaxSizeMB/MaxTTL default when zero.
type CacheOptions struct {
	Redis     redis.UniversalClient
	KeyPrefix string
	MaxSizeMB int
	MaxTTL    time.Duration
}

// NewRequestCache builds a RequestCache and starts its periodic cleanup
// sweep.
func NewRequestCache(opts CacheOptions) *RequestCache {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	maxTTL := opts.MaxTTL
	if maxTTL <= 0 {
		maxTTL = defaultMaxTTL
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "memori:cache:"
	}

	c := &RequestCache{
		entries:     make(map[string]*cacheEntry),
		maxSizeMB:   maxSize,
		maxTTL:      maxTTL,
		redis:       opts.Redis,
		keyPrefix:   prefix,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Close stops the periodic cleanup sweep.
func (c *RequestCache) Close() {
	close(c.stopCleanup)
}

func (c *RequestCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *RequestCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.expired(now) {
			c.currentSize -= e.size
			delete(c.entries, k)
		}
	}
}

// ChatKey canonicalises a chat request to a deterministic cache key
// (spec §4.2: messages array with only role/content, model, temperature,
// max_tokens, top_p).
func ChatKey(params llm.ChatParams) string {
	type canonMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	msgs := make([]canonMsg, len(params.Messages))
	for i, m := range params.Messages {
		msgs[i] = canonMsg{Role: string(m.Role), Content: m.Content}
	}
	return hashJSON(struct {
		Kind        string     `json:"kind"`
		Messages    []canonMsg `json:"messages"`
		Model       string     `json:"model"`
		Temperature float64    `json:"temperature"`
		MaxTokens   int        `json:"max_tokens"`
		TopP        float64    `json:"top_p"`
	}{"chat", msgs, params.Model, params.Temperature, params.MaxTokens, params.TopP})
}

// EmbeddingKey canonicalises an embedding request to a deterministic cache
// key (spec §4.2: input, model, encoding format, dimensions).
func EmbeddingKey(params llm.EmbeddingParams) string {
	input := make([]string, len(params.Input))
	copy(input, params.Input)
	return hashJSON(struct {
		Kind       string   `json:"kind"`
		Input      []string `json:"input"`
		Model      string   `json:"model"`
		Encoding   string   `json:"encoding_format"`
		Dimensions int      `json:"dimensions"`
	}{"embedding", input, params.Model, params.EncodingFormat, params.Dimensions})
}

func hashJSON(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// GetChat returns a cached, non-expired ChatResponse for key, if present.
func (c *RequestCache) GetChat(ctx context.Context, key string) (llm.ChatResponse, bool) {
	var resp llm.ChatResponse
	raw, ok := c.get(ctx, key)
	if !ok {
		return resp, false
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, false
	}
	return resp, true
}

// PutChat stores resp under key with the default chat TTL.
func (c *RequestCache) PutChat(ctx context.Context, key string, resp llm.ChatResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.put(ctx, key, b, defaultChatTTL, false)
}

// GetEmbedding returns a cached, non-expired EmbeddingResponse for key, if
// present.
func (c *RequestCache) GetEmbedding(ctx context.Context, key string) (llm.EmbeddingResponse, bool) {
	var resp llm.EmbeddingResponse
	raw, ok := c.get(ctx, key)
	if !ok {
		return resp, false
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, false
	}
	return resp, true
}

// PutEmbedding stores resp under key with the default embedding TTL.
func (c *RequestCache) PutEmbedding(ctx context.Context, key string, resp llm.EmbeddingResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.put(ctx, key, b, defaultEmbeddingTTL, true)
}

func (c *RequestCache) get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		now := time.Now()
		if e.expired(now) {
			c.currentSize -= e.size
			delete(c.entries, key)
			ok = false
		} else {
			e.accessCount++
			e.lastAccessed = now
		}
	}
	c.mu.Unlock()
	if ok {
		return e.response, true
	}

	if c.redis == nil {
		return nil, false
	}
	val, err := c.redis.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("envelope_cache_redis_get_error")
		}
		return nil, false
	}
	return val, true
}

func (c *RequestCache) put(ctx context.Context, key string, response []byte, ttl time.Duration, isEmbedding bool) {
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	now := time.Now()
	entry := &cacheEntry{
		response:     response,
		isEmbedding:  isEmbedding,
		timestamp:    now,
		ttl:          ttl,
		size:         len(response),
		accessCount:  0,
		lastAccessed: now,
	}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		c.currentSize -= old.size
	}
	c.entries[key] = entry
	c.currentSize += entry.size
	c.evictLocked()
	c.mu.Unlock()

	if c.redis != nil {
		if err := c.redis.Set(ctx, c.keyPrefix+key, response, ttl).Err(); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("envelope_cache_redis_set_error")
		}
	}
}

// evictLocked removes least-recently-used entries until currentSize fits
// within maxSizeMB. Caller must hold c.mu.
func (c *RequestCache) evictLocked() {
	maxBytes := c.maxSizeMB * 1024 * 1024
	if c.currentSize <= maxBytes {
		return
	}
	type kv struct {
		key string
		at  time.Time
	}
	ordered := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		ordered = append(ordered, kv{k, e.lastAccessed})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].at.Before(ordered[j].at) })

	for _, item := range ordered {
		if c.currentSize <= maxBytes {
			break
		}
		e := c.entries[item.key]
		c.currentSize -= e.size
		delete(c.entries, item.key)
	}
}
