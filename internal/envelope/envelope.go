package envelope

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/memori-ai/memori/internal/llm"
	"github.com/memori-ai/memori/internal/observability"
)

var (
	instrumentOnce    sync.Once
	promptCounter     otelmetric.Int64Counter
	completionCounter otelmetric.Int64Counter
)

func ensureInstruments() {
	instrumentOnce.Do(func() {
		m := otel.Meter("internal/envelope")
		promptCounter, _ = m.Int64Counter("memori.envelope.prompt_tokens", otelmetric.WithDescription("Cumulative prompt tokens by provider"))
		completionCounter, _ = m.Int64Counter("memori.envelope.completion_tokens", otelmetric.WithDescription("Cumulative completion tokens by provider"))
	})
}

// Options toggles each of the Performance Envelope's three orthogonal
// features (spec §4.2: each independently toggleable).
type Options struct {
	EnableCache  bool
	EnablePool   bool
	EnableHealth bool

	Cache  CacheOptions
	Pool   PoolOptions
	Health HealthOptions
}

// Envelope wraps a C1 Provider with the Performance Envelope's request
// cache, connection pool, and health monitor (spec §4.2).
type Envelope struct {
	cache  *RequestCache
	pool   *ConnectionPool
	health *HealthMonitor

	providerType string
	configHash   string
	factory      Factory
}

// New builds an Envelope around providerType/configHash, using factory to
// create pooled providers on demand.
func New(providerType, configHash string, factory Factory, opts Options) *Envelope {
	e := &Envelope{providerType: providerType, configHash: configHash, factory: factory}
	if opts.EnableCache {
		e.cache = NewRequestCache(opts.Cache)
	}
	if opts.EnablePool {
		e.pool = NewConnectionPool(opts.Pool)
	}
	if opts.EnableHealth {
		e.health = NewHealthMonitor(opts.Health)
	}
	return e
}

// Close releases the cache, pool, and health monitor.
func (e *Envelope) Close(ctx context.Context) {
	if e.cache != nil {
		e.cache.Close()
	}
	if e.pool != nil {
		e.pool.Close(ctx)
	}
	if e.health != nil {
		e.health.Close()
	}
}

func (e *Envelope) healthKey() string {
	return e.providerType + ":" + e.configHash
}

// acquire resolves a transport for this call: pooled when enabled,
// otherwise a direct factory call (spec §4.2 Composition step 2).
func (e *Envelope) acquire(ctx context.Context) (llm.Provider, error) {
	if e.pool == nil {
		return e.factory(ctx)
	}
	p, err := e.pool.Acquire(ctx, e.providerType, e.configHash, e.factory)
	if err != nil {
		return nil, err
	}
	if e.health != nil {
		e.health.Register(e.healthKey(), p)
	}
	return p, nil
}

func (e *Envelope) release(p llm.Provider) {
	if e.pool != nil {
		e.pool.Return(e.providerType, e.configHash, p)
	}
}

func (e *Envelope) markUnhealthy(p llm.Provider) {
	if e.pool != nil {
		e.pool.MarkUnhealthy(e.providerType, e.configHash, p)
	}
}

// Chat runs the full Composition sequence for a chat completion: cache
// hit → pooled transport → cache populate → health record (spec §4.2
// Composition). Calls marked with llm.WithInternalCall skip the cache.
func (e *Envelope) Chat(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	key := ChatKey(params)
	useCache := e.cache != nil && !llm.IsInternalCall(ctx)
	if useCache {
		if resp, ok := e.cache.GetChat(ctx, key); ok {
			return resp, nil
		}
	}

	ctx, span := otel.Tracer("internal/envelope").Start(ctx, "Envelope.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", e.providerType), attribute.Int("llm.messages", len(params.Messages)))

	provider, err := e.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		return llm.ChatResponse{}, err
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	resp, err := provider.CreateChatCompletion(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		e.markUnhealthy(provider)
		if e.health != nil {
			e.health.RecordFailure(e.healthKey(), dur, err.Error())
		}
		log.Error().Err(err).Str("provider", e.providerType).Dur("duration", dur).Msg("envelope_chat_error")
		return llm.ChatResponse{}, err
	}
	e.release(provider)
	if e.health != nil {
		e.health.RecordSuccess(e.healthKey(), dur)
	}
	if useCache {
		e.cache.PutChat(ctx, key, resp)
	}

	ensureInstruments()
	if promptCounter != nil {
		promptCounter.Add(ctx, int64(resp.Usage.PromptTokens), otelmetric.WithAttributes(attribute.String("llm.provider", e.providerType)))
	}
	if completionCounter != nil {
		completionCounter.Add(ctx, int64(resp.Usage.CompletionTokens), otelmetric.WithAttributes(attribute.String("llm.provider", e.providerType)))
	}
	span.SetAttributes(attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens), attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens))

	return resp, nil
}

// Embed runs the Composition sequence for an embedding request.
func (e *Envelope) Embed(ctx context.Context, params llm.EmbeddingParams) (llm.EmbeddingResponse, error) {
	key := EmbeddingKey(params)
	if e.cache != nil {
		if resp, ok := e.cache.GetEmbedding(ctx, key); ok {
			return resp, nil
		}
	}

	ctx, span := otel.Tracer("internal/envelope").Start(ctx, "Envelope.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", e.providerType), attribute.Int("llm.inputs", len(params.Input)))

	provider, err := e.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		return llm.EmbeddingResponse{}, err
	}

	start := time.Now()
	resp, err := provider.CreateEmbedding(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		e.markUnhealthy(provider)
		if e.health != nil {
			e.health.RecordFailure(e.healthKey(), dur, err.Error())
		}
		return llm.EmbeddingResponse{}, err
	}
	e.release(provider)
	if e.health != nil {
		e.health.RecordSuccess(e.healthKey(), dur)
	}
	if e.cache != nil {
		e.cache.PutEmbedding(ctx, key, resp)
	}
	return resp, nil
}

// IsHealthy reports the health monitor's current verdict for this
// envelope's provider, or true when health monitoring is disabled.
func (e *Envelope) IsHealthy() bool {
	if e.health == nil {
		return true
	}
	rec, ok := e.health.Snapshot(e.healthKey())
	if !ok {
		return true
	}
	return rec.IsHealthy
}
