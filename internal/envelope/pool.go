package envelope

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/llm"
)

const (
	defaultMaxConnections = 10
	defaultMaxIdleTime    = 5 * time.Minute
	defaultAcquireTimeout = 10 * time.Second
)

// poolEntry is one Connection Pool row (spec §4.2 Connection Pool).
type poolEntry struct {
	provider   llm.Provider
	createdAt  time.Time
	lastUsedAt time.Time
	isHealthy  bool
	usageCount int
}

// Factory builds a fresh Provider for a given config hash the first time
// the pool needs one.
type Factory func(ctx context.Context) (llm.Provider, error)

// ConnectionPool pools Provider instances keyed by (providerType,
// configHash) (spec §4.2 Connection Pool).
type ConnectionPool struct {
	mu             sync.Mutex
	entries        map[string][]*poolEntry
	maxConnections int
	maxIdleTime    time.Duration
	acquireTimeout time.Duration

	stopSweep chan struct{}
}

// PoolOptions configures a ConnectionPool; zero values take spec defaults.
type PoolOptions struct {
	MaxConnections int
	MaxIdleTime    time.Duration
	AcquireTimeout time.Duration
}

// NewConnectionPool builds a ConnectionPool and starts its health sweep.
func NewConnectionPool(opts PoolOptions) *ConnectionPool {
	maxConn := opts.MaxConnections
	if maxConn <= 0 {
		maxConn = defaultMaxConnections
	}
	maxIdle := opts.MaxIdleTime
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleTime
	}
	timeout := opts.AcquireTimeout
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}

	p := &ConnectionPool{
		entries:        make(map[string][]*poolEntry),
		maxConnections: maxConn,
		maxIdleTime:    maxIdle,
		acquireTimeout: timeout,
		stopSweep:      make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// Close stops the health sweep and disposes every pooled provider.
func (p *ConnectionPool) Close(ctx context.Context) {
	close(p.stopSweep)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, list := range p.entries {
		for _, e := range list {
			_ = e.provider.Dispose(ctx)
		}
	}
	p.entries = make(map[string][]*poolEntry)
}

func (p *ConnectionPool) sweepLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep probes every pooled provider's health and disposes idle entries
// beyond maxIdleTime (spec §4.2: periodic health sweep + idle cleanup).
func (p *ConnectionPool) sweep() {
	ctx := context.Background()
	now := time.Now()

	p.mu.Lock()
	var toDispose []*poolEntry
	for key, list := range p.entries {
		kept := list[:0]
		for _, e := range list {
			if now.Sub(e.lastUsedAt) > p.maxIdleTime {
				toDispose = append(toDispose, e)
				continue
			}
			kept = append(kept, e)
		}
		p.entries[key] = kept
	}
	p.mu.Unlock()

	for _, e := range toDispose {
		_ = e.provider.Dispose(ctx)
	}

	p.mu.Lock()
	snapshot := make([]*poolEntry, 0)
	for _, list := range p.entries {
		snapshot = append(snapshot, list...)
	}
	p.mu.Unlock()
	for _, e := range snapshot {
		e.isHealthy = e.provider.IsHealthy(ctx)
	}
}

// ConfigHash deterministically folds apiKey-presence, baseUrl, model, and
// options into a pool key component (spec §4.2 Connection Pool).
func ConfigHash(apiKeyPresent bool, baseURL, model string, options map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "apiKey=%v|baseURL=%s|model=%s", apiKeyPresent, baseURL, model)
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, options[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Acquire returns the first healthy, non-expired pooled provider for
// (providerType, configHash), creating one via factory up to
// maxConnections, else blocking up to acquireTimeout polling for
// availability (spec §4.2 getConnection).
func (p *ConnectionPool) Acquire(ctx context.Context, providerType, configHash string, factory Factory) (llm.Provider, error) {
	key := providerType + ":" + configHash
	deadline := time.Now().Add(p.acquireTimeout)

	for {
		p.mu.Lock()
		for _, e := range p.entries[key] {
			if e.isHealthy && time.Since(e.lastUsedAt) <= p.maxIdleTime {
				e.lastUsedAt = time.Now()
				e.usageCount++
				provider := e.provider
				p.mu.Unlock()
				return provider, nil
			}
		}
		if len(p.entries[key]) < p.maxConnections {
			p.mu.Unlock()
			provider, err := factory(ctx)
			if err != nil {
				return nil, fmt.Errorf("envelope: pool: %w", err)
			}
			now := time.Now()
			entry := &poolEntry{provider: provider, createdAt: now, lastUsedAt: now, isHealthy: provider.IsHealthy(ctx), usageCount: 1}
			p.mu.Lock()
			p.entries[key] = append(p.entries[key], entry)
			p.mu.Unlock()
			return provider, nil
		}
		p.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("envelope: pool: %w: no healthy connection available for %s", errs.ErrTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Return bumps lastUsedAt for the entry wrapping provider (spec §4.2
// returnConnection).
func (p *ConnectionPool) Return(providerType, configHash string, provider llm.Provider) {
	key := providerType + ":" + configHash
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries[key] {
		if e.provider == provider {
			e.lastUsedAt = time.Now()
			return
		}
	}
}

// MarkUnhealthy flags the entry wrapping provider as unhealthy, so the
// next Acquire call skips it until the sweep re-probes it.
func (p *ConnectionPool) MarkUnhealthy(providerType, configHash string, provider llm.Provider) {
	key := providerType + ":" + configHash
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries[key] {
		if e.provider == provider {
			e.isHealthy = false
			return
		}
	}
}
