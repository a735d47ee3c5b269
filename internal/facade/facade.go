// Package facade implements the Unified Façade (spec §4.8, C8): the
// single constructor and programmatic surface that translates a minimal
// user config into the full C1–C7 wiring.
package facade

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memori-ai/memori/internal/config"
	"github.com/memori-ai/memori/internal/envelope"
	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/extractor"
	"github.com/memori-ai/memori/internal/llm"
	"github.com/memori-ai/memori/internal/llm/providers"
	"github.com/memori-ai/memori/internal/memori"
	"github.com/memori-ai/memori/internal/observability"
	"github.com/memori-ai/memori/internal/persistence/databases"
	"github.com/memori-ai/memori/internal/state"
	"github.com/memori-ai/memori/internal/storage"
)

// Memori is the Unified Façade: a single user-facing surface combining
// chat, memory recording, and search (spec §4.8).
type Memori struct {
	envelope   *envelope.Envelope
	controller *memori.Controller

	sessionID    string
	namespace    string
	mode         config.ProcessingMode
	providerType string
	model        string
}

// New builds every C1–C7 component from cfg and enables the controller
// (spec §4.8 / §4.7 Enable sequence). The returned *Memori is ready to
// use; callers must Close it when done.
func New(ctx context.Context, cfg config.Config) (*Memori, error) {
	kind := providers.Detect(cfg.Provider, cfg.APIKey)
	provider, err := providers.Build(kind, providers.Params{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL}, http.DefaultClient)
	if err != nil {
		return nil, err
	}
	if err := provider.Initialize(ctx); err != nil {
		return nil, err
	}

	envOpts := envelopeOptionsForMode(cfg.Mode)
	env := envelope.New(string(kind), envelope.ConfigHash(cfg.APIKey != "", cfg.BaseURL, provider.GetModel(), nil), func(context.Context) (llm.Provider, error) { return provider, nil }, envOpts)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	states := state.New()
	extractorAgent := extractor.New(chatterFunc(env.Chat), provider.GetModel())

	namespace := cfg.Namespace
	if strings.TrimSpace(namespace) == "" {
		namespace = "memoriai_" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	}

	ctrl := memori.New(store, states, extractorAgent, namespace, cfg.Mode, time.Duration(cfg.BackgroundUpdateIntervalMS)*time.Millisecond)
	if err := ctrl.Enable(ctx); err != nil {
		env.Close(ctx)
		return nil, err
	}

	return &Memori{
		envelope:     env,
		controller:   ctrl,
		sessionID:    uuid.NewString(),
		namespace:    namespace,
		mode:         cfg.Mode,
		providerType: string(kind),
		model:        provider.GetModel(),
	}, nil
}

// envelopeOptionsForMode implements spec §4.8's mode mapping: automatic
// enables caching+pooling+auto ingest; manual disables caching/pooling
// and ingestion; conscious enables caching+pooling, disables auto
// ingestion, enables the conscious loop (handled by the controller, not
// the envelope).
func envelopeOptionsForMode(mode config.ProcessingMode) envelope.Options {
	switch mode {
	case config.ModeManual, config.ModeNone:
		return envelope.Options{EnableCache: false, EnablePool: false, EnableHealth: true}
	default: // ModeAutomatic, ModeConscious
		return envelope.Options{EnableCache: true, EnablePool: true, EnableHealth: true}
	}
}

// buildStore resolves cfg.DatabaseURL to a Store implementation: a
// Postgres DSN connects through C5's Postgres backend, otherwise
// (empty, or a `file:` URL — no embedded-relational-database driver is
// available in this stack) falls back to the in-memory Store, mirroring
// the teacher's DSN-presence-gated backend resolution (cf.
// internal/persistence/databases/factory.go's "auto" backend case).
func buildStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return storage.NewMemoryStore(), nil
	}
	pool, err := databases.OpenPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return storage.NewPostgresStore(pool), nil
}

// chatterFunc adapts an *envelope.Envelope's Chat method to C3's Chatter
// interface without C3 needing to import the envelope package directly.
type chatterFunc func(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error)

func (f chatterFunc) CreateChatCompletion(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	return f(ctx, params)
}

// Chat calls the user-facing provider (via C2) and, in automatic mode,
// pipes (lastUserMessage, replyContent) to C7.recordConversation (spec
// §4.8).
func (m *Memori) Chat(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	if params.Model == "" {
		params.Model = m.model
	}
	resp, err := m.envelope.Chat(ctx, params)
	if err != nil {
		return resp, err
	}

	if m.mode == config.ModeAutomatic {
		if userMsg, ok := lastUserMessage(params.Messages); ok {
			if _, rcErr := m.controller.RecordConversation(ctx, userMsg, resp.Content, memori.RecordOptions{}); rcErr != nil {
				observability.LoggerWithTrace(ctx).Error().Err(rcErr).Msg("facade_chat_record_conversation_failed")
			}
		}
	}
	return resp, nil
}

func lastUserMessage(msgs []llm.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content, true
		}
	}
	return "", false
}

// CreateEmbeddings is a thin delegation to C2's embedding path (spec
// §4.8).
func (m *Memori) CreateEmbeddings(ctx context.Context, params llm.EmbeddingParams) (llm.EmbeddingResponse, error) {
	return m.envelope.Embed(ctx, params)
}

// SearchMemories is a thin delegation to C7.searchMemories (spec §4.8).
func (m *Memori) SearchMemories(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.MemoryRecord, error) {
	return m.controller.SearchMemories(ctx, query, opts)
}

// RecordConversation is manual-mode-only: it fails with ErrWrongMode
// when the instance runs in automatic mode (spec §4.8), since automatic
// mode already records every Chat call itself.
func (m *Memori) RecordConversation(ctx context.Context, userInput, aiOutput string, opts memori.RecordOptions) (string, error) {
	if m.mode == config.ModeAutomatic {
		return "", errs.ErrWrongMode
	}
	return m.controller.RecordConversation(ctx, userInput, aiOutput, opts)
}

// GetMemoryStatistics delegates to C5's statistics aggregation (spec §6
// Programmatic surface).
func (m *Memori) GetMemoryStatistics(ctx context.Context) (storage.Stats, error) {
	return m.controller.Stats(ctx)
}

// Close runs C7's close sequence and releases the envelope's cache,
// pool, and health monitor. Idempotent via the controller's own
// idempotent Close.
func (m *Memori) Close(ctx context.Context) error {
	err := m.controller.Close(ctx)
	m.envelope.Close(ctx)
	return err
}

// GetSessionID returns this instance's session id (spec §4.8: "a fresh
// UUID per instance").
func (m *Memori) GetSessionID() string { return m.sessionID }

// GetMode returns the active processing mode.
func (m *Memori) GetMode() config.ProcessingMode { return m.mode }

// GetProviderType returns the auto-detected or explicitly configured
// provider kind.
func (m *Memori) GetProviderType() string { return m.providerType }
