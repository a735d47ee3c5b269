// Package memori implements the Memori Controller (spec §4.7, C7): the
// enable/close lifecycle, per-conversation mode routing, and search
// delegation that sits between the Unified Façade (C8) and C3/C4/C5/C6.
package memori

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memori-ai/memori/internal/config"
	"github.com/memori-ai/memori/internal/conscious"
	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/extractor"
	"github.com/memori-ai/memori/internal/observability"
	"github.com/memori-ai/memori/internal/state"
	"github.com/memori-ai/memori/internal/storage"
)

// RecordOptions carries the optional per-call hints recordConversation
// accepts (spec §4.7 Contract: "recordConversation(user, ai, opts?)"),
// forwarded to C3's extraction prompt when extraction is part of the call
// (automatic mode only).
type RecordOptions struct {
	UserPreferences []string
	CurrentProjects []string
	RelevantSkills  []string
}

// Controller is the Memori Controller (C7).
type Controller struct {
	store     storage.Store
	states    *state.Manager
	extractor *extractor.Agent

	namespace string
	mode      config.ProcessingMode

	mu                 sync.Mutex
	enabled            bool
	backgroundInterval time.Duration
	conscious          *conscious.Agent
	loopCancel         context.CancelFunc
	asyncWG            sync.WaitGroup
}

// New builds a Controller over store/states for namespace, running in
// mode, with extractorAgent used for C3 calls (automatic mode's
// off-critical-path extraction, and conscious mode's deferred extraction
// once Enable wires it into the conscious loop). extractorAgent may be
// nil for manual/none modes that never invoke C3.
func New(store storage.Store, states *state.Manager, extractorAgent *extractor.Agent, namespace string, mode config.ProcessingMode, backgroundInterval time.Duration) *Controller {
	return &Controller{
		store:              store,
		states:             states,
		extractor:          extractorAgent,
		namespace:          namespace,
		mode:               mode,
		backgroundInterval: backgroundInterval,
	}
}

// Enable runs spec §4.7's Enable sequence: initialise schema → if
// conscious, construct C6 and run one eager run_conscious_ingest pass
// (failures logged, do not abort enable) → start the background timer →
// mark enabled. A second call fails with ErrAlreadyEnabled.
func (c *Controller) Enable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return errs.ErrAlreadyEnabled
	}

	if err := c.store.Init(ctx); err != nil {
		return err
	}

	if c.mode == config.ModeConscious {
		c.startConsciousLocked(ctx, true)
	}

	c.enabled = true
	return nil
}

// startConsciousLocked constructs and starts the conscious agent. Callers
// must hold c.mu. When eagerIngest is set, one synchronous
// run_conscious_ingest pass runs before the background loop starts, per
// the Enable sequence; failures are logged, never fatal to enable.
func (c *Controller) startConsciousLocked(ctx context.Context, eagerIngest bool) {
	interval := c.backgroundInterval
	if interval <= 0 {
		interval = conscious.DefaultInterval
	}

	agent := conscious.New(c.store, c.states, c.namespace, interval)
	agent.SetExtractor(c.extractor)

	if eagerIngest {
		result := agent.RunIngestPass(ctx)
		if len(result.ErrorsLog) > 0 {
			observability.LoggerWithTrace(ctx).Warn().
				Int("failed", len(result.ErrorsLog)).
				Str("namespace", c.namespace).
				Msg("memori_enable_eager_ingest_had_failures")
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	agent.Start(loopCtx)

	c.conscious = agent
	c.loopCancel = cancel
}

// Close runs spec §4.7's Close sequence: stop background timer → close
// storage → flush. Idempotent: a subsequent call is a no-op.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return nil
	}
	c.enabled = false
	agent := c.conscious
	cancel := c.loopCancel
	c.conscious = nil
	c.loopCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if agent != nil {
		agent.Stop()
	}
	c.asyncWG.Wait()

	return c.store.Close()
}

// RecordConversation persists (user, ai) and routes it through the
// active mode (spec §4.7 Mode selection). Returns the new chatId.
func (c *Controller) RecordConversation(ctx context.Context, userInput, aiOutput string, opts RecordOptions) (string, error) {
	if !c.IsEnabled() {
		return "", errs.ErrNotEnabled
	}

	turn := storage.ChatTurn{
		ChatID:    uuid.NewString(),
		Namespace: c.namespace,
		UserInput: userInput,
		AIOutput:  aiOutput,
		Timestamp: time.Now(),
	}
	chatID, err := c.store.StoreChatTurn(ctx, turn)
	if err != nil {
		return "", err
	}
	turn.ChatID = chatID

	switch c.mode {
	case config.ModeAutomatic:
		c.asyncWG.Add(1)
		go c.extractAndStoreAsync(turn, opts)
	case config.ModeConscious:
		// Deliberately no C3 call here: the turn is picked up by C6's
		// loop via Store.UnprocessedChatTurns (spec §4.7, §4.6).
	}

	return chatID, nil
}

// extractAndStoreAsync is automatic mode's detached extraction task (spec
// §4.7: "the extraction and storeLongTermMemory happen as a detached
// task; errors are logged but never propagated to the caller"). It
// deliberately runs against context.Background rather than the caller's
// ctx, since the caller may have already returned by the time this runs.
func (c *Controller) extractAndStoreAsync(turn storage.ChatTurn, opts RecordOptions) {
	defer c.asyncWG.Done()
	ctx := context.Background()
	log := observability.LoggerWithTrace(ctx)

	if c.extractor == nil {
		log.Error().Str("chat_id", turn.ChatID).Msg("memori_automatic_ingest_no_extractor")
		return
	}

	rec := c.extractor.ProcessConversation(ctx, extractor.Input{
		ChatID:    turn.ChatID,
		UserInput: turn.UserInput,
		AIOutput:  turn.AIOutput,
		Context: extractor.Context{
			UserPreferences: opts.UserPreferences,
			CurrentProjects: opts.CurrentProjects,
			RelevantSkills:  opts.RelevantSkills,
		},
	})

	memoryID, err := c.store.StoreLongTermMemory(ctx, toStorageRecord(rec), turn.ChatID, c.namespace)
	if err != nil {
		log.Error().Err(err).Str("chat_id", turn.ChatID).Msg("memori_automatic_ingest_store_failed")
		return
	}
	if !c.states.Transition(memoryID, c.namespace, state.Processed, state.TransitionOpts{Reason: "automatic ingest", AgentID: "memori-controller"}) {
		log.Warn().Str("memory_id", memoryID).Msg("memori_automatic_ingest_state_seed_failed")
	}
}

// SearchMemories runs spec §4.5's ranked search scoped to this
// controller's namespace.
func (c *Controller) SearchMemories(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.MemoryRecord, error) {
	if !c.IsEnabled() {
		return nil, errs.ErrNotEnabled
	}
	opts.Namespace = c.namespace
	return c.store.SearchMemories(ctx, query, opts)
}

// Stats delegates to C5's statistics aggregation, scoped to this
// controller's namespace. Backs C8's getMemoryStatistics.
func (c *Controller) Stats(ctx context.Context) (storage.Stats, error) {
	if !c.IsEnabled() {
		return storage.Stats{}, errs.ErrNotEnabled
	}
	return c.store.GetDatabaseStats(ctx, c.namespace)
}

// CheckForConsciousContextUpdates runs one conscious-ingest pass on
// demand, outside the background cadence (spec §4.7 Contract). Fails
// with ErrWrongMode when the controller isn't running in conscious mode.
func (c *Controller) CheckForConsciousContextUpdates(ctx context.Context) (conscious.IngestResult, error) {
	c.mu.Lock()
	agent := c.conscious
	c.mu.Unlock()
	if agent == nil {
		return conscious.IngestResult{}, errs.ErrWrongMode
	}
	return agent.RunIngestPass(ctx), nil
}

// InitializeConsciousContext runs the same eager ingest pass Enable
// performs once at startup (spec §4.7 Contract / Enable sequence),
// exposed for callers that want to force a re-seed of short-term
// context without waiting for the next background tick.
func (c *Controller) InitializeConsciousContext(ctx context.Context) (conscious.IngestResult, error) {
	return c.CheckForConsciousContextUpdates(ctx)
}

// SetBackgroundUpdateInterval changes the conscious loop's cadence (spec
// §4.7 Contract: "setBackgroundUpdateInterval(ms)"). The interval is always
// stored for the next loop start; when a conscious agent exists, its loop
// is stopped and restarted at the new cadence right away.
func (c *Controller) SetBackgroundUpdateInterval(ms int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backgroundInterval = time.Duration(ms) * time.Millisecond
	if c.conscious == nil {
		return
	}

	if c.loopCancel != nil {
		c.loopCancel()
	}
	c.conscious.Stop()
	c.startConsciousLocked(context.Background(), false)
}

// IsEnabled reports whether Enable has succeeded and Close has not yet
// been called.
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// IsConsciousModeEnabled reports whether this controller runs in
// conscious mode.
func (c *Controller) IsConsciousModeEnabled() bool {
	return c.mode == config.ModeConscious
}

// IsAutoModeEnabled reports whether this controller runs in automatic
// mode.
func (c *Controller) IsAutoModeEnabled() bool {
	return c.mode == config.ModeAutomatic
}

// IsBackgroundMonitoringActive reports whether the conscious background
// loop is currently running.
func (c *Controller) IsBackgroundMonitoringActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conscious != nil
}
