// Package conscious implements the Conscious Agent (spec §4.6, C6): the
// background scanner that discovers, promotes, and consolidates
// high-importance long-term records into the short-term working set.
package conscious

import (
	"context"
	"sync"
	"time"

	"github.com/memori-ai/memori/internal/extractor"
	"github.com/memori-ai/memori/internal/observability"
	"github.com/memori-ai/memori/internal/state"
	"github.com/memori-ai/memori/internal/storage"
)

// Extractor is the subset of *extractor.Agent this package depends on.
// Conscious-mode recording persists the raw turn and defers extraction
// to this loop (spec §4.7 Mode selection: "persist turn; do not invoke
// C3... Record is later picked up by C6's loop"); accepting this as an
// optional dependency keeps that deferred step inside the one loop that
// already owns namespace-scoped background scanning.
type Extractor interface {
	ProcessConversation(ctx context.Context, in extractor.Input) extractor.Record
}

// DefaultInterval is the background scan cadence (spec §4.6: "default
// 30s").
const DefaultInterval = 30 * time.Second

// Agent runs the background conscious-ingest loop and exposes the
// consolidation routine. Grounded in the pack's ticker-driven background
// loop convention (cf. internal/mcpclient/pool.go's sweep goroutine and
// this module's own envelope.pool/health sweepers).
type Agent struct {
	store     storage.Store
	states    *state.Manager
	extractor Extractor

	namespace string
	interval  time.Duration

	mu                 sync.Mutex
	processedMemoryIDs map[string]bool
	stop               chan struct{}
	wg                 sync.WaitGroup
	running            bool
}

// New builds a Conscious Agent over store/states for namespace, scanning
// every interval (DefaultInterval if zero or negative).
func New(store storage.Store, states *state.Manager, namespace string, interval time.Duration) *Agent {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Agent{
		store:              store,
		states:             states,
		namespace:          namespace,
		interval:           interval,
		processedMemoryIDs: make(map[string]bool),
	}
}

// SetExtractor attaches the deferred conscious-mode extraction dependency.
// Left unset, RunIngestPass skips straight to conscious-info scanning —
// the behaviour automatic/manual mode setups need, since they already
// invoke C3 eagerly at recordConversation time and have nothing queued
// for UnprocessedChatTurns to find.
func (a *Agent) SetExtractor(e Extractor) {
	a.extractor = e
}

// Start begins the background loop. It is a no-op if already running.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.stop = make(chan struct{})
	stop := a.stop

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				a.RunIngestPass(ctx)
			}
		}
	}()
}

// Stop halts the background loop and waits for the in-flight pass (if
// any) to finish.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stop)
	a.mu.Unlock()
	a.wg.Wait()
}

// IngestResult summarises one RunIngestPass call.
type IngestResult struct {
	TurnsExtracted   int
	ExtractionFailed int

	Scanned   int
	Promoted  int
	Failed    int
	ErrorsLog []string
}

// RunIngestPass executes spec §4.6's loop body once. It first runs the
// deferred conscious-mode extraction step (if an Extractor is attached),
// then discovers unprocessed conscious-info records and transitions each
// through PROCESSED→CONSCIOUS_PROCESSING→CONSCIOUS_PROCESSED, copying it
// into short-term storage along the way. This is also the
// "run_conscious_ingest" eager pass the Memori Controller's enable
// sequence invokes once (spec §4.7 Enable sequence).
func (a *Agent) RunIngestPass(ctx context.Context) IngestResult {
	log := observability.LoggerWithTrace(ctx)
	var result IngestResult

	a.runExtractionPass(ctx, &result)

	records, err := a.store.UnprocessedConsciousRecords(ctx, a.namespace)
	if err != nil {
		log.Error().Err(err).Str("namespace", a.namespace).Msg("conscious_ingest_scan_failed")
		return result
	}
	result.Scanned = len(records)

	for _, rec := range records {
		if a.hasProcessed(rec.ID) {
			continue
		}
		if err := a.processOne(ctx, rec); err != nil {
			result.Failed++
			result.ErrorsLog = append(result.ErrorsLog, rec.ID+": "+err.Error())
			log.Warn().Err(err).Str("memory_id", rec.ID).Msg("conscious_ingest_record_failed")
			continue
		}
		result.Promoted++
		a.markProcessed(rec.ID)
	}
	return result
}

// runExtractionPass finds ChatTurns with no MemoryRecord yet and runs
// them through C3, storing the result as a long-term memory seeded at
// PROCESSED (spec §4.5: "storeLongTermMemory implicitly initialises
// processing state to PROCESSED"). A no-op when no Extractor is attached.
func (a *Agent) runExtractionPass(ctx context.Context, result *IngestResult) {
	if a.extractor == nil {
		return
	}
	log := observability.LoggerWithTrace(ctx)

	turns, err := a.store.UnprocessedChatTurns(ctx, a.namespace)
	if err != nil {
		log.Error().Err(err).Str("namespace", a.namespace).Msg("conscious_extraction_scan_failed")
		return
	}

	for _, turn := range turns {
		rec := a.extractor.ProcessConversation(ctx, extractor.Input{
			ChatID:    turn.ChatID,
			UserInput: turn.UserInput,
			AIOutput:  turn.AIOutput,
		})

		memoryID, err := a.store.StoreLongTermMemory(ctx, toStorageRecord(rec), turn.ChatID, a.namespace)
		if err != nil {
			result.ExtractionFailed++
			result.ErrorsLog = append(result.ErrorsLog, turn.ChatID+": "+err.Error())
			log.Warn().Err(err).Str("chat_id", turn.ChatID).Msg("conscious_extraction_store_failed")
			continue
		}
		if !a.states.Transition(memoryID, a.namespace, state.Processed, state.TransitionOpts{Reason: "deferred conscious-mode extraction", AgentID: "conscious-agent"}) {
			log.Warn().Str("memory_id", memoryID).Msg("conscious_extraction_state_seed_failed")
		}
		result.TurnsExtracted++
	}
}

// ensureProcessedSeed seeds PROCESSED for a memoryId with no state history
// yet. storeLongTermMemory implicitly initialises processing state to
// PROCESSED (spec §4.5), but a record inserted directly into storage (spec
// §8 E2E scenarios 2 and 3, and any record C6 discovers that wasn't routed
// through the Memori Controller's or this agent's own extraction path) never
// has that seed call made on its behalf. Seeding it here, the first time C6
// touches such a record, reconciles the Manager's append-only history with
// storeLongTermMemory's implicit contract instead of leaving PROCESSED-only
// transitions (ConsciousProcessing, ConsolidationProcessing) permanently
// unreachable for it.
func (a *Agent) ensureProcessedSeed(id, namespace string) {
	if _, ok := a.states.CurrentState(id); !ok {
		a.states.InitializeExistingMemoryState(id, namespace, state.Processed)
	}
}

func (a *Agent) processOne(ctx context.Context, rec storage.MemoryRecord) error {
	a.ensureProcessedSeed(rec.ID, a.namespace)
	if !a.states.Transition(rec.ID, a.namespace, state.ConsciousProcessing, state.TransitionOpts{Reason: "conscious ingest pass", AgentID: "conscious-agent"}) {
		return errTransitionFailed(rec.ID, state.ConsciousProcessing)
	}

	if _, err := a.store.StoreConsciousMemoryInShortTerm(ctx, rec, rec.ID, a.namespace); err != nil {
		a.states.Transition(rec.ID, a.namespace, state.Failed, state.TransitionOpts{Reason: "short-term copy failed", AgentID: "conscious-agent", ErrorMessage: err.Error()})
		return err
	}

	if err := a.store.MarkConsciousProcessed(ctx, rec.ID); err != nil {
		a.states.Transition(rec.ID, a.namespace, state.Failed, state.TransitionOpts{Reason: "mark processed failed", AgentID: "conscious-agent", ErrorMessage: err.Error()})
		return err
	}

	if !a.states.Transition(rec.ID, a.namespace, state.ConsciousProcessed, state.TransitionOpts{Reason: "promoted to short-term", AgentID: "conscious-agent"}) {
		return errTransitionFailed(rec.ID, state.ConsciousProcessed)
	}
	return nil
}

func (a *Agent) hasProcessed(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processedMemoryIDs[id]
}

func (a *Agent) markProcessed(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processedMemoryIDs[id] = true
}
