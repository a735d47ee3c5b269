package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memori-ai/memori/internal/errs"
)

// NewMemoryStore returns an in-process Store, grounded in the pack's
// in-memory fallback convention (cf. the teacher's NewMemorySearch/
// NewMemoryVector, used whenever no DSN is configured). It is the default
// backend for the Unified Façade and is fully concurrency-safe.
func NewMemoryStore() Store {
	return &memoryStore{
		turns:   make(map[string]ChatTurn),
		records: make(map[string]MemoryRecord),
		short:   make(map[string]ShortTermRecord),
		rels:    make(map[string][]MemoryRelationship),
	}
}

type memoryStore struct {
	mu sync.RWMutex

	turns   map[string]ChatTurn
	records map[string]MemoryRecord
	short   map[string]ShortTermRecord
	rels    map[string][]MemoryRelationship // keyed by sourceId
}

func (s *memoryStore) Init(ctx context.Context) error { return nil }
func (s *memoryStore) Close() error                    { return nil }

func (s *memoryStore) StoreChatTurn(ctx context.Context, turn ChatTurn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.ChatID == "" {
		turn.ChatID = uuid.NewString()
	}
	if _, exists := s.turns[turn.ChatID]; exists {
		return turn.ChatID, nil
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	s.turns[turn.ChatID] = turn
	return turn.ChatID, nil
}

func (s *memoryStore) StoreLongTermMemory(ctx context.Context, record MemoryRecord, conversationID, namespace string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = uuid.NewString()
	record.ConversationID = conversationID
	record.Namespace = namespace
	record.ImportanceScore = record.Importance.Score()
	if record.ExtractionTimestamp.IsZero() {
		record.ExtractionTimestamp = time.Now().UTC()
	}
	s.records[record.ID] = record
	return record.ID, nil
}

func (s *memoryStore) StoreConsciousMemoryInShortTerm(ctx context.Context, record MemoryRecord, sourceMemoryID, namespace string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.short[id] = ShortTermRecord{
		ID:                 id,
		ChatID:             sourceMemoryID,
		ProcessedData:      record.Content,
		ImportanceScore:    record.Importance.Score(),
		CategoryPrimary:    string(record.Classification),
		RetentionType:      "short_term",
		Namespace:          namespace,
		SearchableContent:  record.SearchableContentFallback(),
		Summary:            record.Summary,
		IsPermanentContext: true,
		CreatedAt:          time.Now().UTC(),
	}
	return id, nil
}

func (s *memoryStore) StoreMemoryRelationships(ctx context.Context, sourceID string, rels []MemoryRelationship, namespace string) (int, []RelationshipWriteError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errsOut []RelationshipWriteError
	stored := 0
	for _, rel := range rels {
		rel.SourceID = sourceID
		if rel.SourceID == rel.TargetID {
			errsOut = append(errsOut, RelationshipWriteError{SourceID: rel.SourceID, TargetID: rel.TargetID, Reason: "source and target must differ"})
			continue
		}
		if rel.Type == RelSupersedes && s.wouldCreateSupersedesCycle(rel.SourceID, rel.TargetID) {
			errsOut = append(errsOut, RelationshipWriteError{SourceID: rel.SourceID, TargetID: rel.TargetID, Reason: "would create a supersedes cycle"})
			continue
		}
		s.rels[sourceID] = append(s.rels[sourceID], rel)
		stored++
	}
	return stored, errsOut, nil
}

// wouldCreateSupersedesCycle reports whether adding a supersedes edge
// source->target would close a cycle in the supersedes subgraph (spec §3:
// "no two records may form a cycle of type supersedes"). Callers hold
// s.mu already.
func (s *memoryStore) wouldCreateSupersedesCycle(source, target string) bool {
	visited := map[string]bool{source: true}
	frontier := []string{target}
	for len(frontier) > 0 {
		cur := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if cur == source {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, rel := range s.rels[cur] {
			if rel.Type == RelSupersedes {
				frontier = append(frontier, rel.TargetID)
			}
		}
	}
	return false
}

func (s *memoryStore) CheckConsolidationSafety(ctx context.Context, primaryID string, duplicateIDs []string, namespace string) []ConsolidationError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkSafetyLocked(primaryID, duplicateIDs, namespace)
}

func (s *memoryStore) checkSafetyLocked(primaryID string, duplicateIDs []string, namespace string) []ConsolidationError {
	var out []ConsolidationError
	primary, primaryOK := s.records[primaryID]
	if !primaryOK || primary.Namespace != namespace {
		for _, d := range duplicateIDs {
			out = append(out, ConsolidationError{DuplicateID: d, Reason: "primary does not exist in namespace"})
		}
		return out
	}
	for _, d := range duplicateIDs {
		if d == primaryID {
			out = append(out, ConsolidationError{DuplicateID: d, Reason: "self-consolidation is not allowed"})
			continue
		}
		rec, ok := s.records[d]
		if !ok || rec.Namespace != namespace {
			out = append(out, ConsolidationError{DuplicateID: d, Reason: "duplicate does not exist in namespace"})
			continue
		}
		if rec.ConsolidatedInto == primaryID {
			out = append(out, ConsolidationError{DuplicateID: d, Reason: "already consolidated into primary (cycle prevention)"})
			continue
		}
	}
	return out
}

func (s *memoryStore) ConsolidateDuplicateMemories(ctx context.Context, primaryID string, duplicateIDs []string, namespace string) (int, []ConsolidationError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rejected := s.checkSafetyLocked(primaryID, duplicateIDs, namespace)
	rejectedSet := make(map[string]bool, len(rejected))
	for _, r := range rejected {
		rejectedSet[r.DuplicateID] = true
	}

	primary, ok := s.records[primaryID]
	if !ok {
		return 0, rejected, errs.ErrNotFound
	}

	entitySet := toSet(primary.Entities)
	keywordSet := toSet(primary.Keywords)
	consolidated := 0
	for _, d := range duplicateIDs {
		if rejectedSet[d] {
			continue
		}
		dup := s.records[d]
		for _, e := range dup.Entities {
			entitySet[e] = struct{}{}
		}
		for _, k := range dup.Keywords {
			keywordSet[k] = struct{}{}
		}
		dup.ConsolidatedInto = primaryID
		s.records[d] = dup

		// Rewrite incoming relationships pointing at the duplicate to
		// point at primary instead (spec §4.5 consolidateDuplicateMemories).
		for src, edges := range s.rels {
			for i := range edges {
				if edges[i].TargetID == d {
					edges[i].TargetID = primaryID
				}
			}
			s.rels[src] = edges
		}
		consolidated++
	}
	primary.Entities = fromSet(entitySet)
	primary.Keywords = fromSet(keywordSet)
	s.records[primaryID] = primary
	return consolidated, rejected, nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *memoryStore) SearchMemories(ctx context.Context, query string, opts SearchOptions) ([]MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := make([]MemoryRecord, 0, len(s.records))
	for _, r := range s.records {
		if opts.Namespace != "" && r.Namespace != opts.Namespace {
			continue
		}
		candidates = append(candidates, r)
	}
	return rankAndPage(query, candidates, opts, time.Now().UTC()), nil
}

func (s *memoryStore) FindPotentialDuplicates(ctx context.Context, text, namespace string, similarityThreshold float64) ([]MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MemoryRecord
	for _, r := range s.records {
		if r.Namespace != namespace {
			continue
		}
		if jaccard(text, r.SearchableContentFallback()) >= similarityThreshold {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UnprocessedChatTurns(ctx context.Context, namespace string) ([]ChatTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	extracted := make(map[string]bool, len(s.records))
	for _, r := range s.records {
		if r.ConversationID != "" {
			extracted[r.ConversationID] = true
		}
	}

	turns := make([]ChatTurn, 0, len(s.turns))
	for _, t := range s.turns {
		if t.Namespace == namespace && !extracted[t.ChatID] {
			turns = append(turns, t)
		}
	}
	sort.Slice(turns, func(i, j int) bool {
		if !turns[i].Timestamp.Equal(turns[j].Timestamp) {
			return turns[i].Timestamp.Before(turns[j].Timestamp)
		}
		return turns[i].ChatID < turns[j].ChatID
	})
	return turns, nil
}

func (s *memoryStore) UnprocessedConsciousRecords(ctx context.Context, namespace string) ([]MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MemoryRecord
	for _, r := range s.recordsInInsertionOrder() {
		if r.Namespace != namespace {
			continue
		}
		if r.Classification == ClassConsciousInfo && !r.ConsciousProcessed {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) ConsciousRecords(ctx context.Context, namespace string) ([]MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MemoryRecord
	for _, r := range s.recordsInInsertionOrder() {
		if r.Namespace == namespace && r.Classification == ClassConsciousInfo {
			out = append(out, r)
		}
	}
	return out, nil
}

// recordsInInsertionOrder gives the Conscious Agent a stable load order
// for its first-seen-wins primary selection (spec §4.6 Ordering
// guarantee). The in-memory map has no native order, so we sort by
// ExtractionTimestamp then ID as a deterministic stand-in for insertion
// order.
func (s *memoryStore) recordsInInsertionOrder() []MemoryRecord {
	out := make([]MemoryRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExtractionTimestamp.Equal(out[j].ExtractionTimestamp) {
			return out[i].ExtractionTimestamp.Before(out[j].ExtractionTimestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memoryStore) MarkConsciousProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return errs.ErrNotFound
	}
	rec.ConsciousProcessed = true
	s.records[id] = rec
	return nil
}

func (s *memoryStore) GetMemory(ctx context.Context, id, namespace string) (MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || (namespace != "" && rec.Namespace != namespace) {
		return MemoryRecord{}, errs.ErrNotFound
	}
	return rec, nil
}

func (s *memoryStore) GetDatabaseStats(ctx context.Context, namespace string) (Stats, error) {
	// Grounded in the teacher's parallel-aggregation convention
	// (errgroup-fanned queries in the Postgres implementation); the
	// in-memory store has no I/O latency to hide, so the four counts are
	// still computed concurrently to keep call shape identical across
	// backends and to exercise the same race surface in tests.
	var wg sync.WaitGroup
	var conv, long, short, conscious int
	var mostRecent time.Time
	var mostRecentMu sync.Mutex

	s.mu.RLock()
	defer s.mu.RUnlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, t := range s.turns {
			if t.Namespace == namespace {
				conv++
				bumpRecent(&mostRecentMu, &mostRecent, t.Timestamp)
			}
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, r := range s.records {
			if r.Namespace != namespace {
				continue
			}
			long++
			if r.Classification == ClassConsciousInfo {
				conscious++
			}
			bumpRecent(&mostRecentMu, &mostRecent, r.ExtractionTimestamp)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, r := range s.short {
			if r.Namespace == namespace {
				short++
				bumpRecent(&mostRecentMu, &mostRecent, r.CreatedAt)
			}
		}
	}()
	wg.Wait()

	return Stats{
		Namespace:            namespace,
		ConversationCount:    conv,
		LongTermMemoryCount:  long,
		ShortTermMemoryCount: short,
		ConsciousMemoryCount: conscious,
		MostRecentActivity:   mostRecent,
	}, nil
}

func bumpRecent(mu *sync.Mutex, cur *time.Time, candidate time.Time) {
	if candidate.IsZero() {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if candidate.After(*cur) {
		*cur = candidate
	}
}
