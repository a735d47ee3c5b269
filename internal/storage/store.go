package storage

import "context"

// Store is the C5 contract: row-level persistence for every entity in spec
// §3, ranked search, relationship CRUD, and statistics aggregation. Both
// the in-memory and Postgres-backed implementations satisfy it.
type Store interface {
	// Init prepares the backing store (schema migration for SQL backends;
	// a no-op for the in-memory implementation).
	Init(ctx context.Context) error
	Close() error

	// StoreChatTurn persists turn and returns its chatId. Idempotent on
	// ChatID: a repeat call with the same id is a no-op returning the
	// existing id.
	StoreChatTurn(ctx context.Context, turn ChatTurn) (string, error)

	// StoreLongTermMemory persists record under conversationId/namespace
	// and returns the new memoryId. It does not touch processing state:
	// the Store holds no state manager, and the callers that store
	// extracted records seed PROCESSED through state.Manager afterwards.
	StoreLongTermMemory(ctx context.Context, record MemoryRecord, conversationID, namespace string) (string, error)

	// StoreConsciousMemoryInShortTerm copies record into short-term
	// storage, using sourceMemoryID as the short-term record's ChatID for
	// traceability back to the originating MemoryRecord.
	StoreConsciousMemoryInShortTerm(ctx context.Context, record MemoryRecord, sourceMemoryID, namespace string) (string, error)

	// StoreMemoryRelationships writes rels as edges from sourceId.
	// Relationships violating §3's invariants are skipped and reported in
	// the returned errors slice rather than aborting the whole batch.
	StoreMemoryRelationships(ctx context.Context, sourceID string, rels []MemoryRelationship, namespace string) (stored int, errs []RelationshipWriteError, err error)

	// ConsolidateDuplicateMemories merges duplicateIDs into primaryID:
	// entities/keywords are unioned into primary, incoming relationships
	// pointing at a duplicate are rewritten to primary, and each duplicate
	// is given a consolidatedInto back-reference. It does not change
	// processing state; the CONSOLIDATED transition is made by the caller
	// through the state manager.
	ConsolidateDuplicateMemories(ctx context.Context, primaryID string, duplicateIDs []string, namespace string) (consolidated int, errs []ConsolidationError, err error)

	// SearchMemories runs the ranked search described in spec §4.5.
	SearchMemories(ctx context.Context, query string, opts SearchOptions) ([]MemoryRecord, error)

	// FindPotentialDuplicates returns namespace records whose Jaccard
	// similarity over whitespace-tokenised lowercase words with text is
	// at least similarityThreshold.
	FindPotentialDuplicates(ctx context.Context, text, namespace string, similarityThreshold float64) ([]MemoryRecord, error)

	// CheckConsolidationSafety runs the three safety checks from spec
	// §4.5 ("Safety checks before consolidation") without mutating
	// anything; it is exposed for C6 to call before committing to a
	// consolidation group.
	CheckConsolidationSafety(ctx context.Context, primaryID string, duplicateIDs []string, namespace string) []ConsolidationError

	// UnprocessedChatTurns returns namespace ChatTurns with no associated
	// MemoryRecord yet, in storage order. Conscious-mode recording (spec
	// §4.7 Mode selection: "persist turn; do not invoke C3... Record is
	// later picked up by C6's loop") defers extraction itself to the
	// background loop, so the loop needs this to discover work.
	UnprocessedChatTurns(ctx context.Context, namespace string) ([]ChatTurn, error)

	// UnprocessedConsciousRecords returns namespace MemoryRecords with
	// Classification == conscious-info and ConsciousProcessed == false,
	// in storage order (spec §4.6 step 1 / Ordering guarantee).
	UnprocessedConsciousRecords(ctx context.Context, namespace string) ([]MemoryRecord, error)

	// ConsciousRecords returns every namespace record with Classification
	// == conscious-info, regardless of ConsciousProcessed, for the
	// consolidation routine's candidate pool (spec §4.6 Consolidation
	// routine).
	ConsciousRecords(ctx context.Context, namespace string) ([]MemoryRecord, error)

	// MarkConsciousProcessed flips ConsciousProcessed to true for id.
	MarkConsciousProcessed(ctx context.Context, id string) error

	// GetMemory returns a single MemoryRecord by id, or ErrNotFound.
	GetMemory(ctx context.Context, id, namespace string) (MemoryRecord, error)

	// GetDatabaseStats aggregates the counts in spec §4.5 Statistics.
	// Implementations MUST run the underlying aggregations in parallel.
	GetDatabaseStats(ctx context.Context, namespace string) (Stats, error)
}
