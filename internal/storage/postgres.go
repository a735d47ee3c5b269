package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/observability"
)

// NewPostgresStore returns a Postgres-backed Store, grounded in the
// teacher's pgChatStore/pgEvolvingMemoryStore construction (pool injected,
// Init runs idempotent migrations, Close closes the pool).
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool        *pgxpool.Pool
	ftsAvailable bool
}

func (s *pgStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Init runs the migration, mirroring the teacher's CREATE TABLE IF NOT
// EXISTS + ALTER TABLE ADD COLUMN IF NOT EXISTS style so re-running Init
// against an already-migrated database is a no-op. FTS availability (a
// GIN-indexed tsvector column) is probed here and recorded in
// ftsAvailable; a failed probe is not an error. SearchMemories ranks the
// namespace's rows in Go whether or not FTS is available and reads the
// flag only for its debug log; there is no ILIKE path.
func (s *pgStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chat_turns (
    chat_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    namespace TEXT NOT NULL,
    user_input TEXT NOT NULL,
    ai_output TEXT NOT NULL,
    model_used TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS chat_turns_namespace_idx ON chat_turns(namespace, created_at DESC);

CREATE TABLE IF NOT EXISTS memory_records (
    id UUID PRIMARY KEY,
    conversation_id TEXT NOT NULL DEFAULT '',
    namespace TEXT NOT NULL,
    content TEXT NOT NULL,
    summary TEXT NOT NULL,
    classification TEXT NOT NULL,
    importance TEXT NOT NULL,
    importance_score DOUBLE PRECISION NOT NULL,
    topic TEXT NOT NULL DEFAULT '',
    entities JSONB NOT NULL DEFAULT '[]'::jsonb,
    keywords JSONB NOT NULL DEFAULT '[]'::jsonb,
    confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    classification_reason TEXT NOT NULL DEFAULT '',
    promotion_eligible BOOLEAN NOT NULL DEFAULT FALSE,
    extraction_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    conscious_processed BOOLEAN NOT NULL DEFAULT FALSE,
    consolidated_into TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS memory_records_namespace_idx ON memory_records(namespace, extraction_timestamp DESC);
CREATE INDEX IF NOT EXISTS memory_records_conscious_idx ON memory_records(namespace, classification, conscious_processed);

ALTER TABLE memory_records
    ADD COLUMN IF NOT EXISTS consolidated_into TEXT NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS short_term_records (
    id UUID PRIMARY KEY,
    chat_id TEXT NOT NULL,
    processed_data TEXT NOT NULL,
    importance_score DOUBLE PRECISION NOT NULL,
    category_primary TEXT NOT NULL DEFAULT '',
    retention_type TEXT NOT NULL DEFAULT 'short_term',
    namespace TEXT NOT NULL,
    searchable_content TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    is_permanent_context BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS short_term_records_namespace_idx ON short_term_records(namespace, created_at DESC);

CREATE TABLE IF NOT EXISTS memory_relationships (
    source_id UUID NOT NULL,
    target_id UUID NOT NULL,
    type TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    strength DOUBLE PRECISION NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    entities JSONB NOT NULL DEFAULT '[]'::jsonb,
    context JSONB NOT NULL DEFAULT '{}'::jsonb,
    PRIMARY KEY (source_id, target_id, type)
);
CREATE INDEX IF NOT EXISTS memory_relationships_target_idx ON memory_relationships(target_id);
`)
	if err != nil {
		return err
	}

	// Best-effort FTS bootstrap; absence is not fatal (spec §4.5 Failure
	// semantics), mirroring the teacher's NewPostgresSearch which ignores
	// extension-creation failure under a non-superuser role.
	_, ftsErr := s.pool.Exec(ctx, `
ALTER TABLE memory_records ADD COLUMN IF NOT EXISTS searchable_ts tsvector
    GENERATED ALWAYS AS (to_tsvector('simple', coalesce(content,'') || ' ' || coalesce(summary,'') || ' ' || coalesce(topic,''))) STORED;
CREATE INDEX IF NOT EXISTS memory_records_ts_idx ON memory_records USING GIN (searchable_ts);
`)
	s.ftsAvailable = ftsErr == nil
	return nil
}

func (s *pgStore) StoreChatTurn(ctx context.Context, turn ChatTurn) (string, error) {
	if turn.ChatID == "" {
		turn.ChatID = uuid.NewString()
	}
	metaBytes, _ := json.Marshal(nonNilMap(turn.Metadata))
	createdAt := turn.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO chat_turns (chat_id, session_id, namespace, user_input, ai_output, model_used, created_at, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (chat_id) DO NOTHING`,
		turn.ChatID, turn.SessionID, turn.Namespace, turn.UserInput, turn.AIOutput, turn.ModelUsed, createdAt, metaBytes)
	if err != nil {
		return "", errTransportWrap(err)
	}
	return turn.ChatID, nil
}

func (s *pgStore) StoreLongTermMemory(ctx context.Context, record MemoryRecord, conversationID, namespace string) (string, error) {
	record.ID = uuid.NewString()
	record.ConversationID = conversationID
	record.Namespace = namespace
	record.ImportanceScore = record.Importance.Score()
	if record.ExtractionTimestamp.IsZero() {
		record.ExtractionTimestamp = time.Now().UTC()
	}
	entities, _ := json.Marshal(nonNilSlice(record.Entities))
	keywords, _ := json.Marshal(nonNilSlice(record.Keywords))
	_, err := s.pool.Exec(ctx, `
INSERT INTO memory_records (id, conversation_id, namespace, content, summary, classification, importance,
    importance_score, topic, entities, keywords, confidence_score, classification_reason, promotion_eligible,
    extraction_timestamp, conscious_processed, consolidated_into)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		record.ID, record.ConversationID, record.Namespace, record.Content, record.Summary,
		string(record.Classification), string(record.Importance), record.ImportanceScore, record.Topic,
		entities, keywords, record.ConfidenceScore, record.ClassificationReason, record.PromotionEligible,
		record.ExtractionTimestamp, record.ConsciousProcessed, record.ConsolidatedInto)
	if err != nil {
		return "", errTransportWrap(err)
	}
	return record.ID, nil
}

func (s *pgStore) StoreConsciousMemoryInShortTerm(ctx context.Context, record MemoryRecord, sourceMemoryID, namespace string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
INSERT INTO short_term_records (id, chat_id, processed_data, importance_score, category_primary, retention_type,
    namespace, searchable_content, summary, is_permanent_context, created_at)
VALUES ($1,$2,$3,$4,$5,'short_term',$6,$7,$8,TRUE,$9)`,
		id, sourceMemoryID, record.Content, record.Importance.Score(), string(record.Classification),
		namespace, record.SearchableContentFallback(), record.Summary, time.Now().UTC())
	if err != nil {
		return "", errTransportWrap(err)
	}
	return id, nil
}

func (s *pgStore) StoreMemoryRelationships(ctx context.Context, sourceID string, rels []MemoryRelationship, namespace string) (int, []RelationshipWriteError, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, nil, errTransportWrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var errsOut []RelationshipWriteError
	stored := 0
	for _, rel := range rels {
		rel.SourceID = sourceID
		if rel.SourceID == rel.TargetID {
			errsOut = append(errsOut, RelationshipWriteError{SourceID: rel.SourceID, TargetID: rel.TargetID, Reason: "source and target must differ"})
			continue
		}
		if rel.Type == RelSupersedes {
			cyclic, err := s.wouldCreateSupersedesCycle(ctx, tx, rel.SourceID, rel.TargetID)
			if err != nil {
				return stored, errsOut, errTransportWrap(err)
			}
			if cyclic {
				errsOut = append(errsOut, RelationshipWriteError{SourceID: rel.SourceID, TargetID: rel.TargetID, Reason: "would create a supersedes cycle"})
				continue
			}
		}
		entities, _ := json.Marshal(nonNilSlice(rel.Entities))
		ctxBytes, _ := json.Marshal(nonNilMap(rel.Context))
		if _, err := tx.Exec(ctx, `
INSERT INTO memory_relationships (source_id, target_id, type, confidence, strength, reason, entities, context)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (source_id, target_id, type) DO UPDATE SET confidence=EXCLUDED.confidence, strength=EXCLUDED.strength`,
			rel.SourceID, rel.TargetID, string(rel.Type), rel.Confidence, rel.Strength, rel.Reason, entities, ctxBytes); err != nil {
			return stored, errsOut, errTransportWrap(err)
		}
		stored++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errsOut, errTransportWrap(err)
	}
	return stored, errsOut, nil
}

func (s *pgStore) wouldCreateSupersedesCycle(ctx context.Context, tx pgx.Tx, source, target string) (bool, error) {
	visited := map[string]bool{source: true}
	frontier := []string{target}
	for len(frontier) > 0 {
		cur := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if cur == source {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		rows, err := tx.Query(ctx, `SELECT target_id FROM memory_relationships WHERE source_id = $1 AND type = $2`, cur, string(RelSupersedes))
		if err != nil {
			return false, err
		}
		for rows.Next() {
			var next string
			if err := rows.Scan(&next); err != nil {
				rows.Close()
				return false, err
			}
			frontier = append(frontier, next)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s *pgStore) CheckConsolidationSafety(ctx context.Context, primaryID string, duplicateIDs []string, namespace string) []ConsolidationError {
	errsOut, _ := s.checkSafety(ctx, primaryID, duplicateIDs, namespace)
	return errsOut
}

func (s *pgStore) checkSafety(ctx context.Context, primaryID string, duplicateIDs []string, namespace string) ([]ConsolidationError, MemoryRecord) {
	var out []ConsolidationError
	primary, err := s.GetMemory(ctx, primaryID, namespace)
	if err != nil {
		for _, d := range duplicateIDs {
			out = append(out, ConsolidationError{DuplicateID: d, Reason: "primary does not exist in namespace"})
		}
		return out, MemoryRecord{}
	}
	for _, d := range duplicateIDs {
		if d == primaryID {
			out = append(out, ConsolidationError{DuplicateID: d, Reason: "self-consolidation is not allowed"})
			continue
		}
		dup, err := s.GetMemory(ctx, d, namespace)
		if err != nil {
			out = append(out, ConsolidationError{DuplicateID: d, Reason: "duplicate does not exist in namespace"})
			continue
		}
		if dup.ConsolidatedInto == primaryID {
			out = append(out, ConsolidationError{DuplicateID: d, Reason: "already consolidated into primary (cycle prevention)"})
		}
	}
	return out, primary
}

func (s *pgStore) ConsolidateDuplicateMemories(ctx context.Context, primaryID string, duplicateIDs []string, namespace string) (int, []ConsolidationError, error) {
	rejected, primary := s.checkSafety(ctx, primaryID, duplicateIDs, namespace)
	if primary.ID == "" {
		return 0, rejected, errs.ErrNotFound
	}
	rejectedSet := make(map[string]bool, len(rejected))
	for _, r := range rejected {
		rejectedSet[r.DuplicateID] = true
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, rejected, errTransportWrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entitySet := toSet(primary.Entities)
	keywordSet := toSet(primary.Keywords)
	consolidated := 0
	for _, d := range duplicateIDs {
		if rejectedSet[d] {
			continue
		}
		dup, err := s.GetMemory(ctx, d, namespace)
		if err != nil {
			continue
		}
		for _, e := range dup.Entities {
			entitySet[e] = struct{}{}
		}
		for _, k := range dup.Keywords {
			keywordSet[k] = struct{}{}
		}
		if _, err := tx.Exec(ctx, `UPDATE memory_records SET consolidated_into = $2 WHERE id = $1`, d, primaryID); err != nil {
			return consolidated, rejected, errTransportWrap(err)
		}
		if _, err := tx.Exec(ctx, `UPDATE memory_relationships SET target_id = $2 WHERE target_id = $1`, d, primaryID); err != nil {
			return consolidated, rejected, errTransportWrap(err)
		}
		consolidated++
	}
	entities, _ := json.Marshal(fromSet(entitySet))
	keywords, _ := json.Marshal(fromSet(keywordSet))
	if _, err := tx.Exec(ctx, `UPDATE memory_records SET entities = $2, keywords = $3 WHERE id = $1`, primaryID, entities, keywords); err != nil {
		return consolidated, rejected, errTransportWrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, rejected, errTransportWrap(err)
	}
	return consolidated, rejected, nil
}

func (s *pgStore) SearchMemories(ctx context.Context, query string, opts SearchOptions) ([]MemoryRecord, error) {
	log := observability.LoggerWithTrace(ctx)
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, namespace, content, summary, classification, importance, importance_score, topic,
       entities, keywords, confidence_score, classification_reason, promotion_eligible, extraction_timestamp,
       conscious_processed, consolidated_into
FROM memory_records
WHERE namespace = $1`, opts.Namespace)
	if err != nil {
		return nil, errTransportWrap(err)
	}
	defer rows.Close()

	candidates, err := scanMemoryRows(rows)
	if err != nil {
		return nil, errTransportWrap(err)
	}
	log.Debug().Str("namespace", opts.Namespace).Int("candidates", len(candidates)).Bool("fts", s.ftsAvailable).Msg("search_memories_candidates")
	return rankAndPage(query, candidates, opts, time.Now().UTC()), nil
}

func (s *pgStore) FindPotentialDuplicates(ctx context.Context, text, namespace string, similarityThreshold float64) ([]MemoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, namespace, content, summary, classification, importance, importance_score, topic,
       entities, keywords, confidence_score, classification_reason, promotion_eligible, extraction_timestamp,
       conscious_processed, consolidated_into
FROM memory_records WHERE namespace = $1`, namespace)
	if err != nil {
		return nil, errTransportWrap(err)
	}
	defer rows.Close()
	all, err := scanMemoryRows(rows)
	if err != nil {
		return nil, errTransportWrap(err)
	}
	out := make([]MemoryRecord, 0)
	for _, r := range all {
		if jaccard(text, r.SearchableContentFallback()) >= similarityThreshold {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *pgStore) UnprocessedChatTurns(ctx context.Context, namespace string) ([]ChatTurn, error) {
	rows, err := s.pool.Query(ctx, `
SELECT chat_id, session_id, namespace, user_input, ai_output, model_used, created_at, metadata
FROM chat_turns t
WHERE namespace = $1 AND NOT EXISTS (
    SELECT 1 FROM memory_records m WHERE m.conversation_id = t.chat_id
)
ORDER BY created_at ASC, chat_id ASC`, namespace)
	if err != nil {
		return nil, errTransportWrap(err)
	}
	defer rows.Close()

	out := make([]ChatTurn, 0)
	for rows.Next() {
		var turn ChatTurn
		var metaBytes []byte
		if err := rows.Scan(&turn.ChatID, &turn.SessionID, &turn.Namespace, &turn.UserInput, &turn.AIOutput, &turn.ModelUsed, &turn.Timestamp, &metaBytes); err != nil {
			return nil, errTransportWrap(err)
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &turn.Metadata)
		}
		out = append(out, turn)
	}
	return out, rows.Err()
}

func (s *pgStore) UnprocessedConsciousRecords(ctx context.Context, namespace string) ([]MemoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, namespace, content, summary, classification, importance, importance_score, topic,
       entities, keywords, confidence_score, classification_reason, promotion_eligible, extraction_timestamp,
       conscious_processed, consolidated_into
FROM memory_records
WHERE namespace = $1 AND classification = $2 AND conscious_processed = FALSE
ORDER BY extraction_timestamp ASC, id ASC`, namespace, string(ClassConsciousInfo))
	if err != nil {
		return nil, errTransportWrap(err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

func (s *pgStore) ConsciousRecords(ctx context.Context, namespace string) ([]MemoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, namespace, content, summary, classification, importance, importance_score, topic,
       entities, keywords, confidence_score, classification_reason, promotion_eligible, extraction_timestamp,
       conscious_processed, consolidated_into
FROM memory_records
WHERE namespace = $1 AND classification = $2
ORDER BY extraction_timestamp ASC, id ASC`, namespace, string(ClassConsciousInfo))
	if err != nil {
		return nil, errTransportWrap(err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

func (s *pgStore) MarkConsciousProcessed(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE memory_records SET conscious_processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return errTransportWrap(err)
	}
	if cmd.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *pgStore) GetMemory(ctx context.Context, id, namespace string) (MemoryRecord, error) {
	query := `
SELECT id, conversation_id, namespace, content, summary, classification, importance, importance_score, topic,
       entities, keywords, confidence_score, classification_reason, promotion_eligible, extraction_timestamp,
       conscious_processed, consolidated_into
FROM memory_records WHERE id = $1`
	args := []any{id}
	if namespace != "" {
		query += " AND namespace = $2"
		args = append(args, namespace)
	}
	row := s.pool.QueryRow(ctx, query, args...)
	rec, err := scanMemoryRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return MemoryRecord{}, errs.ErrNotFound
	}
	if err != nil {
		return MemoryRecord{}, errTransportWrap(err)
	}
	return rec, nil
}

// GetDatabaseStats runs the four count aggregations concurrently via
// errgroup (spec §4.5 Statistics: "MUST execute the underlying
// aggregations in parallel"), grounded in the pack's golang.org/x/sync
// dependency.
func (s *pgStore) GetDatabaseStats(ctx context.Context, namespace string) (Stats, error) {
	g, gctx := errgroup.WithContext(ctx)
	stats := Stats{Namespace: namespace}
	var convRecent, longRecent, shortRecent time.Time

	g.Go(func() error {
		return s.pool.QueryRow(gctx, `SELECT COUNT(*), COALESCE(MAX(created_at), 'epoch') FROM chat_turns WHERE namespace = $1`, namespace).
			Scan(&stats.ConversationCount, &convRecent)
	})
	g.Go(func() error {
		return s.pool.QueryRow(gctx, `SELECT COUNT(*), COALESCE(MAX(extraction_timestamp), 'epoch') FROM memory_records WHERE namespace = $1`, namespace).
			Scan(&stats.LongTermMemoryCount, &longRecent)
	})
	g.Go(func() error {
		return s.pool.QueryRow(gctx, `SELECT COUNT(*) FROM memory_records WHERE namespace = $1 AND classification = $2`, namespace, string(ClassConsciousInfo)).
			Scan(&stats.ConsciousMemoryCount)
	})
	g.Go(func() error {
		return s.pool.QueryRow(gctx, `SELECT COUNT(*), COALESCE(MAX(created_at), 'epoch') FROM short_term_records WHERE namespace = $1`, namespace).
			Scan(&stats.ShortTermMemoryCount, &shortRecent)
	})

	if err := g.Wait(); err != nil {
		return Stats{}, errTransportWrap(err)
	}

	stats.MostRecentActivity = latest(convRecent, longRecent, shortRecent)
	return stats, nil
}

func latest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}
	return out
}

func scanMemoryRows(rows pgx.Rows) ([]MemoryRecord, error) {
	out := make([]MemoryRecord, 0)
	for rows.Next() {
		rec, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanMemoryRow(row pgx.Row) (MemoryRecord, error) {
	var rec MemoryRecord
	var entities, keywords []byte
	if err := row.Scan(&rec.ID, &rec.ConversationID, &rec.Namespace, &rec.Content, &rec.Summary,
		&rec.Classification, &rec.Importance, &rec.ImportanceScore, &rec.Topic, &entities, &keywords,
		&rec.ConfidenceScore, &rec.ClassificationReason, &rec.PromotionEligible, &rec.ExtractionTimestamp,
		&rec.ConsciousProcessed, &rec.ConsolidatedInto); err != nil {
		return MemoryRecord{}, err
	}
	_ = json.Unmarshal(entities, &rec.Entities)
	_ = json.Unmarshal(keywords, &rec.Keywords)
	return rec, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// errTransportWrap folds a pgx/driver error into errs.ErrStorage so
// callers outside this package never need to import pgx to classify a
// storage failure (spec §7 Error Handling Design).
func errTransportWrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(errs.ErrStorage, err)
}
