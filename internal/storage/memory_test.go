package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memori-ai/memori/internal/errs"
)

func TestStoreChatTurn_IdempotentOnChatID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.StoreChatTurn(ctx, ChatTurn{ChatID: "c1", Namespace: "ns", UserInput: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "c1", id)

	id2, err := s.StoreChatTurn(ctx, ChatTurn{ChatID: "c1", Namespace: "ns", UserInput: "hi again"})
	require.NoError(t, err)
	assert.Equal(t, "c1", id2)
}

func TestStoreLongTermMemory_DerivesImportanceScore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.StoreLongTermMemory(ctx, MemoryRecord{Content: "x", Importance: ImportanceCritical}, "conv1", "ns")
	require.NoError(t, err)

	rec, err := s.GetMemory(ctx, id, "ns")
	require.NoError(t, err)
	assert.Equal(t, 0.9, rec.ImportanceScore)
	assert.Equal(t, "conv1", rec.ConversationID)
}

func TestStoreMemoryRelationships_RejectsSelfEdge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.StoreLongTermMemory(ctx, MemoryRecord{Importance: ImportanceLow}, "c", "ns")

	stored, errsOut, err := s.StoreMemoryRelationships(ctx, id, []MemoryRelationship{{SourceID: id, TargetID: id, Type: RelReference}}, "ns")
	require.NoError(t, err)
	assert.Equal(t, 0, stored)
	require.Len(t, errsOut, 1)
	assert.Contains(t, errsOut[0].Reason, "differ")
}

func TestStoreMemoryRelationships_RejectsSupersedesCycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, _ := s.StoreLongTermMemory(ctx, MemoryRecord{Importance: ImportanceLow}, "c", "ns")
	b, _ := s.StoreLongTermMemory(ctx, MemoryRecord{Importance: ImportanceLow}, "c", "ns")

	stored, errsOut, err := s.StoreMemoryRelationships(ctx, a, []MemoryRelationship{{TargetID: b, Type: RelSupersedes}}, "ns")
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	assert.Empty(t, errsOut)

	// b -> a would close a cycle now that a -> b exists.
	stored, errsOut, err = s.StoreMemoryRelationships(ctx, b, []MemoryRelationship{{TargetID: a, Type: RelSupersedes}}, "ns")
	require.NoError(t, err)
	assert.Equal(t, 0, stored)
	require.Len(t, errsOut, 1)
	assert.Contains(t, errsOut[0].Reason, "cycle")
}

func TestConsolidateDuplicateMemories_MergesEntitiesAndMarksBackReference(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	primary, _ := s.StoreLongTermMemory(ctx, MemoryRecord{Importance: ImportanceLow, Entities: []string{"a"}, Keywords: []string{"k1"}}, "c", "ns")
	dup, _ := s.StoreLongTermMemory(ctx, MemoryRecord{Importance: ImportanceLow, Entities: []string{"b"}, Keywords: []string{"k2"}}, "c", "ns")

	n, errsOut, err := s.ConsolidateDuplicateMemories(ctx, primary, []string{dup}, "ns")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, errsOut)

	p, _ := s.GetMemory(ctx, primary, "ns")
	assert.ElementsMatch(t, []string{"a", "b"}, p.Entities)
	assert.ElementsMatch(t, []string{"k1", "k2"}, p.Keywords)

	d, _ := s.GetMemory(ctx, dup, "ns")
	assert.Equal(t, primary, d.ConsolidatedInto)
}

func TestConsolidateDuplicateMemories_RejectsSelfConsolidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.StoreLongTermMemory(ctx, MemoryRecord{Importance: ImportanceLow}, "c", "ns")

	n, errsOut, err := s.ConsolidateDuplicateMemories(ctx, id, []string{id}, "ns")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.Len(t, errsOut, 1)
	assert.Contains(t, errsOut[0].Reason, "self-consolidation")
}

func TestConsolidateDuplicateMemories_RejectsAlreadyConsolidatedCycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	primary, _ := s.StoreLongTermMemory(ctx, MemoryRecord{Importance: ImportanceLow}, "c", "ns")
	dup, _ := s.StoreLongTermMemory(ctx, MemoryRecord{Importance: ImportanceLow}, "c", "ns")
	_, _, err := s.ConsolidateDuplicateMemories(ctx, primary, []string{dup}, "ns")
	require.NoError(t, err)

	errsOut := s.CheckConsolidationSafety(ctx, primary, []string{dup}, "ns")
	require.Len(t, errsOut, 1)
	assert.Contains(t, errsOut[0].Reason, "cycle prevention")
}

func TestFindPotentialDuplicates_JaccardThreshold(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.StoreLongTermMemory(ctx, MemoryRecord{Content: "the quick brown fox", Importance: ImportanceLow}, "c", "ns")
	_, _ = s.StoreLongTermMemory(ctx, MemoryRecord{Content: "completely unrelated text", Importance: ImportanceLow}, "c", "ns")

	out, err := s.FindPotentialDuplicates(ctx, "the quick brown fox jumps", "ns", 0.5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "the quick brown fox", out[0].Content)
}

func TestUnprocessedConsciousRecords_FiltersByClassificationAndFlag(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, _ := s.StoreLongTermMemory(ctx, MemoryRecord{Classification: ClassConsciousInfo, Importance: ImportanceHigh}, "c", "ns")
	_, _ = s.StoreLongTermMemory(ctx, MemoryRecord{Classification: ClassEssential, Importance: ImportanceHigh}, "c", "ns")

	out, err := s.UnprocessedConsciousRecords(ctx, "ns")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, a, out[0].ID)

	require.NoError(t, s.MarkConsciousProcessed(ctx, a))
	out, err = s.UnprocessedConsciousRecords(ctx, "ns")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGetMemory_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetMemory(context.Background(), "missing", "ns")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetDatabaseStats_CountsAcrossTables(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.StoreChatTurn(ctx, ChatTurn{ChatID: "c1", Namespace: "ns"})
	id, _ := s.StoreLongTermMemory(ctx, MemoryRecord{Classification: ClassConsciousInfo, Importance: ImportanceHigh}, "c1", "ns")
	_, _ = s.StoreConsciousMemoryInShortTerm(ctx, MemoryRecord{Content: "x"}, id, "ns")

	stats, err := s.GetDatabaseStats(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ConversationCount)
	assert.Equal(t, 1, stats.LongTermMemoryCount)
	assert.Equal(t, 1, stats.ShortTermMemoryCount)
	assert.Equal(t, 1, stats.ConsciousMemoryCount)
}
