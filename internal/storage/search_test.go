package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccard("the quick fox", "the quick fox"))
	assert.Equal(t, 0.0, jaccard("apples", "oranges"))
	got := jaccard("the quick brown fox", "the quick fox jumps")
	assert.InDelta(t, 3.0/5.0, got, 0.001)
}

func TestRankAndPage_FiltersByMinImportanceAndCategory(t *testing.T) {
	now := time.Now().UTC()
	records := []MemoryRecord{
		{ID: "a", Content: "cats are great", ImportanceScore: ImportanceLow.Score(), Classification: ClassPersonal, ExtractionTimestamp: now},
		{ID: "b", Content: "cats are great", ImportanceScore: ImportanceHigh.Score(), Classification: ClassEssential, ExtractionTimestamp: now},
	}
	opts := SearchOptions{MinImportance: ImportanceMedium, Categories: []Classification{ClassEssential}}
	out := rankAndPage("cats", records, opts, now)
	assert.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}

func TestRankAndPage_DefaultLimitAndOffset(t *testing.T) {
	now := time.Now().UTC()
	var records []MemoryRecord
	for i := 0; i < 10; i++ {
		records = append(records, MemoryRecord{ID: string(rune('a' + i)), Content: "x", ImportanceScore: 0.5, ExtractionTimestamp: now})
	}
	out := rankAndPage("x", records, SearchOptions{}, now)
	assert.Len(t, out, DefaultSearchLimit)

	out = rankAndPage("x", records, SearchOptions{Limit: 3, Offset: 8}, now)
	assert.Len(t, out, 2)
}

func TestRankAndPage_TiebreaksByMemoryID(t *testing.T) {
	now := time.Now().UTC()
	records := []MemoryRecord{
		{ID: "zzz", Content: "hello", ImportanceScore: 0.5, ExtractionTimestamp: now},
		{ID: "aaa", Content: "hello", ImportanceScore: 0.5, ExtractionTimestamp: now},
	}
	out := rankAndPage("hello", records, SearchOptions{}, now)
	assert.Equal(t, "aaa", out[0].ID)
}

func TestRankAndPage_SortByOverride(t *testing.T) {
	now := time.Now().UTC()
	records := []MemoryRecord{
		{ID: "a", ImportanceScore: 0.3},
		{ID: "b", ImportanceScore: 0.9},
	}
	out := rankAndPage("", records, SearchOptions{SortBy: &SortBy{Field: "importanceScore", Direction: SortDescending}}, now)
	assert.Equal(t, "b", out[0].ID)
}
