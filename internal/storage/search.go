package storage

import (
	"sort"
	"strings"
	"time"
)

// tokenize lowercases and splits on whitespace, per spec §4.5 ("tokenised,
// case-insensitive") and the Jaccard similarity contract in §4.5/§9 ("no
// stemming, no stopword removal — exact whitespace/lowercase tokenisation").
func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func tokenSet(s string) map[string]struct{} {
	toks := tokenize(s)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard computes |A∩B| / |A∪B| over whitespace-lowercase token sets
// (spec §4.5 findPotentialDuplicates / §4.6 Consolidation routine). It is
// exported so C6 can score individual pairs within a duplicate candidate
// set returned by Store.FindPotentialDuplicates.
func Jaccard(a, b string) float64 {
	return jaccard(a, b)
}

// jaccard computes |A∩B| / |A∪B| over whitespace-lowercase token sets.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// lexicalScore is the bounded [0,1] fraction of query's tokens that appear
// in content's token set; every matched token counts the same, with no
// extra weight for multi-token matches. It is deliberately simple lexical
// overlap, not a BM25/tf-idf
// model: spec §4.5 specifies only a ranking order, not a scoring formula.
func lexicalScore(query, content string) float64 {
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return 0
	}
	contentSet := tokenSet(content)
	matched := 0
	for _, t := range qTokens {
		if _, ok := contentSet[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(qTokens))
}

// recencyBoost is a mild additive decay favouring more recent
// extractionTimestamps, bounded to [0, 0.1] so it never dominates lexical
// match or importance (spec §4.5 ranking precedence: lexical > importance
// > recency > tiebreak).
func recencyBoost(ts time.Time, now time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	const halfLife = 30 * 24 * time.Hour
	decay := 1.0
	if age > 0 {
		decay = 1.0 / (1.0 + float64(age)/float64(halfLife))
	}
	return 0.1 * decay
}

// rankScore combines the three ranking signals per spec §4.5's descending
// precedence: each matched query token adds 2, more than the widest
// importance-plus-recency difference (at most 1.0), so lexical match
// always outranks importance; importanceScore is an additive boost,
// recency a mild additive decay.
func rankScore(query string, r MemoryRecord, now time.Time) float64 {
	matched := lexicalScore(query, r.SearchableContentFallback()) * float64(len(tokenize(query)))
	return 2*matched + r.ImportanceScore + recencyBoost(r.ExtractionTimestamp, now)
}

// SearchableContentFallback returns Content, Summary and Topic joined by
// spaces. Long-term MemoryRecords have no distinct searchableContent
// column in §3 (that field belongs to ShortTermRecord), so this joined
// text stands in for it.
func (r MemoryRecord) SearchableContentFallback() string {
	return r.Content + " " + r.Summary + " " + r.Topic
}

func meetsMinImportance(r MemoryRecord, min Importance) bool {
	if min == "" {
		return true
	}
	return r.ImportanceScore >= min.Score()
}

func matchesCategory(r MemoryRecord, cats []Classification) bool {
	if len(cats) == 0 {
		return true
	}
	for _, c := range cats {
		if r.Classification == c {
			return true
		}
	}
	return false
}

// rankAndPage applies the full spec §4.5 ranking order, optional
// SortBy override, minImportance/categories filters, and limit/offset
// paging to an already-namespace-scoped candidate set.
func rankAndPage(query string, candidates []MemoryRecord, opts SearchOptions, now time.Time) []MemoryRecord {
	filtered := make([]MemoryRecord, 0, len(candidates))
	for _, r := range candidates {
		if !meetsMinImportance(r, opts.MinImportance) {
			continue
		}
		if !matchesCategory(r, opts.Categories) {
			continue
		}
		filtered = append(filtered, r)
	}

	if opts.SortBy != nil {
		sortByField(filtered, *opts.SortBy)
	} else {
		sort.SliceStable(filtered, func(i, j int) bool {
			si, sj := rankScore(query, filtered[i], now), rankScore(query, filtered[j], now)
			if si != sj {
				return si > sj
			}
			// deterministic tiebreak by memoryId (spec §4.5 ranking #4).
			return filtered[i].ID < filtered[j].ID
		})
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(filtered) {
		return []MemoryRecord{}
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end]
}

func sortByField(records []MemoryRecord, by SortBy) {
	less := func(i, j int) bool {
		a, b := records[i], records[j]
		switch by.Field {
		case "importanceScore":
			return a.ImportanceScore < b.ImportanceScore
		case "extractionTimestamp":
			return a.ExtractionTimestamp.Before(b.ExtractionTimestamp)
		case "confidenceScore":
			return a.ConfidenceScore < b.ConfidenceScore
		default:
			return a.ID < b.ID
		}
	}
	if by.Direction == SortDescending {
		sort.SliceStable(records, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(records, less)
}
