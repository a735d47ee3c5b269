// Package storage implements the Storage Engine (spec §4.5, C5): row-level
// persistence for chat turns, long-term and short-term memory records,
// relationships and transition history, plus ranked search and statistics.
package storage

import "time"

// ChatTurn is a raw conversation unit (spec §3 ChatTurn). Immutable after
// insert.
type ChatTurn struct {
	ChatID    string
	SessionID string
	Namespace string
	UserInput string
	AIOutput  string
	ModelUsed string
	Timestamp time.Time
	Metadata  map[string]any
}

// Classification mirrors internal/extractor.Classification; storage keeps
// its own string type so this package has no dependency on the extractor.
type Classification string

const (
	ClassEssential      Classification = "essential"
	ClassContextual     Classification = "contextual"
	ClassConversational Classification = "conversational"
	ClassReference      Classification = "reference"
	ClassPersonal       Classification = "personal"
	ClassConsciousInfo  Classification = "conscious-info"
)

// Importance mirrors internal/extractor.Importance.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// Score returns the fixed derivation from spec §3:
// {low:0.3, medium:0.5, high:0.7, critical:0.9}.
func (i Importance) Score() float64 {
	switch i {
	case ImportanceLow:
		return 0.3
	case ImportanceMedium:
		return 0.5
	case ImportanceHigh:
		return 0.7
	case ImportanceCritical:
		return 0.9
	default:
		return 0.5
	}
}

// MemoryRecord is the long-term structured projection of a ChatTurn (spec
// §3 MemoryRecord).
type MemoryRecord struct {
	ID                   string
	ConversationID       string
	Namespace            string
	Content              string
	Summary              string
	Classification       Classification
	Importance           Importance
	ImportanceScore      float64
	Topic                string
	Entities             []string
	Keywords             []string
	ConfidenceScore      float64
	ClassificationReason string
	PromotionEligible    bool
	ExtractionTimestamp  time.Time
	ConsciousProcessed   bool

	// ConsolidatedInto records the back-reference left by
	// consolidateDuplicateMemories (spec §4.5), mirroring
	// processedData.consolidatedInto on a duplicate after consolidation.
	ConsolidatedInto string
}

// ShortTermRecord is the working-set projection copied by the Conscious
// Agent (spec §3 ShortTermRecord).
type ShortTermRecord struct {
	ID                 string
	ChatID             string
	ProcessedData       string
	ImportanceScore    float64
	CategoryPrimary    string
	RetentionType      string
	Namespace          string
	SearchableContent  string
	Summary            string
	IsPermanentContext bool
	CreatedAt          time.Time
}

// RelationshipType enumerates the directed-edge kinds from spec §3.
type RelationshipType string

const (
	RelReference    RelationshipType = "reference"
	RelContinuation RelationshipType = "continuation"
	RelContradiction RelationshipType = "contradiction"
	RelElaboration  RelationshipType = "elaboration"
	RelSupersedes   RelationshipType = "supersedes"
)

// MemoryRelationship is a directed edge between two MemoryRecords (spec §3
// MemoryRelationship).
type MemoryRelationship struct {
	SourceID   string
	TargetID   string
	Type       RelationshipType
	Confidence float64
	Strength   float64
	Reason     string
	Entities   []string
	Context    map[string]any
}

// RelationshipWriteError names the id and reason a relationship write was
// skipped, reported back as part of storeMemoryRelationships's {stored,
// errors} result.
type RelationshipWriteError struct {
	SourceID string
	TargetID string
	Reason   string
}

// ConsolidationError names an id and reason a consolidation candidate was
// rejected by consolidateDuplicateMemories's safety checks.
type ConsolidationError struct {
	DuplicateID string
	Reason      string
}

// SortDirection is the direction of a searchMemories sortBy option.
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// SortBy names the field and direction a caller may request search results
// be ordered by, overriding the default ranked order.
type SortBy struct {
	Field     string
	Direction SortDirection
}

// SearchOptions narrows and orders a searchMemories call (spec §4.5
// Search).
type SearchOptions struct {
	Namespace       string
	Limit           int
	Offset          int
	MinImportance   Importance
	Categories      []Classification
	IncludeMetadata bool
	SortBy          *SortBy
}

// DefaultSearchLimit is applied when SearchOptions.Limit is unset (spec
// §4.5: "limit default 5").
const DefaultSearchLimit = 5

// Stats is the result of getDatabaseStats (spec §4.5 Statistics).
type Stats struct {
	Namespace             string
	ConversationCount     int
	LongTermMemoryCount   int
	ShortTermMemoryCount  int
	ConsciousMemoryCount  int
	MostRecentActivity    time.Time
}
