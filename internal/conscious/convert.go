package conscious

import (
	"github.com/memori-ai/memori/internal/extractor"
	"github.com/memori-ai/memori/internal/storage"
)

// toStorageRecord maps a C3 extraction result onto the C5 persistence
// shape. The two packages define parallel Classification/Importance
// taxonomies (spec §3) rather than sharing one, so this is a same-values
// string cast, not a lossy conversion.
func toStorageRecord(r extractor.Record) storage.MemoryRecord {
	return storage.MemoryRecord{
		ConversationID:       r.ConversationID,
		Content:              r.Content,
		Summary:              r.Summary,
		Classification:       storage.Classification(r.Classification),
		Importance:           storage.Importance(r.Importance),
		ImportanceScore:      r.ImportanceScore,
		Topic:                r.Topic,
		Entities:             r.Entities,
		Keywords:             r.Keywords,
		ConfidenceScore:      r.ConfidenceScore,
		ClassificationReason: r.ClassificationReason,
		PromotionEligible:    r.PromotionEligible,
	}
}
