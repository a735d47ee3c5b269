package memori

import (
	"github.com/memori-ai/memori/internal/extractor"
	"github.com/memori-ai/memori/internal/storage"
)

// toStorageRecord maps a C3 extraction result onto the C5 persistence
// shape (spec §3: both packages define the same MemoryRecord fields
// against their own parallel Classification/Importance taxonomies).
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
