package extractor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/memori-ai/memori/internal/llm"
	"github.com/memori-ai/memori/internal/observability"
)

const (
	extractionTemperature = 0.1
	extractionMaxTokens   = 1000
)

// Chatter is the subset of llm.Provider (or an envelope wrapping one)
// this agent needs. Accepting an interface rather than a concrete
// envelope keeps the agent testable with a stub.
type Chatter interface {
	CreateChatCompletion(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error)
}

// Agent is the Memory Extractor Agent (C3).
type Agent struct {
	chatter Chatter
	model   string
}

// New builds an Agent that prompts chatter (typically a C2 envelope).
func New(chatter Chatter, model string) *Agent {
	return &Agent{chatter: chatter, model: model}
}

// ProcessConversation is the C3 contract: processConversation({chatId,
// userInput, aiOutput, context}) → MemoryRecord (spec §4.3). Every
// failure mode — transport error, malformed JSON, schema violation — is
// absorbed into the fallback record; this method never returns an error.
func (a *Agent) ProcessConversation(ctx context.Context, in Input) Record {
	// The extractor's own call to the provider must not re-enter memory
	// recording or request caching (spec §4.2 Open question, §5 Recursion
	// guard, §9).
	ctx = llm.WithInternalCall(ctx)

	system, user := BuildPrompt(in)
	resp, err := a.chatter.CreateChatCompletion(ctx, llm.ChatParams{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: extractionTemperature,
		MaxTokens:   extractionMaxTokens,
	})
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("chatId", in.ChatID).Msg("extractor_transport_error_fallback")
		return fallback(in)
	}

	record, err := parse(resp.Content, in.ChatID)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("chatId", in.ChatID).Msg("extractor_parse_or_validation_error_fallback")
		return fallback(in)
	}
	return record
}

// wireRecord is the raw JSON shape the model is instructed to emit (spec
// §4.3 Prompt contract: exactly these keys).
type wireRecord struct {
	Content              string   `json:"content"`
	Summary              string   `json:"summary"`
	Classification       string   `json:"classification"`
	Importance           string   `json:"importance"`
	Topic                string   `json:"topic"`
	Entities             []string `json:"entities"`
	Keywords             []string `json:"keywords"`
	ConfidenceScore      float64  `json:"confidenceScore"`
	ClassificationReason string   `json:"classificationReason"`
	PromotionEligible    bool     `json:"promotionEligible"`
}

// parse strips any code-fence wrapper, unmarshals the JSON object, lower-
// cases classification/importance, defaults entities/keywords to empty
// arrays, injects conversationId, and validates against the §3 schema
// (spec §4.3 Parsing).
func parse(raw string, chatID string) (Record, error) {
	stripped := stripFences(raw)

	var wire wireRecord
	if err := json.Unmarshal([]byte(stripped), &wire); err != nil {
		return Record{}, err
	}

	rec := Record{
		ConversationID:       chatID,
		Content:              wire.Content,
		Summary:              wire.Summary,
		Classification:       Classification(strings.ToLower(strings.TrimSpace(wire.Classification))),
		Importance:           Importance(strings.ToLower(strings.TrimSpace(wire.Importance))),
		Topic:                wire.Topic,
		Entities:             wire.Entities,
		Keywords:             wire.Keywords,
		ConfidenceScore:      wire.ConfidenceScore,
		ClassificationReason: wire.ClassificationReason,
		PromotionEligible:    wire.PromotionEligible,
	}
	if rec.Entities == nil {
		rec.Entities = []string{}
	}
	if rec.Keywords == nil {
		rec.Keywords = []string{}
	}

	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	rec.ImportanceScore = rec.Importance.Score()
	return rec, nil
}

// stripFences removes a surrounding ```json ... ``` or ``` ... ``` fence,
// if present (spec §4.3 Parsing).
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// fallback synthesizes a record when extraction fails at any step (spec
// §4.3 Fallback). Never fatal to the overall recording.
func fallback(in Input) Record {
	summary := in.UserInput
	if len(summary) > 100 {
		summary = summary[:100]
	}
	summary += "…"

	return Record{
		ConversationID:       in.ChatID,
		Content:              in.UserInput + " " + in.AIOutput,
		Summary:              summary,
		Classification:       ClassConversational,
		Importance:           ImportanceMedium,
		ImportanceScore:      ImportanceMedium.Score(),
		Entities:             []string{},
		Keywords:             []string{},
		ConfidenceScore:      0.5,
		ClassificationReason: "Fallback processing due to error",
		PromotionEligible:    false,
	}
}
