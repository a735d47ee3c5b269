package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memori-ai/memori/internal/llm"
)

type stubChatter struct {
	resp llm.ChatResponse
	err  error
	gotInternalCall bool
}

func (s *stubChatter) CreateChatCompletion(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	s.gotInternalCall = llm.IsInternalCall(ctx)
	return s.resp, s.err
}

func TestProcessConversation_HappyPath(t *testing.T) {
	stub := &stubChatter{resp: llm.ChatResponse{Content: "```json\n" + `{
		"content": "user likes blue",
		"summary": "User's favorite color is blue",
		"classification": "ESSENTIAL",
		"importance": "HIGH",
		"topic": "preferences",
		"entities": ["blue"],
		"keywords": ["color", "favorite"],
		"confidenceScore": 0.9,
		"classificationReason": "stable preference",
		"promotionEligible": true
	}` + "\n```"}}
	agent := New(stub, "gpt-4o")

	rec := agent.ProcessConversation(context.Background(), Input{ChatID: "c1", UserInput: "My favorite color is blue.", AIOutput: "Noted!"})

	assert.True(t, stub.gotInternalCall, "extractor must mark its own calls as internal")
	assert.Equal(t, "c1", rec.ConversationID)
	assert.Equal(t, ClassEssential, rec.Classification)
	assert.Equal(t, ImportanceHigh, rec.Importance)
	assert.Equal(t, 0.7, rec.ImportanceScore)
	assert.Equal(t, []string{"blue"}, rec.Entities)
}

func TestProcessConversation_FallsBackOnMalformedJSON(t *testing.T) {
	stub := &stubChatter{resp: llm.ChatResponse{Content: "not json at all"}}
	agent := New(stub, "gpt-4o")

	rec := agent.ProcessConversation(context.Background(), Input{ChatID: "c1", UserInput: "hello", AIOutput: "world"})

	assert.Equal(t, "hello world", rec.Content)
	assert.Equal(t, ClassConversational, rec.Classification)
	assert.Equal(t, ImportanceMedium, rec.Importance)
	assert.Equal(t, 0.5, rec.ConfidenceScore)
	assert.Equal(t, "Fallback processing due to error", rec.ClassificationReason)
	assert.False(t, rec.PromotionEligible)
	assert.Equal(t, "hello…", rec.Summary)
}

func TestProcessConversation_FallsBackOnSchemaViolation(t *testing.T) {
	stub := &stubChatter{resp: llm.ChatResponse{Content: `{"content":"x","summary":"s","classification":"bogus","importance":"high","confidenceScore":0.5}`}}
	agent := New(stub, "gpt-4o")

	rec := agent.ProcessConversation(context.Background(), Input{ChatID: "c1", UserInput: "a", AIOutput: "b"})
	assert.Equal(t, ClassConversational, rec.Classification)
}

func TestProcessConversation_FallsBackOnTransportError(t *testing.T) {
	stub := &stubChatter{err: assert.AnError}
	agent := New(stub, "gpt-4o")

	rec := agent.ProcessConversation(context.Background(), Input{ChatID: "c1", UserInput: "a", AIOutput: "b"})
	assert.Equal(t, ClassConversational, rec.Classification)
}

func TestFallback_TruncatesSummaryAtHundredChars(t *testing.T) {
	long := ""
	for i := 0; i < 150; i++ {
		long += "x"
	}
	rec := fallback(Input{ChatID: "c", UserInput: long, AIOutput: "y"})
	require.Len(t, []rune(rec.Summary)[:100], 100)
	assert.True(t, len(rec.Summary) > 100)
}

func TestImportance_Score(t *testing.T) {
	assert.Equal(t, 0.3, ImportanceLow.Score())
	assert.Equal(t, 0.5, ImportanceMedium.Score())
	assert.Equal(t, 0.7, ImportanceHigh.Score())
	assert.Equal(t, 0.9, ImportanceCritical.Score())
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
