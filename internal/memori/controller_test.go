package memori

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memori-ai/memori/internal/config"
	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/extractor"
	"github.com/memori-ai/memori/internal/llm"
	"github.com/memori-ai/memori/internal/state"
	"github.com/memori-ai/memori/internal/storage"
)

type stubChatter struct {
	content string
}

func (s *stubChatter) CreateChatCompletion(ctx context.Context, params llm.ChatParams) (llm.ChatResponse, error) {
	return llm.ChatResponse{Content: s.content}, nil
}

func newTestExtractor() *extractor.Agent {
	return extractor.New(&stubChatter{content: "not json, forces fallback"}, "test-model")
}

func TestEnable_FailsOnSecondCall(t *testing.T) {
	c := New(storage.NewMemoryStore(), state.New(), newTestExtractor(), "ns", config.ModeManual, 0)
	require.NoError(t, c.Enable(context.Background()))
	assert.ErrorIs(t, c.Enable(context.Background()), errs.ErrAlreadyEnabled)
}

func TestClose_IsIdempotent(t *testing.T) {
	c := New(storage.NewMemoryStore(), state.New(), newTestExtractor(), "ns", config.ModeManual, 0)
	require.NoError(t, c.Enable(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Close(context.Background()))
	assert.False(t, c.IsEnabled())
}

func TestRecordConversation_FailsBeforeEnable(t *testing.T) {
	c := New(storage.NewMemoryStore(), state.New(), newTestExtractor(), "ns", config.ModeManual, 0)
	_, err := c.RecordConversation(context.Background(), "hi", "hello", RecordOptions{})
	assert.ErrorIs(t, err, errs.ErrNotEnabled)
}

func TestRecordConversation_ManualModePersistsTurnOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	c := New(store, state.New(), newTestExtractor(), "ns", config.ModeManual, 0)
	require.NoError(t, c.Enable(context.Background()))
	defer c.Close(context.Background())

	chatID, err := c.RecordConversation(context.Background(), "hi", "hello", RecordOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, chatID)

	turns, err := store.UnprocessedChatTurns(context.Background(), "ns")
	require.NoError(t, err)
	assert.Len(t, turns, 1, "manual mode never invokes C3, so the turn stays unprocessed")
}

func TestRecordConversation_ConsciousModeDefersExtraction(t *testing.T) {
	store := storage.NewMemoryStore()
	c := New(store, state.New(), newTestExtractor(), "ns", config.ModeConscious, time.Hour)
	require.NoError(t, c.Enable(context.Background()))
	defer c.Close(context.Background())

	chatID, err := c.RecordConversation(context.Background(), "remember this", "ok", RecordOptions{})
	require.NoError(t, err)

	turns, err := store.UnprocessedChatTurns(context.Background(), "ns")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, chatID, turns[0].ChatID)
	assert.True(t, c.IsBackgroundMonitoringActive())
}

func TestRecordConversation_AutomaticModeExtractsAsynchronously(t *testing.T) {
	store := storage.NewMemoryStore()
	c := New(store, state.New(), newTestExtractor(), "ns", config.ModeAutomatic, 0)
	require.NoError(t, c.Enable(context.Background()))
	defer c.Close(context.Background())

	chatID, err := c.RecordConversation(context.Background(), "remember this", "ok", RecordOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, chatID)

	// Close waits on the detached extraction task (asyncWG) before
	// returning, so by the time it returns the MemoryRecord must exist.
	require.NoError(t, c.Close(context.Background()))

	turns, err := store.UnprocessedChatTurns(context.Background(), "ns")
	require.NoError(t, err)
	assert.Empty(t, turns, "automatic mode's detached task must have stored a MemoryRecord by the time Close drains it")
}

func TestSearchMemories_RequiresEnabled(t *testing.T) {
	c := New(storage.NewMemoryStore(), state.New(), newTestExtractor(), "ns", config.ModeManual, 0)
	_, err := c.SearchMemories(context.Background(), "q", storage.SearchOptions{})
	assert.ErrorIs(t, err, errs.ErrNotEnabled)
}

func TestCheckForConsciousContextUpdates_WrongModeOutsideConscious(t *testing.T) {
	c := New(storage.NewMemoryStore(), state.New(), newTestExtractor(), "ns", config.ModeManual, 0)
	require.NoError(t, c.Enable(context.Background()))
	defer c.Close(context.Background())

	_, err := c.CheckForConsciousContextUpdates(context.Background())
	assert.ErrorIs(t, err, errs.ErrWrongMode)
}

func TestSetBackgroundUpdateInterval_RestartsRunningLoop(t *testing.T) {
	c := New(storage.NewMemoryStore(), state.New(), newTestExtractor(), "ns", config.ModeConscious, time.Hour)
	require.NoError(t, c.Enable(context.Background()))
	defer c.Close(context.Background())

	require.True(t, c.IsBackgroundMonitoringActive())
	c.SetBackgroundUpdateInterval(5)
	assert.True(t, c.IsBackgroundMonitoringActive())
}

func TestModeIntrospection(t *testing.T) {
	auto := New(storage.NewMemoryStore(), state.New(), newTestExtractor(), "ns", config.ModeAutomatic, 0)
	assert.True(t, auto.IsAutoModeEnabled())
	assert.False(t, auto.IsConsciousModeEnabled())

	conscious := New(storage.NewMemoryStore(), state.New(), newTestExtractor(), "ns", config.ModeConscious, 0)
	assert.True(t, conscious.IsConsciousModeEnabled())
	assert.False(t, conscious.IsAutoModeEnabled())
}
