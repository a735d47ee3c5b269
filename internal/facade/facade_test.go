package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memori-ai/memori/internal/config"
	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/memori"
)

func testConfig(mode config.ProcessingMode) config.Config {
	return config.Config{
		APIKey:   "sk-testtesttesttesttesttesttest",
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Mode:     mode,
	}
}

func TestNew_DefaultsNamespaceAndAssignsSessionID(t *testing.T) {
	m, err := New(context.Background(), testConfig(config.ModeManual))
	require.NoError(t, err)
	defer m.Close(context.Background())

	assert.NotEmpty(t, m.GetSessionID())
	assert.Equal(t, "openai", m.GetProviderType())
	assert.Equal(t, config.ModeManual, m.GetMode())
}

func TestNew_HonorsExplicitNamespace(t *testing.T) {
	cfg := testConfig(config.ModeManual)
	cfg.Namespace = "custom-ns"
	m, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer m.Close(context.Background())

	assert.Equal(t, "custom-ns", m.namespace)
}

func TestRecordConversation_ManualModeWorks(t *testing.T) {
	m, err := New(context.Background(), testConfig(config.ModeManual))
	require.NoError(t, err)
	defer m.Close(context.Background())

	chatID, err := m.RecordConversation(context.Background(), "hi", "hello", memori.RecordOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, chatID)
}

func TestRecordConversation_FailsInAutomaticMode(t *testing.T) {
	m, err := New(context.Background(), testConfig(config.ModeAutomatic))
	require.NoError(t, err)
	defer m.Close(context.Background())

	_, err = m.RecordConversation(context.Background(), "hi", "hello", memori.RecordOptions{})
	assert.ErrorIs(t, err, errs.ErrWrongMode)
}

func TestClose_IsSafeToCallOnce(t *testing.T) {
	m, err := New(context.Background(), testConfig(config.ModeConscious))
	require.NoError(t, err)
	assert.NoError(t, m.Close(context.Background()))
}

func TestEnvelopeOptionsForMode(t *testing.T) {
	auto := envelopeOptionsForMode(config.ModeAutomatic)
	assert.True(t, auto.EnableCache)
	assert.True(t, auto.EnablePool)

	manual := envelopeOptionsForMode(config.ModeManual)
	assert.False(t, manual.EnableCache)
	assert.False(t, manual.EnablePool)

	conscious := envelopeOptionsForMode(config.ModeConscious)
	assert.True(t, conscious.EnableCache)
	assert.True(t, conscious.EnablePool)
}
