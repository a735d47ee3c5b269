package providers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_ExplicitWins(t *testing.T) {
	assert.Equal(t, KindAnthropic, Detect("anthropic", "sk-not-used"))
}

func TestDetect_ByKeyPrefix(t *testing.T) {
	assert.Equal(t, KindAnthropic, Detect("", "sk-ant-abc123"))
	assert.Equal(t, KindLocal, Detect("", "ollama-local"))
	assert.Equal(t, KindOpenAI, Detect("", "sk-abcdefghijklmnopqrstuvwxyz"))
}

func TestDetect_DefaultsToOpenAI(t *testing.T) {
	assert.Equal(t, KindOpenAI, Detect("", ""))
	assert.Equal(t, KindOpenAI, Detect("", "short"))
}

func TestBuild_EachKind(t *testing.T) {
	for _, k := range []Kind{KindOpenAI, KindAnthropic, KindLocal, ""} {
		p, err := Build(k, Params{APIKey: "k", Model: "m"}, http.DefaultClient)
		require.NoError(t, err)
		require.NotNil(t, p)
	}
}

func TestBuild_UnknownKind(t *testing.T) {
	_, err := Build(Kind("bogus"), Params{}, http.DefaultClient)
	require.Error(t, err)
}
