package local

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/llm"
)

func TestCreateChatCompletion_PostsToAPIChat(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(chatResponse{
			Model:           "llama3",
			Message:         chatMessage{Role: "assistant", Content: "hi there"},
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 5,
			EvalCount:       3,
		})
	}))
	t.Cleanup(srv.Close)

	client := New(Config{Model: "llama3", BaseURL: srv.URL}, srv.Client())
	out, err := client.CreateChatCompletion(context.Background(), llm.ChatParams{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/chat", gotPath)
	assert.Equal(t, "hi there", out.Content)
	assert.Equal(t, llm.FinishStop, out.FinishReason)
	assert.Equal(t, 5, out.Usage.PromptTokens)
	assert.Equal(t, 3, out.Usage.CompletionTokens)
}

func TestCreateEmbedding_RejectsCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Model: "llama3", Embeddings: [][]float32{{0.1}}})
	}))
	t.Cleanup(srv.Close)

	client := New(Config{Model: "llama3", BaseURL: srv.URL}, srv.Client())
	_, err := client.CreateEmbedding(context.Background(), llm.EmbeddingParams{Input: []string{"a", "b"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrTransport)
}

func TestInitialize_FallsBackToVersionEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := New(Config{BaseURL: srv.URL}, srv.Client())
	require.NoError(t, client.Initialize(context.Background()))
	assert.True(t, client.IsHealthy(context.Background()))
}

func TestInitialize_UnreachableIsUnhealthy(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:1"}, http.DefaultClient)
	err := client.Initialize(context.Background())
	require.Error(t, err)
	assert.False(t, client.IsHealthy(context.Background()))
}
