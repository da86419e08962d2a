package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdrag/types"
)

func TestOllamaProvider_EmbedNormalises(t *testing.T) {
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OllamaEmbeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		prompts = append(prompts, req.Prompt)
		_ = json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "all-minilm", 2, srv.Client(), EstimateCounter{})
	vecs, err := p.EmbedBatch(context.Background(), []string{"first", "second"})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, prompts)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 0.6, vecs[0][0], 1e-6)
	assert.InDelta(t, 0.8, vecs[0][1], 1e-6)
}

func TestOllamaProvider_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{1, 2, 3}})
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "m", 2, srv.Client(), nil).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, types.ErrProvider)
}

func TestNormalize64_ZeroVector(t *testing.T) {
	assert.Equal(t, []float64{0, 0}, normalize64([]float64{0, 0}))
}
