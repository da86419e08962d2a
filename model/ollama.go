package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"mdrag/types"
)

const ollamaMaxTokens = 512

// OllamaProvider embeds text with a locally served Ollama model.
type OllamaProvider struct {
	apiURL string
	model  string
	dim    int
	client *http.Client
	tokens TokenCounter
}

type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaProvider(apiURL, model string, dim int, client *http.Client, tokens TokenCounter) *OllamaProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if tokens == nil {
		tokens = EstimateCounter{}
	}
	return &OllamaProvider{apiURL: apiURL, model: model, dim: dim, client: client, tokens: tokens}
}

func (e *OllamaProvider) Name() string   { return "local" }
func (e *OllamaProvider) Dimension() int { return e.dim }
func (e *OllamaProvider) MaxTokens() int { return ollamaMaxTokens }

func (e *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", types.ErrValidation)
	}
	return e.embed(ctx, text)
}

// EmbedBatch issues one request per text; Ollama's embeddings endpoint takes a single prompt.
func (e *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *OllamaProvider) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(OllamaEmbeddingRequest{
		Model:  e.model,
		Prompt: e.tokens.Truncate(text, ollamaMaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: ollama API status %d: %s", types.ErrProvider, resp.StatusCode, string(msg))
	}

	var ollamaResp OllamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", types.ErrProvider, err)
	}
	if len(ollamaResp.Embedding) != e.dim {
		return nil, fmt.Errorf("%w: model %s returned dimension %d, want %d",
			types.ErrProvider, e.model, len(ollamaResp.Embedding), e.dim)
	}

	norm := normalize64(ollamaResp.Embedding)
	embedding := make([]float32, len(norm))
	for i, v := range norm {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

func normalize64(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i, x := range vec {
		vec[i] = x / norm
	}
	return vec
}
