package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mdrag/types"
)

const remoteMaxTokens = 512

// RemoteProvider calls an HTTP embedding service:
// POST {"texts": [...]} returning a JSON array of vectors.
type RemoteProvider struct {
	endpoint string
	dim      int
	client   *http.Client
	tokens   TokenCounter
}

type remoteEmbedRequest struct {
	Texts []string `json:"texts"`
}

func NewRemoteProvider(endpoint string, dim int, client *http.Client, tokens TokenCounter) *RemoteProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if tokens == nil {
		tokens = EstimateCounter{}
	}
	return &RemoteProvider{endpoint: endpoint, dim: dim, client: client, tokens: tokens}
}

func (p *RemoteProvider) Name() string   { return "remote" }
func (p *RemoteProvider) Dimension() int { return p.dim }
func (p *RemoteProvider) MaxTokens() int { return remoteMaxTokens }

func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", types.ErrValidation)
	}
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *RemoteProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	req := remoteEmbedRequest{Texts: make([]string, len(texts))}
	for i, t := range texts {
		req.Texts[i] = p.tokens.Truncate(t, remoteMaxTokens)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: embedding API status %d: %s", types.ErrProvider, resp.StatusCode, string(msg))
	}

	var vecs [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vecs); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", types.ErrProvider, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", types.ErrProvider, len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) != p.dim {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d", types.ErrProvider, i, len(v), p.dim)
		}
	}
	return vecs, nil
}
