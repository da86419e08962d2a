package model

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"mdrag/types"
)

// Provider turns text into fixed-dimension vectors.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	MaxTokens() int
	Name() string
}

// CorpusInitializer is implemented by providers whose vector space is derived
// from the indexed corpus. InitializeWithCorpus is a no-op once initialised.
type CorpusInitializer interface {
	InitializeWithCorpus(texts []string)
	Initialized() bool
}

// NewProvider builds the provider selected by cfg.EmbeddingProvider.
func NewProvider(cfg *types.Config, logger *slog.Logger) (Provider, error) {
	client := &http.Client{Timeout: cfg.EmbeddingTimeout}
	switch cfg.EmbeddingProvider {
	case "tfidf":
		logger.Info("using TF-IDF embeddings", "dimension", cfg.EmbeddingDimension)
		return NewTfIdfProvider(cfg.EmbeddingDimension), nil
	case "remote":
		logger.Info("using remote embeddings", "endpoint", cfg.EmbeddingEndpoint)
		return NewRemoteProvider(cfg.EmbeddingEndpoint, cfg.EmbeddingDimension, client, NewTokenCounter(logger)), nil
	case "local":
		logger.Info("using local Ollama embeddings", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbeddingDimension, client, NewTokenCounter(logger)), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", types.ErrValidation, cfg.EmbeddingProvider)
	}
}
