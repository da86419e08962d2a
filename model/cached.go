package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 1000

// CachedProvider memoises embeddings in an LRU keyed by the text's SHA-256.
// Nothing is cached while a corpus-derived provider has no vocabulary yet.
type CachedProvider struct {
	Provider
	cache *lru.Cache[string, []float32]
}

func NewCachedProvider(inner Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{Provider: inner, cache: cache}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedProvider) cacheable() bool {
	if ci, ok := c.Provider.(CorpusInitializer); ok {
		return ci.Initialized()
	}
	return true
}

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.Provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if c.cacheable() {
		c.cache.Add(key, vec)
	}
	return vec, nil
}

// EmbedBatch only sends the texts missing from the cache to the provider.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.cacheable() {
		// Let the provider see the whole corpus.
		return c.Provider.EmbedBatch(ctx, texts)
	}

	out := make([][]float32, len(texts))
	var (
		missing   []string
		missingAt []int
	)
	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.Provider.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missingAt[j]] = vec
		c.cache.Add(cacheKey(missing[j]), vec)
	}
	return out, nil
}

// InitializeWithCorpus forwards to the wrapped provider when it supports it.
func (c *CachedProvider) InitializeWithCorpus(texts []string) {
	if ci, ok := c.Provider.(CorpusInitializer); ok {
		ci.InitializeWithCorpus(texts)
	}
}

func (c *CachedProvider) Initialized() bool {
	return c.cacheable()
}

func (c *CachedProvider) Len() int {
	return c.cache.Len()
}
