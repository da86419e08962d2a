package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls    int
	batched  [][]string
	embedded []string
}

func (p *countingProvider) Name() string   { return "counting" }
func (p *countingProvider) Dimension() int { return 2 }
func (p *countingProvider) MaxTokens() int { return 10 }

func (p *countingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.calls++
	p.embedded = append(p.embedded, text)
	return []float32{float32(len(text)), 0}, nil
}

func (p *countingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.calls++
	p.batched = append(p.batched, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0}
	}
	return out, nil
}

func TestCachedProvider_Embed(t *testing.T) {
	inner := &countingProvider{}
	c, err := NewCachedProvider(inner, 10)
	require.NoError(t, err)

	a, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	b, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, c.Len())
}

func TestCachedProvider_EmbedBatchOnlyMissing(t *testing.T) {
	inner := &countingProvider{}
	c, err := NewCachedProvider(inner, 10)
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "cached")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"cached", "new", "other"})

	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{6, 0}, vecs[0])
	assert.Equal(t, []float32{3, 0}, vecs[1])
	assert.Equal(t, [][]string{{"new", "other"}}, inner.batched)
}

func TestCachedProvider_SkipsUninitialisedVocabulary(t *testing.T) {
	tfidf := NewTfIdfProvider(8)
	c, err := NewCachedProvider(tfidf, 10)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "sprite")
	require.NoError(t, err)
	assert.Zero(t, c.Len())

	c.InitializeWithCorpus([]string{"sprite palette", "register port", "basic listing"})
	assert.True(t, c.Initialized())

	v, err := c.Embed(context.Background(), "sprite")
	require.NoError(t, err)
	assert.NotZero(t, magnitude(v))
	assert.Equal(t, 1, c.Len())
}
