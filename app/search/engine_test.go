package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdrag/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeProvider struct {
	vec []float32
	err error
}

func (p fakeProvider) Embed(context.Context, string) ([]float32, error) { return p.vec, p.err }
func (p fakeProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not used")
}
func (fakeProvider) Dimension() int { return 2 }
func (fakeProvider) MaxTokens() int { return 100 }
func (fakeProvider) Name() string   { return "fake" }

type fakeStore struct {
	chunks   []types.Chunk
	docs     map[uuid.UUID]types.Document
	gotTags  []string
	gotLimit int
}

func (s *fakeStore) SearchCandidates(_ context.Context, tags []string, limit int) ([]types.Chunk, error) {
	s.gotTags, s.gotLimit = tags, limit
	return s.chunks, nil
}

func (s *fakeStore) GetChunksInRange(_ context.Context, docID uuid.UUID, from, to int) ([]types.Chunk, error) {
	var out []types.Chunk
	for _, c := range s.chunks {
		if c.DocumentID == docID && c.ChunkIndex >= from && c.ChunkIndex <= to {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) GetDocumentsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]types.Document, error) {
	out := make(map[uuid.UUID]types.Document)
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func fixture() (*fakeStore, uuid.UUID, uuid.UUID) {
	docA, docB := uuid.New(), uuid.New()
	st := &fakeStore{
		chunks: []types.Chunk{
			{ID: uuid.New(), DocumentID: docA, ChunkIndex: 0, Content: "a0", Embedding: []float32{1, 0}},
			{ID: uuid.New(), DocumentID: docA, ChunkIndex: 1, Content: "a1", Embedding: []float32{0.8, 0.6}},
			{ID: uuid.New(), DocumentID: docA, ChunkIndex: 2, Content: "a2", Embedding: []float32{0, 1}},
			{ID: uuid.New(), DocumentID: docB, ChunkIndex: 0, Content: "b0", Embedding: []float32{0.6, 0.8}},
			{ID: uuid.New(), DocumentID: docB, ChunkIndex: 1, Content: "bad", Embedding: []float32{1, 0, 0}},
		},
		docs: map[uuid.UUID]types.Document{
			docA: {ID: docA, FileName: "a.md", Title: "A", FilePath: "a.md",
				Tags: []types.DocumentTag{{TagName: "C"}, {TagName: "tools"}}},
			docB: {ID: docB, FileName: "b.md", Title: "B", FilePath: "sub/b.md"},
		},
	}
	return st, docA, docB
}

func TestSearch_RanksAndFilters(t *testing.T) {
	st, docA, _ := fixture()
	engine := NewEngine(st, fakeProvider{vec: []float32{1, 0}}, 0, discard)

	req := types.NewSearchRequest()
	req.Query = "anything"
	req.MinSimilarityScore = 0.5
	req.Tags = []string{"C"}
	resp, err := engine.Search(context.Background(), req)

	require.NoError(t, err)
	require.Equal(t, 3, resp.TotalResults)
	assert.Equal(t, []string{"a0", "a1", "b0"}, []string{resp.Results[0].Content, resp.Results[1].Content, resp.Results[2].Content})
	assert.InDelta(t, 1.0, resp.Results[0].SimilarityScore, 1e-9)
	assert.InDelta(t, 0.8, resp.Results[1].SimilarityScore, 1e-6)
	assert.Equal(t, []string{"C"}, st.gotTags)
	assert.Equal(t, DefaultCandidatePool, st.gotLimit)

	require.NotNil(t, resp.Results[0].Document)
	assert.Equal(t, docA, resp.Results[0].Document.DocumentID)
	assert.Equal(t, []string{"C", "tools"}, resp.Results[0].Document.Tags)
	assert.Nil(t, resp.Results[0].Context)
	assert.Equal(t, 1, resp.Results[1].Position.ChunkIndex)
}

func TestSearch_MaxResultsAndClamping(t *testing.T) {
	st, _, _ := fixture()
	engine := NewEngine(st, fakeProvider{vec: []float32{1, 0}}, 10, discard)

	resp, err := engine.Search(context.Background(), types.SearchRequest{
		Query:              "q",
		MaxResults:         1,
		MinSimilarityScore: -3,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a0", resp.Results[0].Content)
	assert.Zero(t, resp.Filters.MinSimilarityScore)
	assert.Nil(t, resp.Results[0].Document)

	resp, err = engine.Search(context.Background(), types.SearchRequest{Query: "q", MaxResults: 500})
	require.NoError(t, err)
	assert.Equal(t, types.MaxSearchResults, resp.Filters.MaxResults)
	assert.Equal(t, 10, st.gotLimit)
}

func TestSearch_IncludeContext(t *testing.T) {
	st, _, _ := fixture()
	engine := NewEngine(st, fakeProvider{vec: []float32{0.8, 0.6}}, 0, discard)

	req := types.NewSearchRequest()
	req.Query = "q"
	req.MinSimilarityScore = 0.99
	req.IncludeContext = true
	resp, err := engine.Search(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.NotNil(t, resp.Results[0].Context)
	assert.Equal(t, "a0\n\n...\n\na1\n\n...\n\na2", *resp.Results[0].Context)
}

func TestSearch_EmptyQuery(t *testing.T) {
	st, _, _ := fixture()
	engine := NewEngine(st, fakeProvider{err: errors.New("must not be called")}, 0, discard)

	resp, err := engine.Search(context.Background(), types.SearchRequest{Query: "   "})

	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.TotalResults)
}

func TestSearch_ProviderError(t *testing.T) {
	st, _, _ := fixture()
	engine := NewEngine(st, fakeProvider{err: types.ErrProvider}, 0, discard)

	_, err := engine.Search(context.Background(), types.SearchRequest{Query: "q"})

	assert.ErrorIs(t, err, types.ErrProvider)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}
