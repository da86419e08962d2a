package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdrag/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

var testTags = []types.Tag{
	{Name: "graphics-mode", Category: "mode", Color: "#DC2626"},
	{Name: "C", Category: "language", Color: "#00599C"},
	{Name: "hardware", Category: "topic", Color: "#059669"},
}

func tagID(t *testing.T, s *SQLiteStore, name string) uuid.UUID {
	t.Helper()
	tags, err := s.ListTags(context.Background())
	require.NoError(t, err)
	for _, tag := range tags {
		if tag.Name == name {
			return tag.ID
		}
	}
	t.Fatalf("tag %s not found", name)
	return uuid.Nil
}

func makeDocument(path string, chunks int, tags ...types.DocumentTag) *types.Document {
	now := time.Now().UTC()
	doc := &types.Document{
		ID:           uuid.New(),
		FileName:     filepath.Base(path),
		FilePath:     path,
		Title:        "Title of " + path,
		Content:      "content of " + path,
		FileSize:     42,
		ContentHash:  "hash-" + path,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastModified: now,
		IsActive:     true,
		Tags:         tags,
	}
	for i := 0; i < chunks; i++ {
		doc.Chunks = append(doc.Chunks, types.Chunk{
			ID:             uuid.New(),
			DocumentID:     doc.ID,
			ChunkIndex:     i,
			Content:        fmt.Sprintf("chunk %d of %s", i, path),
			Embedding:      []float32{float32(i), 1, 0.5},
			StartPosition:  i * 10,
			EndPosition:    i*10 + 10,
			Length:         10,
			TokenCount:     3,
			SectionHeading: "Section",
			CreatedAt:      now,
		})
	}
	return doc
}

func TestSQLiteStore_SeedTagsOnlyWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.SeedTags(ctx, testTags)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.SeedTags(ctx, testTags)
	require.NoError(t, err)
	assert.Zero(t, n)

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 3)
	assert.Equal(t, []string{"C", "graphics-mode", "hardware"}, []string{tags[0].Name, tags[1].Name, tags[2].Name})
	assert.True(t, tags[0].IsActive)
}

func TestSQLiteStore_SaveAndLoadDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.SeedTags(ctx, testTags)
	require.NoError(t, err)

	doc := makeDocument("guide/graphics.md", 3, types.DocumentTag{
		TagID: tagID(t, s, "graphics-mode"), TagName: "graphics-mode",
		AssignedAt: time.Now(), AssignmentSource: types.SourceAuto, Confidence: 0.9,
	})
	require.NoError(t, s.SaveIndexedDocument(ctx, doc))

	byPath, err := s.GetDocumentByPath(ctx, "guide/graphics.md")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byPath.ID)
	assert.Equal(t, doc.ContentHash, byPath.ContentHash)
	assert.WithinDuration(t, doc.LastModified, byPath.LastModified, time.Microsecond)

	full, err := s.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, full.Chunks, 3)
	for i, c := range full.Chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, []float32{float32(i), 1, 0.5}, c.Embedding)
		assert.Equal(t, doc.Title, c.DocumentTitle)
	}
	require.Len(t, full.Tags, 1)
	assert.Equal(t, "graphics-mode", full.Tags[0].TagName)
	assert.Equal(t, "mode", full.Tags[0].TagCategory)
	assert.InDelta(t, 0.9, full.Tags[0].Confidence, 1e-9)
}

func TestSQLiteStore_ResaveReplacesChunksAndTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.SeedTags(ctx, testTags)
	require.NoError(t, err)

	doc := makeDocument("a.md", 4, types.DocumentTag{TagID: tagID(t, s, "C"), TagName: "C", AssignmentSource: types.SourceAuto, Confidence: 0.8})
	require.NoError(t, s.SaveIndexedDocument(ctx, doc))

	updated := makeDocument("a.md", 2)
	updated.ID = doc.ID
	require.NoError(t, s.SaveIndexedDocument(ctx, updated))

	full, err := s.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, full.Chunks, 2)
	assert.Empty(t, full.Tags)

	status, err := s.IndexStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalDocuments)
	assert.Equal(t, 2, status.TotalChunks)
}

func TestSQLiteStore_ListDocumentsWithTagFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.SeedTags(ctx, testTags)
	require.NoError(t, err)

	hw := makeDocument("hw.md", 2, types.DocumentTag{TagID: tagID(t, s, "hardware"), TagName: "hardware", AssignmentSource: types.SourceAuto, Confidence: 0.9})
	hw.Title = "B hardware"
	plain := makeDocument("plain.md", 1)
	plain.Title = "A plain"
	require.NoError(t, s.SaveIndexedDocument(ctx, hw))
	require.NoError(t, s.SaveIndexedDocument(ctx, plain))

	all, err := s.ListDocuments(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "A plain", all[0].Title)
	assert.Equal(t, 1, all[0].ChunkCount)
	assert.Equal(t, 2, all[1].ChunkCount)
	require.Len(t, all[1].Tags, 1)

	filtered, err := s.ListDocuments(ctx, []string{"hardware", "C"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, hw.ID, filtered[0].ID)

	status, err := s.IndexStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"hardware": 1}, status.DocumentsByTag)
	require.NotNil(t, status.LastIndexed)
}

func TestSQLiteStore_SearchCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.SeedTags(ctx, testTags)
	require.NoError(t, err)

	tagged := makeDocument("tagged.md", 3, types.DocumentTag{TagID: tagID(t, s, "C"), TagName: "C", AssignmentSource: types.SourceAuto, Confidence: 0.7})
	other := makeDocument("other.md", 2)
	gone := makeDocument("gone.md", 2)
	for _, d := range []*types.Document{tagged, other, gone} {
		require.NoError(t, s.SaveIndexedDocument(ctx, d))
	}
	require.NoError(t, s.DeactivateDocument(ctx, gone.ID))

	all, err := s.SearchCandidates(ctx, nil, 1000)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	for _, c := range all {
		assert.NotEqual(t, gone.ID, c.DocumentID)
	}

	limited, err := s.SearchCandidates(ctx, nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byTag, err := s.SearchCandidates(ctx, []string{"C"}, 1000)
	require.NoError(t, err)
	assert.Len(t, byTag, 3)

	none, err := s.SearchCandidates(ctx, []string{"unknown"}, 1000)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_Deactivate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := makeDocument("x.md", 1)
	require.NoError(t, s.SaveIndexedDocument(ctx, doc))

	require.NoError(t, s.DeactivateDocument(ctx, doc.ID))
	assert.ErrorIs(t, s.DeactivateDocument(ctx, doc.ID), types.ErrNotFound)

	_, err := s.GetDocumentByID(ctx, doc.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// still reachable by path so a reappearing file reuses its identity
	byPath, err := s.GetDocumentByPath(ctx, "x.md")
	require.NoError(t, err)
	assert.False(t, byPath.IsActive)

	_, err = s.GetDocumentByPath(ctx, "missing.md")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSQLiteStore_ChunkRangeAndEmbeddingUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := makeDocument("r.md", 5)
	require.NoError(t, s.SaveIndexedDocument(ctx, doc))

	window, err := s.GetChunksInRange(ctx, doc.ID, 1, 3)
	require.NoError(t, err)
	require.Len(t, window, 3)
	assert.Equal(t, 1, window[0].ChunkIndex)
	assert.Equal(t, 3, window[2].ChunkIndex)

	require.NoError(t, s.UpdateChunkEmbeddings(ctx, map[uuid.UUID][]float32{
		doc.Chunks[0].ID: {9, 9, 9},
	}))
	chunks, err := s.ListActiveChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	assert.Equal(t, []float32{9, 9, 9}, chunks[0].Embedding)
	assert.Equal(t, []float32{1, 1, 0.5}, chunks[1].Embedding)
}

func TestSQLiteStore_GetDocumentsByIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := makeDocument("a.md", 1)
	b := makeDocument("b.md", 1)
	require.NoError(t, s.SaveIndexedDocument(ctx, a))
	require.NoError(t, s.SaveIndexedDocument(ctx, b))

	docs, err := s.GetDocumentsByIDs(ctx, []uuid.UUID{a.ID, b.ID, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, "a.md", docs[a.ID].FilePath)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, v, bytesToFloat32Slice(float32SliceToBytes(v)))
	assert.Nil(t, float32SliceToBytes(nil))
	assert.Nil(t, bytesToFloat32Slice([]byte{1, 2}))
}
