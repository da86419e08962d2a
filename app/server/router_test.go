package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdrag/app/search"
	"mdrag/loader/service"
	"mdrag/loader/stats"
	"mdrag/loader/tagger"
	"mdrag/model"
	"mdrag/store"
	"mdrag/types"
)

const (
	kbRoot = "/kb"
	apiKey = "secret"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var knowledgeBase = map[string]string{
	"graphics.md":       "# Graphics Mode\n\nThe graphics mode sets each pixel with a palette entry.\n\n## Drawing\n\nUse the line routine to plot shapes.\n",
	"basic/intro.md":    "# BASIC\n\nA BASIC program uses PRINT and GOTO statements.\n",
	"hardware/ports.md": "# Ports\n\nThe PIA register drives the I/O port of the keyboard.\n",
	"tools/build.md":    "# Build\n\nInstall the compiler and run make to build the disk image.\n",
}

type testEnv struct {
	app   *fiber.App
	store *store.SQLiteStore
	fs    afero.Fs
	stats *stats.Stats
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"), discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Init(ctx))
	_, err = st.SeedTags(ctx, tagger.DefaultTags())
	require.NoError(t, err)

	fsys := afero.NewMemMapFs()
	for rel, content := range knowledgeBase {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join(kbRoot, rel), []byte(content), 0o644))
	}

	provider := model.NewTfIdfProvider(128)
	cached, err := model.NewCachedProvider(provider, 16)
	require.NoError(t, err)
	s := stats.New(0)
	indexer := service.NewIndexer(st, provider, fsys, s, service.IndexerConfig{Root: kbRoot, Workers: 2}, discard)

	app := NewApp(Deps{
		Store:    st,
		Indexer:  indexer,
		Engine:   search.NewEngine(st, cached, 0, discard),
		Provider: provider,
		Stats:    s,
		Watching: func() bool { return false },
		APIKey:   apiKey,
		Logger:   discard,
	})
	return &testEnv{app: app, store: st, fs: fsys, stats: s}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, target string) *http.Response {
	return e.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (e *testEnv) postJSON(t *testing.T, target, body string) *http.Response {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

// postIndex posts to a key-protected index route.
func (e *testEnv) postIndex(t *testing.T, target, body string) *http.Response {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", apiKey)
	return e.do(t, req)
}

func (e *testEnv) indexAll(t *testing.T) {
	t.Helper()
	resp := e.postIndex(t, "/api/index/all", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/check/healthy")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[map[string]string](t, resp)["status"])
}

func TestIndexAllAndStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postIndex(t, "/api/index/all", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[types.IndexResult](t, resp)
	assert.True(t, result.Success)
	assert.Equal(t, len(knowledgeBase), result.ProcessedDocuments)
	assert.Equal(t, kbRoot, result.KnowledgeBasePath)

	resp = env.get(t, "/api/index/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[types.IndexStatus](t, resp)
	assert.Equal(t, len(knowledgeBase), status.TotalDocuments)
	assert.Positive(t, status.TotalChunks)
	assert.NotNil(t, status.LastIndexed)
	assert.Equal(t, 1, status.DocumentsByTag["graphics-mode"])

	resp = env.get(t, "/api/index/vocabulary")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	vocab := decode[model.VocabularyStats](t, resp)
	assert.True(t, vocab.IsInitialized)
	assert.Positive(t, vocab.VocabularySize)
}

func TestIndexDocument(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postIndex(t, "/api/index/document", `{"path":"graphics.md"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[types.IndexResult](t, resp)
	assert.True(t, result.Success)
	require.NotNil(t, result.DocumentID)
	assert.Equal(t, "Successfully indexed document: Graphics Mode", result.Message)

	resp = env.postIndex(t, "/api/index/document", `{"path":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, decode[types.IndexResult](t, resp).Success)

	resp = env.postIndex(t, "/api/index/document", `{"path":"missing.md"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.postIndex(t, "/api/index/document", `{"path":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIndexRoutesRequireKey(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/api/index/all", "/api/index/document", "/api/index/upload"} {
		resp := env.postJSON(t, target, `{"path":"graphics.md"}`)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, target)
	}

	docs, err := env.store.ListDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIndexDocumentRejectsPathsOutsideRoot(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, afero.WriteFile(env.fs, "/etc/secret.conf", []byte("db_password=hunter2\n"), 0o644))

	for _, path := range []string{"../etc/secret.conf", "/etc/secret.conf", "guide/../../etc/secret.conf"} {
		resp := env.postIndex(t, "/api/index/document", `{"path":"`+path+`"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.False(t, decode[types.IndexResult](t, resp).Success)
	}

	docs, err := env.store.ListDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Zero(t, env.stats.Snapshot(false).TotalFilesProcessed)
}

func upload(t *testing.T, env *testEnv, name, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("dir", "uploads"))
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/index/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Api-Key", apiKey)
	return env.do(t, req)
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t)

	resp := upload(t, env, "sprites.md", "# Sprites\n\nA sprite is a small bitmap.\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[types.IndexResult](t, resp).Success)

	exists, err := afero.Exists(env.fs, filepath.Join(kbRoot, "uploads", "sprites.md"))
	require.NoError(t, err)
	assert.True(t, exists)
	doc, err := env.store.GetDocumentByPath(context.Background(), "uploads/sprites.md")
	require.NoError(t, err)
	assert.Equal(t, "Sprites", doc.Title)

	resp = upload(t, env, "notes.txt", "plain")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.indexAll(t)

	resp := env.postJSON(t, "/api/search", `{"query":"graphics pixel palette","minSimilarityScore":0.05}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[types.SearchResponse](t, resp)
	require.NotEmpty(t, result.Results)
	assert.Equal(t, len(result.Results), result.TotalResults)
	top := result.Results[0]
	require.NotNil(t, top.Document)
	assert.Equal(t, "graphics.md", top.Document.FilePath)
	assert.Contains(t, top.Document.Tags, "graphics-mode")
	assert.Nil(t, top.Context)
	for i := 1; i < len(result.Results); i++ {
		assert.GreaterOrEqual(t, result.Results[i-1].SimilarityScore, result.Results[i].SimilarityScore)
	}

	resp = env.get(t, "/api/search?q=graphics%20pixel&minScore=0.05&includeContext=true&includeMetadata=false&tags=graphics-mode,%20C")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result = decode[types.SearchResponse](t, resp)
	require.NotEmpty(t, result.Results)
	assert.Nil(t, result.Results[0].Document)
	assert.NotNil(t, result.Results[0].Context)
	assert.Equal(t, []string{"graphics-mode", "C"}, result.Filters.Tags)
	assert.Equal(t, types.DefaultMaxResults, result.Filters.MaxResults)
}

func TestSearch_EdgeCases(t *testing.T) {
	env := newTestEnv(t)
	env.indexAll(t)

	resp := env.get(t, "/api/search?q=")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[types.SearchResponse](t, resp).Results)

	resp = env.postJSON(t, "/api/search", `{"query":"`+strings.Repeat("x", 2001)+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.postJSON(t, "/api/search", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.postJSON(t, "/api/search", `{"query":"graphics","maxResults":1000,"minSimilarityScore":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[types.SearchResponse](t, resp)
	assert.Equal(t, types.MaxSearchResults, result.Filters.MaxResults)
	assert.Equal(t, 1.0, result.Filters.MinSimilarityScore)
}

func TestSuggestions(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/search/suggestions?partial=PROG")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{
		"6809 assembly programming",
		"C programming examples",
		"graphics mode programming",
		"BASIC programming",
	}, decode[[]string](t, resp))

	resp = env.get(t, "/api/search/suggestions?partial=prog&limit=2")
	assert.Len(t, decode[[]string](t, resp), 2)

	resp = env.get(t, "/api/search/suggestions?partial=p")
	assert.Empty(t, decode[[]string](t, resp))
}

func TestDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.indexAll(t)

	resp := env.get(t, "/api/documents")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs := decode[[]types.DocumentSummary](t, resp)
	require.Len(t, docs, len(knowledgeBase))
	for i := 1; i < len(docs); i++ {
		assert.LessOrEqual(t, docs[i-1].Title, docs[i].Title)
	}

	resp = env.get(t, "/api/documents?tags=graphics-mode")
	docs = decode[[]types.DocumentSummary](t, resp)
	require.Len(t, docs, 1)
	assert.Equal(t, "graphics.md", docs[0].FilePath)
	assert.Positive(t, docs[0].ChunkCount)
	require.NotEmpty(t, docs[0].Tags)
	assert.Equal(t, "#DC2626", docs[0].Tags[0].Color)

	resp = env.get(t, "/api/documents/" + docs[0].ID.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[types.DocumentDetail](t, resp)
	assert.Equal(t, knowledgeBase["graphics.md"], detail.Content)
	assert.Len(t, detail.Chunks, detail.ChunkCount)
	assert.NotEmpty(t, detail.ContentHash)

	resp = env.get(t, "/api/documents/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.get(t, "/api/documents/00000000-0000-0000-0000-000000000001")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.get(t, "/api/documents/tags")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]types.TagInfo](t, resp), len(tagger.DefaultTags()))
}

func deleteDocument(t *testing.T, env *testEnv, id, key string) *http.Response {
	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+id, nil)
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	return env.do(t, req)
}

func TestDeleteDocumentRequiresKey(t *testing.T) {
	env := newTestEnv(t)
	env.indexAll(t)
	doc, err := env.store.GetDocumentByPath(context.Background(), "basic/intro.md")
	require.NoError(t, err)
	id := doc.ID.String()

	assert.Equal(t, http.StatusUnauthorized, deleteDocument(t, env, id, "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, deleteDocument(t, env, id, "wrong").StatusCode)
	assert.Equal(t, http.StatusOK, deleteDocument(t, env, id, apiKey).StatusCode)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/documents/"+id).StatusCode)
	assert.Equal(t, http.StatusNotFound, deleteDocument(t, env, id, apiKey).StatusCode)
}

func TestIngestionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.indexAll(t)
	_ = env.postIndex(t, "/api/index/document", `{"path":"missing.md"}`)

	resp := env.get(t, "/api/ingestion/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[stats.Snapshot](t, resp)
	assert.Equal(t, len(knowledgeBase), snap.SuccessfulIndexings)
	assert.Equal(t, 1, snap.FailedIndexings)
	assert.InDelta(t, 80.0, snap.SuccessRate, 1e-9)
	assert.False(t, snap.IsWatching)

	resp = env.get(t, "/api/ingestion/activities?limit=1")
	activities := decode[[]stats.Activity](t, resp)
	require.Len(t, activities, 1)
	assert.Equal(t, stats.ActionFailed, activities[0].Action)

	resp = env.get(t, "/api/ingestion/activities?limit=0")
	assert.Len(t, decode[[]stats.Activity](t, resp), 1)

	resp = env.postJSON(t, "/api/ingestion/stats/reset", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/ingestion/stats/reset", nil)
	req.Header.Set("X-Api-Key", apiKey)
	resp = env.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, env.stats.Snapshot(false).TotalFilesProcessed)

	resp = env.get(t, "/api/ingestion/watcher/status")
	assert.Equal(t, map[string]any{"isWatching": false, "status": "Inactive"}, decode[map[string]any](t, resp))
}
