package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"mdrag/loader/chunker"
	"mdrag/loader/internal"
	"mdrag/loader/stats"
	"mdrag/loader/tagger"
	"mdrag/model"
	"mdrag/store"
	"mdrag/types"
)

const (
	defaultSection = "General"
	reembedBatch   = 256
)

type IndexerConfig struct {
	Root         string
	ChunkSize    int
	ChunkOverlap int
	Workers      int
}

// Indexer turns markdown files into persisted documents, chunks, embeddings
// and tags. Calls for the same file are serialised.
type Indexer struct {
	store    store.DBStorer
	provider model.Provider
	chunker  *chunker.Chunker
	stats    *stats.Stats
	fs       afero.Fs
	root     string
	workers  int
	logger   *slog.Logger
	locks    *pathLocks
	now      func() time.Time
}

func NewIndexer(st store.DBStorer, provider model.Provider, fsys afero.Fs, s *stats.Stats, cfg IndexerConfig, logger *slog.Logger) *Indexer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Indexer{
		store:    st,
		provider: provider,
		chunker:  chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		stats:    s,
		fs:       fsys,
		root:     cfg.Root,
		workers:  cfg.Workers,
		logger:   logger,
		locks:    newPathLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (i *Indexer) Root() string {
	return i.root
}

func (i *Indexer) Stats() *stats.Stats {
	return i.stats
}

// IndexDocument indexes the file at filePath (absolute, or relative to the
// knowledge base root). Paths outside the root are rejected with
// ErrValidation. An unchanged active document is returned as stored without
// touching the statistics.
func (i *Indexer) IndexDocument(ctx context.Context, filePath string) (*types.Document, error) {
	start := time.Now()
	path := internal.ResolvePath(i.root, filePath)
	if !internal.WithinRoot(i.root, path) {
		return nil, fmt.Errorf("%w: %s is outside the knowledge base", types.ErrValidation, filePath)
	}
	rel := internal.RelativePath(i.root, path)

	unlock := i.locks.Lock(rel)
	defer unlock()

	doc, changed, err := i.index(ctx, path, rel)
	if err != nil {
		i.stats.RecordFailure(rel, err.Error())
		i.logger.Error("indexing failed", "path", rel, "error", err)
		return nil, err
	}
	if changed {
		ms := time.Since(start).Milliseconds()
		i.stats.RecordSuccess(rel, ms, len(doc.Chunks))
		i.logger.Info("document indexed", "path", rel, "chunks", len(doc.Chunks), "tags", len(doc.Tags), "ms", ms)
	}
	return doc, nil
}

func (i *Indexer) index(ctx context.Context, path, rel string) (*types.Document, bool, error) {
	info, err := i.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, fmt.Errorf("%w: file %s", types.ErrNotFound, rel)
		}
		return nil, false, err
	}
	data, err := afero.ReadFile(i.fs, path)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", rel, err)
	}
	content := string(data)
	hash := internal.ContentHash(content)

	existing, err := i.store.GetDocumentByPath(ctx, rel)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup %s: %w", rel, err)
	}
	if existing != nil && existing.IsActive && existing.ContentHash == hash {
		i.logger.Debug("document unchanged", "path", rel)
		return existing, false, nil
	}

	now := i.now()
	fileName := filepath.Base(path)
	doc := &types.Document{
		ID:           uuid.New(),
		FileName:     fileName,
		FilePath:     rel,
		Title:        internal.ExtractTitle(content, fileName),
		Content:      content,
		FileSize:     info.Size(),
		ContentHash:  hash,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastModified: info.ModTime().UTC(),
		IsActive:     true,
	}
	if existing != nil {
		doc.ID = existing.ID
		doc.CreatedAt = existing.CreatedAt
	}

	pieces := i.chunker.ChunkMarkdown(content)
	if len(pieces) > 0 {
		texts := make([]string, len(pieces))
		for j, p := range pieces {
			texts[j] = EnrichChunk(doc.Title, p.SectionHeading, p.Content)
		}
		vecs, err := i.provider.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, false, fmt.Errorf("embed %s: %w", rel, err)
		}
		if len(vecs) != len(pieces) {
			return nil, false, fmt.Errorf("%w: got %d embeddings for %d chunks", types.ErrProvider, len(vecs), len(pieces))
		}
		for j, p := range pieces {
			body := Cleanup(p.Content)
			doc.Chunks = append(doc.Chunks, types.Chunk{
				ID:             uuid.New(),
				DocumentID:     doc.ID,
				ChunkIndex:     j,
				Content:        body,
				Embedding:      vecs[j],
				StartPosition:  p.StartPosition,
				EndPosition:    p.EndPosition,
				Length:         len([]rune(body)),
				TokenCount:     p.TokenCount,
				SectionHeading: Cleanup(p.SectionHeading),
				CreatedAt:      now,
				DocumentTitle:  doc.Title,
			})
		}
	}

	doc.Tags, err = i.detectTags(ctx, doc)
	if err != nil {
		return nil, false, err
	}

	if err := i.store.SaveIndexedDocument(ctx, doc); err != nil {
		return nil, false, fmt.Errorf("save %s: %w", rel, err)
	}
	return doc, true, nil
}

func (i *Indexer) detectTags(ctx context.Context, doc *types.Document) ([]types.DocumentTag, error) {
	catalogue, err := i.store.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	ids := make(map[string]types.Tag, len(catalogue))
	for _, t := range catalogue {
		ids[t.Name] = t
	}

	var tags []types.DocumentTag
	for _, d := range tagger.Detect(doc.FileName, doc.Content, catalogue) {
		t := ids[d.TagName]
		tags = append(tags, types.DocumentTag{
			DocumentID:       doc.ID,
			TagID:            t.ID,
			TagName:          t.Name,
			TagCategory:      t.Category,
			TagColor:         t.Color,
			AssignedAt:       doc.UpdatedAt,
			AssignmentSource: d.Source,
			Confidence:       d.Confidence,
		})
	}
	return tags, nil
}

// IndexAll indexes every markdown file below the root and returns how many
// succeeded. Failures are logged and skipped; a missing root yields 0.
func (i *Indexer) IndexAll(ctx context.Context) (int, error) {
	files, err := internal.ListMarkdownFiles(i.fs, i.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			i.logger.Warn("knowledge base directory not found", "path", i.root)
			return 0, nil
		}
		return 0, err
	}
	i.logger.Info("indexing knowledge base", "path", i.root, "files", len(files))

	i.primeVocabulary(files)

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)
	for _, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := i.IndexDocument(gctx, f); err != nil {
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(processed.Load()), err
	}

	i.logger.Info("knowledge base indexed", "processed", processed.Load(), "files", len(files))
	return int(processed.Load()), nil
}

// primeVocabulary builds a corpus-derived vocabulary from every file so that
// it does not depend on which file happens to be embedded first.
func (i *Indexer) primeVocabulary(files []string) {
	ci, ok := i.provider.(model.CorpusInitializer)
	if !ok || ci.Initialized() {
		return
	}
	var corpus []string
	for _, f := range files {
		data, err := afero.ReadFile(i.fs, f)
		if err != nil {
			continue
		}
		content := string(data)
		title := internal.ExtractTitle(content, filepath.Base(f))
		for _, p := range i.chunker.ChunkMarkdown(content) {
			corpus = append(corpus, EnrichChunk(title, p.SectionHeading, p.Content))
		}
	}
	if len(corpus) == 0 {
		return
	}
	ci.InitializeWithCorpus(corpus)
	i.logger.Info("vocabulary initialised", "chunks", len(corpus))
}

// SaveUpload writes a markdown file below dir inside the knowledge base and
// returns its path.
func (i *Indexer) SaveUpload(dir, name string, data []byte) (string, error) {
	if !internal.IsMarkdown(name) {
		return "", fmt.Errorf("%w: only markdown files are accepted", types.ErrValidation)
	}
	return internal.SaveFile(i.fs, i.root, dir, name, data)
}

// Deactivate soft-deletes the document stored for filePath.
func (i *Indexer) Deactivate(ctx context.Context, filePath string) error {
	rel := internal.RelativePath(i.root, internal.ResolvePath(i.root, filePath))

	unlock := i.locks.Lock(rel)
	defer unlock()

	doc, err := i.store.GetDocumentByPath(ctx, rel)
	if err != nil {
		return err
	}
	if !doc.IsActive {
		return nil
	}
	if err := i.store.DeactivateDocument(ctx, doc.ID); err != nil {
		return err
	}
	i.logger.Info("document deactivated", "path", rel)
	return nil
}

// ReembedAll recomputes the embedding of every active chunk.
func (i *Indexer) ReembedAll(ctx context.Context) (int, error) {
	chunks, err := i.store.ListActiveChunks(ctx)
	if err != nil {
		return 0, err
	}
	for start := 0; start < len(chunks); start += reembedBatch {
		batch := chunks[start:min(start+reembedBatch, len(chunks))]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = EnrichChunk(c.DocumentTitle, c.SectionHeading, c.Content)
		}
		vecs, err := i.provider.EmbedBatch(ctx, texts)
		if err != nil {
			return start, fmt.Errorf("re-embed chunks: %w", err)
		}
		updates := make(map[uuid.UUID][]float32, len(batch))
		for j, c := range batch {
			updates[c.ID] = vecs[j]
		}
		if err := i.store.UpdateChunkEmbeddings(ctx, updates); err != nil {
			return start, err
		}
	}
	i.logger.Info("chunk embeddings regenerated", "chunks", len(chunks))
	return len(chunks), nil
}

// Cleanup strips markdown emphasis and heading markers.
func Cleanup(s string) string {
	s = strings.ReplaceAll(s, "#", "")
	s = strings.ReplaceAll(s, "**", "")
	return strings.TrimSpace(s)
}

// EnrichChunk prefixes a chunk body with its document title and section so
// that the embedding carries that context.
func EnrichChunk(title, heading, content string) string {
	section := Cleanup(heading)
	if section == "" {
		section = defaultSection
	}
	return fmt.Sprintf("Document: %s > Section: %s\nContent: %s", Cleanup(title), section, Cleanup(content))
}
