package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"mdrag/loader/stats"
	"mdrag/loader/tagger"
	"mdrag/model"
	"mdrag/store"
	"mdrag/types"
)

// Components is the indexing stack shared by the HTTP server and the loader
// CLI.
type Components struct {
	Store    store.DBStorer
	Provider model.Provider
	Stats    *stats.Stats
	Indexer  *Indexer
	Fs       afero.Fs
}

// Setup opens the database, seeds the tag catalogue on first start and builds
// the embedding provider and indexer.
func Setup(ctx context.Context, cfg *types.Config, logger *slog.Logger) (*Components, error) {
	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tags, err := tagger.LoadCatalog(cfg.TagsFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if _, err := st.SeedTags(ctx, tags); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("seed tags: %w", err)
	}

	provider, err := model.NewProvider(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	fsys := afero.NewOsFs()
	s := stats.New(stats.DefaultCapacity)
	indexer := NewIndexer(st, provider, fsys, s, IndexerConfig{
		Root:         cfg.KnowledgeBasePath,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Workers:      cfg.IndexWorkers,
	}, logger)

	return &Components{
		Store:    st,
		Provider: provider,
		Stats:    s,
		Indexer:  indexer,
		Fs:       fsys,
	}, nil
}

func (c *Components) Close() error {
	return c.Store.Close()
}
