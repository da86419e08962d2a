package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mdrag/loader/watcher"
	"mdrag/model"
	"mdrag/types"
)

const shutdownTimeout = 5 * time.Second

// Service runs the initial knowledge base scan and then keeps the index in
// sync with file system changes reported by the watcher.
type Service struct {
	logger  *slog.Logger
	indexer *Indexer
	watcher *watcher.Watcher
}

// New builds the ingestion service. w may be nil when watching is disabled.
func New(indexer *Indexer, w *watcher.Watcher, logger *slog.Logger) *Service {
	return &Service{
		logger:  logger,
		indexer: indexer,
		watcher: w,
	}
}

func (s *Service) Indexer() *Indexer {
	return s.indexer
}

func (s *Service) IsWatching() bool {
	return s.watcher != nil && s.watcher.IsWatching()
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	processed, err := s.indexer.IndexAll(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("initial indexing finished", "processed", processed)

	// Documents skipped as unchanged still carry vectors from an older
	// vocabulary.
	if ci, ok := s.indexer.provider.(model.CorpusInitializer); ok && ci.Initialized() {
		if _, err := s.indexer.ReembedAll(ctx); err != nil {
			s.logger.Error("re-embedding failed", "error", err)
		}
	}

	if s.watcher == nil {
		<-ctx.Done()
		return nil
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.watcher.Start(ctx, s.indexer.Root()); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("watcher stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for batch := range s.watcher.Events() {
			s.HandleEvents(ctx, batch)
		}
	}()

	<-ctx.Done()
	s.logger.Info("stopping ingestion service")
	s.watcher.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("ingestion service stopped")
	case <-time.After(shutdownTimeout):
		s.logger.Warn("timeout waiting for ingestion goroutines")
	}
	return nil
}

// HandleEvents applies one debounced batch to the index. A batch holds at
// most one event per path, so events are handled in parallel up to the
// indexer's worker count.
func (s *Service) HandleEvents(ctx context.Context, batch []watcher.FileEvent) {
	var g errgroup.Group
	g.SetLimit(s.indexer.workers)
	for _, e := range batch {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.handleEvent(ctx, e)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) handleEvent(ctx context.Context, e watcher.FileEvent) {
	s.logger.Debug("file event", "path", e.Path, "op", e.Operation)

	if e.Operation == watcher.OpDelete {
		s.deactivate(ctx, e.Path)
		return
	}

	if _, err := s.indexer.fs.Stat(e.Path); err != nil {
		if e.Operation == watcher.OpRename {
			s.deactivate(ctx, e.Path)
		} else {
			s.logger.Warn("changed file no longer exists", "path", e.Path)
		}
		return
	}
	// Failures are recorded in the statistics by the indexer.
	_, _ = s.indexer.IndexDocument(ctx, e.Path)
}

func (s *Service) deactivate(ctx context.Context, path string) {
	err := s.indexer.Deactivate(ctx, path)
	switch {
	case errors.Is(err, types.ErrNotFound):
		s.logger.Debug("deleted file was not indexed", "path", path)
	case err != nil:
		s.logger.Error("cannot deactivate document", "path", path, "error", err)
	}
}
