package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"mdrag/app/search"
	"mdrag/loader/service"
	"mdrag/loader/watcher"
	"mdrag/model"
	"mdrag/types"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg    *types.Config
	logger *slog.Logger
	wg     sync.WaitGroup

	// mu guards the fields below, written by Run and read by Stop.
	mu         sync.Mutex
	stopped    bool
	app        *fiber.App
	components *service.Components
	cancel     context.CancelFunc
}

func NewServer(cfg *types.Config, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Run wires the application, starts background ingestion and serves HTTP
// until Stop is called.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	components, err := service.Setup(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}

	// Query embeddings are cached; indexing goes to the provider directly.
	queryProvider, err := model.NewCachedProvider(components.Provider, s.cfg.QueryCacheSize)
	if err != nil {
		_ = components.Close()
		return fmt.Errorf("create query cache: %w", err)
	}

	var w *watcher.Watcher
	if s.cfg.WatchEnabled {
		w, err = watcher.New(watcher.Options{
			Debounce:  s.cfg.WatchDebounce,
			QueueSize: s.cfg.WatchQueueSize,
		}, s.logger)
		if err != nil {
			_ = components.Close()
			return err
		}
	}
	ingestion := service.New(components.Indexer, w, s.logger)

	app := NewApp(Deps{
		Store:    components.Store,
		Indexer:  components.Indexer,
		Engine:   search.NewEngine(components.Store, queryProvider, s.cfg.CandidatePool, s.logger),
		Provider: components.Provider,
		Stats:    components.Stats,
		Watching: ingestion.IsWatching,
		APIKey:   s.cfg.APIKey,
		Logger:   s.logger,
	})
	if s.cfg.APIKey == "" {
		s.logger.Warn("API_KEY is not set, protected endpoints will reject every request")
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if w != nil {
			w.Stop()
		}
		return components.Close()
	}
	s.app = app
	s.components = components
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := ingestion.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("ingestion service failed", "error", err)
		}
	}()

	s.logger.Info("server listening", "addr", s.cfg.ServerAddr)
	if err := app.Listen(s.cfg.ServerAddr); err != nil {
		return fmt.Errorf("error to start server: %w", err)
	}
	return nil
}

func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	app, cancel, components := s.app, s.cancel, s.components
	s.mu.Unlock()

	if app != nil {
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			s.logger.Error("http shutdown", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if components != nil {
		if err := components.Close(); err != nil {
			s.logger.Error("closing database", "error", err)
		}
	}
	s.logger.Info("server stopped")
}
