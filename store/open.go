package store

import (
	"context"
	"fmt"
	"log/slog"

	"mdrag/types"
)

// Open connects to the database selected by cfg.DBDriver and creates the
// schema.
func Open(ctx context.Context, cfg *types.Config, logger *slog.Logger) (DBStorer, error) {
	var (
		st  DBStorer
		err error
	)
	switch cfg.DBDriver {
	case "postgres":
		st, err = NewPostgresStore(ctx, cfg.PostgresConnString(), cfg.EmbeddingDimension, logger)
	case "sqlite":
		st, err = NewSQLiteStore(cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("%w: unknown DB_DRIVER %q", types.ErrValidation, cfg.DBDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.DBDriver, err)
	}

	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	logger.Info("database ready", "driver", cfg.DBDriver)
	return st, nil
}
