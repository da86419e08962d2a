package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mdrag/app/logging"
	"mdrag/loader/service"
	"mdrag/loader/watcher"
	"mdrag/types"
)

type app struct {
	cfg        *types.Config
	logger     *slog.Logger
	components *service.Components
	kbPath     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "mdrag-loader",
		Short:         "Index a markdown knowledge base without the HTTP server",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	cmd.PersistentFlags().StringVar(&a.kbPath, "kb", "", "knowledge base directory (overrides KNOWLEDGE_BASE_PATH)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "index-all",
			Short: "Index every markdown file of the knowledge base",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				n, err := a.components.Indexer.IndexAll(cmd.Context())
				if err != nil {
					return err
				}
				a.printStats(cmd)
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents from %s\n", n, a.cfg.KnowledgeBasePath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "index <path>",
			Short: "Index one markdown file inside the knowledge base",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				doc, err := a.components.Indexer.IndexDocument(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %s (%s): %d chunks, %d tags\n",
					doc.FilePath, doc.ID, len(doc.Chunks), len(doc.Tags))
				return nil
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Index the knowledge base, then keep it in sync until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				w, err := watcher.New(watcher.Options{
					Debounce:  a.cfg.WatchDebounce,
					QueueSize: a.cfg.WatchQueueSize,
				}, a.logger)
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return service.New(a.components.Indexer, w, a.logger).Run(ctx)
			},
		},
	)
	return cmd
}

func (a *app) setup(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := types.LoadConfig()
	if err != nil {
		return err
	}
	if a.kbPath != "" {
		cfg.KnowledgeBasePath = a.kbPath
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(a.logger)

	a.components, err = service.Setup(ctx, cfg, a.logger)
	return err
}

func (a *app) close() error {
	if a.components == nil {
		return nil
	}
	return a.components.Close()
}

func (a *app) printStats(cmd *cobra.Command) {
	snap := a.components.Stats.Snapshot(false)
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d files: %d succeeded, %d failed, %d chunks\n",
		snap.TotalFilesProcessed, snap.SuccessfulIndexings, snap.FailedIndexings, snap.TotalChunksCreated)
}
