package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mdrag/app/logging"
	"mdrag/app/server"
	"mdrag/types"
)

func main() {
	loadEnvVariables()

	cfg, err := types.LoadConfig()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	s := server.NewServer(cfg, logger)

	errch := make(chan error, 1)
	go func() {
		errch <- s.Run(context.Background())
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigch:
		logger.Info("received shutdown signal, shutting down server")
	case err := <-errch:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}
	s.Stop()
}

// loadEnvVariables reads .env when present; the environment alone is enough.
func loadEnvVariables() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatal("Error loading .env file: ", err)
	}
}
