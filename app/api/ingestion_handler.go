package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"mdrag/loader/stats"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

type WatcherStatus struct {
	IsWatching bool   `json:"isWatching"`
	Status     string `json:"status"`
}

type IngestionHandler struct {
	stats    *stats.Stats
	watching func() bool
	logger   *slog.Logger
}

// NewIngestionHandler reports stats; watching tells whether the file watcher
// is currently running.
func NewIngestionHandler(s *stats.Stats, watching func() bool, logger *slog.Logger) *IngestionHandler {
	return &IngestionHandler{
		stats:    s,
		watching: watching,
		logger:   logger,
	}
}

func (h *IngestionHandler) HandleStats(c *fiber.Ctx) error {
	return c.JSON(h.stats.Snapshot(h.watching()))
}

func (h *IngestionHandler) HandleActivities(c *fiber.Ctx) error {
	limit := max(1, min(maxActivityLimit, c.QueryInt("limit", defaultActivityLimit)))
	return c.JSON(h.stats.Recent(limit))
}

func (h *IngestionHandler) HandleReset(c *fiber.Ctx) error {
	h.stats.Reset()
	h.logger.Info("ingestion statistics reset")
	return c.JSON(fiber.Map{"message": "Ingestion statistics reset successfully"})
}

func (h *IngestionHandler) HandleWatcherStatus(c *fiber.Ctx) error {
	status := WatcherStatus{IsWatching: h.watching(), Status: "Inactive"}
	if status.IsWatching {
		status.Status = "Active"
	}
	return c.JSON(status)
}
