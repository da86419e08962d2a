package server

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"mdrag/app/api"
	"mdrag/app/middleware"
	"mdrag/app/search"
	"mdrag/loader/service"
	"mdrag/loader/stats"
	"mdrag/model"
	"mdrag/store"
)

// Deps are the collaborators the HTTP handlers are built from.
type Deps struct {
	Store    store.DBStorer
	Indexer  *service.Indexer
	Engine   *search.Engine
	Provider model.Provider
	Stats    *stats.Stats
	Watching func() bool
	APIKey   string
	Logger   *slog.Logger
}

var config = fiber.Config{
	ErrorHandler:          api.ErrorHandler,
	DisableStartupMessage: true,
	BodyLimit:             10 * 1024 * 1024,
}

// NewApp registers every route on a new fiber app.
func NewApp(d Deps) *fiber.App {
	var (
		app              = fiber.New(config)
		checkHandler     = api.NewCheckHandler(d.Store)
		searchHandler    = api.NewSearchHandler(d.Engine)
		indexHandler     = api.NewIndexHandler(d.Indexer, d.Store, d.Provider)
		documentHandler  = api.NewDocumentHandler(d.Store)
		ingestionHandler = api.NewIngestionHandler(d.Stats, d.Watching, d.Logger)
		requireKey       = middleware.RequireAPIKey(d.APIKey)
		check            = app.Group("/check")
		apiv1            = app.Group("/api")
	)
	app.Use(recover.New())
	app.Use(cors.New())

	check.Get("/healthy", checkHandler.HandleHealthy)
	app.Get("/health", checkHandler.HandleHealth)

	apiv1.Post("/search", searchHandler.HandleSearch)
	apiv1.Get("/search", searchHandler.HandleQuery)
	apiv1.Get("/search/suggestions", searchHandler.HandleSuggestions)

	apiv1.Post("/index/all", requireKey, indexHandler.HandleIndexAll)
	apiv1.Post("/index/document", requireKey, indexHandler.HandleIndexDocument)
	apiv1.Post("/index/upload", requireKey, indexHandler.HandleUpload)
	apiv1.Get("/index/status", indexHandler.HandleStatus)
	apiv1.Get("/index/vocabulary", indexHandler.HandleVocabulary)

	apiv1.Get("/documents", documentHandler.HandleList)
	apiv1.Get("/documents/tags", documentHandler.HandleTags)
	apiv1.Get("/documents/:id", documentHandler.HandleGet)
	apiv1.Delete("/documents/:id", requireKey, documentHandler.HandleDelete)

	apiv1.Get("/ingestion/stats", ingestionHandler.HandleStats)
	apiv1.Get("/ingestion/activities", ingestionHandler.HandleActivities)
	apiv1.Post("/ingestion/stats/reset", requireKey, ingestionHandler.HandleReset)
	apiv1.Get("/ingestion/watcher/status", ingestionHandler.HandleWatcherStatus)

	return app
}
