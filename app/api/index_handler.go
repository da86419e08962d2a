package api

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"mdrag/loader/service"
	"mdrag/model"
	"mdrag/store"
	"mdrag/types"
)

type vocabularyReporter interface {
	VocabularyStats() model.VocabularyStats
}

type IndexHandler struct {
	indexer  *service.Indexer
	store    store.DBStorer
	provider model.Provider
}

func NewIndexHandler(indexer *service.Indexer, st store.DBStorer, provider model.Provider) *IndexHandler {
	return &IndexHandler{
		indexer:  indexer,
		store:    st,
		provider: provider,
	}
}

// HandleIndexAll serves POST /api/index/all.
func (h *IndexHandler) HandleIndexAll(c *fiber.Ctx) error {
	start := time.Now()
	n, err := h.indexer.IndexAll(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.IndexResult{
			Message: "Indexing failed: " + err.Error(),
		})
	}
	return c.JSON(types.IndexResult{
		Success:            true,
		Message:            fmt.Sprintf("Successfully indexed %d documents", n),
		ProcessedDocuments: n,
		KnowledgeBasePath:  h.indexer.Root(),
		DurationMs:         time.Since(start).Milliseconds(),
	})
}

// HandleIndexDocument serves POST /api/index/document.
func (h *IndexHandler) HandleIndexDocument(c *fiber.Ctx) error {
	var req types.IndexDocumentRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest()
	}
	if errs := req.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(types.IndexResult{Message: "path is required"})
	}
	return h.index(c, req.Path)
}

// HandleUpload serves POST /api/index/upload: the multipart "file" is stored
// in the knowledge base (optionally below form field "dir") and indexed.
func (h *IndexHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}
	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	path, err := h.indexer.SaveUpload(c.FormValue("dir"), fileHeader.Filename, data)
	if errors.Is(err, types.ErrValidation) {
		return NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	return h.index(c, path)
}

func (h *IndexHandler) index(c *fiber.Ctx, path string) error {
	start := time.Now()
	doc, err := h.indexer.IndexDocument(c.UserContext(), path)
	switch {
	case errors.Is(err, types.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(types.IndexResult{
			Message: "Invalid path: " + path,
		})
	case errors.Is(err, types.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(types.IndexResult{
			Message: "File not found: " + path,
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(types.IndexResult{
			Message: "Indexing failed: " + err.Error(),
		})
	}
	return c.JSON(types.IndexResult{
		Success:            true,
		Message:            "Successfully indexed document: " + doc.Title,
		ProcessedDocuments: 1,
		KnowledgeBasePath:  h.indexer.Root(),
		DurationMs:         time.Since(start).Milliseconds(),
		DocumentID:         &doc.ID,
	})
}

// HandleStatus serves GET /api/index/status.
func (h *IndexHandler) HandleStatus(c *fiber.Ctx) error {
	status, err := h.store.IndexStatus(c.UserContext())
	if err != nil {
		return err
	}
	status.KnowledgeBasePath = h.indexer.Root()
	return c.JSON(status)
}

// HandleVocabulary serves GET /api/index/vocabulary.
func (h *IndexHandler) HandleVocabulary(c *fiber.Ctx) error {
	v, ok := h.provider.(vocabularyReporter)
	if !ok {
		return NewError(fiber.StatusNotFound, fmt.Sprintf("provider %s has no vocabulary", h.provider.Name()))
	}
	return c.JSON(v.VocabularyStats())
}
