package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"mdrag/store"
	"mdrag/types"
)

const chunkPreviewLength = 200

type DocumentHandler struct {
	store store.DBStorer
}

func NewDocumentHandler(st store.DBStorer) *DocumentHandler {
	return &DocumentHandler{store: st}
}

func (h *DocumentHandler) HandleList(c *fiber.Ctx) error {
	docs, err := h.store.ListDocuments(c.UserContext(), splitTags(c.Query("tags")))
	if err != nil {
		return err
	}
	out := make([]types.DocumentSummary, len(docs))
	for i := range docs {
		out[i] = summary(&docs[i], docs[i].ChunkCount)
	}
	return c.JSON(out)
}

func (h *DocumentHandler) HandleGet(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}
	doc, err := h.store.GetDocumentByID(c.UserContext(), id)
	if errors.Is(err, types.ErrNotFound) {
		return ErrNotFound(id, "document")
	}
	if err != nil {
		return err
	}

	detail := types.DocumentDetail{
		DocumentSummary: summary(doc, len(doc.Chunks)),
		Content:         doc.Content,
		ContentHash:     doc.ContentHash,
		Chunks:          make([]types.ChunkSummary, len(doc.Chunks)),
	}
	for i, ch := range doc.Chunks {
		detail.Chunks[i] = types.ChunkSummary{
			ID:             ch.ID,
			ChunkIndex:     ch.ChunkIndex,
			Content:        preview(ch.Content),
			StartPosition:  ch.StartPosition,
			EndPosition:    ch.EndPosition,
			TokenCount:     ch.TokenCount,
			SectionHeading: ch.SectionHeading,
		}
	}
	return c.JSON(detail)
}

func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}
	if err := h.store.DeactivateDocument(c.UserContext(), id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return ErrNotFound(id, "document")
		}
		return err
	}
	return c.JSON(fiber.Map{"message": "Document deleted successfully"})
}

func (h *DocumentHandler) HandleTags(c *fiber.Ctx) error {
	tags, err := h.store.ListTags(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]types.TagInfo, len(tags))
	for i, t := range tags {
		out[i] = types.TagInfo{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Category:    t.Category,
			Color:       t.Color,
			CreatedAt:   t.CreatedAt,
		}
	}
	return c.JSON(out)
}

func summary(doc *types.Document, chunks int) types.DocumentSummary {
	tags := make([]types.TagSummary, len(doc.Tags))
	for i, t := range doc.Tags {
		tags[i] = types.TagSummary{
			Name:       t.TagName,
			Category:   t.TagCategory,
			Color:      t.TagColor,
			Confidence: t.Confidence,
		}
	}
	return types.DocumentSummary{
		ID:           doc.ID,
		FileName:     doc.FileName,
		Title:        doc.Title,
		FilePath:     doc.FilePath,
		FileSize:     doc.FileSize,
		LastModified: doc.LastModified,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		ChunkCount:   chunks,
		Tags:         tags,
	}
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= chunkPreviewLength {
		return content
	}
	return string(r[:chunkPreviewLength]) + "..."
}
