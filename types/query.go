package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	DefaultMaxResults         = 10
	DefaultMinSimilarityScore = 0.7
	MaxSearchResults          = 50
)

type Validater interface {
	Validate() map[string]string
}

var validate = validator.New()

func validateStruct(v any) map[string]string {
	if err := validate.Struct(v); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type SearchRequest struct {
	Query              string   `json:"query" validate:"max=2000"`
	MaxResults         int      `json:"maxResults"`
	MinSimilarityScore float64  `json:"minSimilarityScore"`
	Tags               []string `json:"tags" validate:"omitempty,dive,required,max=100"`
	IncludeMetadata    bool     `json:"includeMetadata"`
	IncludeContext     bool     `json:"includeContext"`
}

// NewSearchRequest returns a request carrying the default options.
func NewSearchRequest() SearchRequest {
	return SearchRequest{
		MaxResults:         DefaultMaxResults,
		MinSimilarityScore: DefaultMinSimilarityScore,
		IncludeMetadata:    true,
	}
}

func (r *SearchRequest) Validate() map[string]string {
	return validateStruct(r)
}

// Clamp forces MaxResults into [1, 50] and MinSimilarityScore into [0, 1].
func (r *SearchRequest) Clamp() {
	r.MaxResults = max(1, min(MaxSearchResults, r.MaxResults))
	r.MinSimilarityScore = max(0, min(1, r.MinSimilarityScore))
}

type SearchFilters struct {
	Tags               []string `json:"tags"`
	MinSimilarityScore float64  `json:"minSimilarityScore"`
	MaxResults         int      `json:"maxResults"`
}

type SearchResponse struct {
	Query           string         `json:"query"`
	Results         []SearchResult `json:"results"`
	TotalResults    int            `json:"totalResults"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
	Filters         SearchFilters  `json:"filters"`
}

type SearchResult struct {
	ChunkID         uuid.UUID         `json:"chunkId"`
	Content         string            `json:"content"`
	SimilarityScore float64           `json:"similarityScore"`
	Position        ChunkPosition     `json:"position"`
	Document        *DocumentMetadata `json:"document,omitempty"`
	Context         *string           `json:"context,omitempty"`
}

type ChunkPosition struct {
	ChunkIndex     int    `json:"chunkIndex"`
	StartPosition  int    `json:"startPosition"`
	EndPosition    int    `json:"endPosition"`
	SectionHeading string `json:"sectionHeading,omitempty"`
}

type DocumentMetadata struct {
	DocumentID   uuid.UUID `json:"documentId"`
	FileName     string    `json:"fileName"`
	Title        string    `json:"title"`
	FilePath     string    `json:"filePath"`
	LastModified time.Time `json:"lastModified"`
	Tags         []string  `json:"tags"`
}

type IndexDocumentRequest struct {
	Path string `json:"path" validate:"required"`
}

func (r *IndexDocumentRequest) Validate() map[string]string {
	return validateStruct(r)
}

type IndexResult struct {
	Success            bool       `json:"success"`
	Message            string     `json:"message"`
	ProcessedDocuments int        `json:"processedDocuments"`
	KnowledgeBasePath  string     `json:"knowledgeBasePath,omitempty"`
	DurationMs         int64      `json:"durationMs"`
	DocumentID         *uuid.UUID `json:"documentId,omitempty"`
}

type TagSummary struct {
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Color      string  `json:"color,omitempty"`
	Confidence float64 `json:"confidence"`
}

type DocumentSummary struct {
	ID           uuid.UUID    `json:"id"`
	FileName     string       `json:"fileName"`
	Title        string       `json:"title"`
	FilePath     string       `json:"filePath"`
	FileSize     int64        `json:"fileSize"`
	LastModified time.Time    `json:"lastModified"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	ChunkCount   int          `json:"chunkCount"`
	Tags         []TagSummary `json:"tags"`
}

type ChunkSummary struct {
	ID             uuid.UUID `json:"id"`
	ChunkIndex     int       `json:"chunkIndex"`
	Content        string    `json:"content"`
	StartPosition  int       `json:"startPosition"`
	EndPosition    int       `json:"endPosition"`
	TokenCount     int       `json:"tokenCount"`
	SectionHeading string    `json:"sectionHeading,omitempty"`
}

type DocumentDetail struct {
	DocumentSummary
	Content     string         `json:"content"`
	ContentHash string         `json:"contentHash"`
	Chunks      []ChunkSummary `json:"chunks"`
}

type TagInfo struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"createdAt"`
}
