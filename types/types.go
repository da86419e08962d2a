package types

import (
	"time"

	"github.com/google/uuid"
)

// Tag assignment sources.
const (
	SourceAuto   = "auto"
	SourceManual = "manual"
)

// Document is one markdown file of the knowledge base.
type Document struct {
	ID           uuid.UUID
	FileName     string
	FilePath     string // relative to the knowledge base root, forward slashes
	Title        string
	Content      string
	FileSize     int64
	ContentHash  string // lower-case hex SHA-256 of Content
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastModified time.Time
	IsActive     bool

	Chunks     []Chunk
	Tags       []DocumentTag
	ChunkCount int // populated by listing queries
}

// Chunk is a retrievable slice of a document's content.
type Chunk struct {
	ID             uuid.UUID
	DocumentID     uuid.UUID
	ChunkIndex     int
	Content        string
	Embedding      []float32
	StartPosition  int
	EndPosition    int
	Length         int
	TokenCount     int
	SectionHeading string
	CreatedAt      time.Time

	// Populated by queries that join the owning document.
	DocumentTitle string
}

type Tag struct {
	ID          uuid.UUID
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Color       string `yaml:"color"`
	IsActive    bool   `yaml:"-"`
	CreatedAt   time.Time
}

// DocumentTag links a document to a tag.
type DocumentTag struct {
	DocumentID       uuid.UUID
	TagID            uuid.UUID
	TagName          string
	TagCategory      string
	TagColor         string
	AssignedAt       time.Time
	AssignmentSource string
	Confidence       float64
}

// DetectedTag is a tag inferred from document content.
type DetectedTag struct {
	TagName    string  `json:"tagName"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Reason     string  `json:"reason"`
}

// IndexStatus summarises the persisted index.
type IndexStatus struct {
	TotalDocuments    int            `json:"totalDocuments"`
	TotalChunks       int            `json:"totalChunks"`
	LastIndexed       *time.Time     `json:"lastIndexed"`
	KnowledgeBasePath string         `json:"knowledgeBasePath"`
	DocumentsByTag    map[string]int `json:"documentsByTag"`
}
