package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mdrag/model"
	"mdrag/types"
)

const (
	DefaultCandidatePool = 1000
	contextSeparator     = "\n\n...\n\n"
)

// ChunkStore is the part of store.DBStorer the engine reads from.
type ChunkStore interface {
	SearchCandidates(context.Context, []string, int) ([]types.Chunk, error)
	GetChunksInRange(context.Context, uuid.UUID, int, int) ([]types.Chunk, error)
	GetDocumentsByIDs(context.Context, []uuid.UUID) (map[uuid.UUID]types.Document, error)
}

// Engine ranks stored chunks by cosine similarity to the query embedding.
type Engine struct {
	store         ChunkStore
	provider      model.Provider
	candidatePool int
	logger        *slog.Logger
}

func NewEngine(st ChunkStore, provider model.Provider, candidatePool int, logger *slog.Logger) *Engine {
	if candidatePool <= 0 {
		candidatePool = DefaultCandidatePool
	}
	return &Engine{
		store:         st,
		provider:      provider,
		candidatePool: candidatePool,
		logger:        logger,
	}
}

type scored struct {
	chunk types.Chunk
	score float64
}

func (e *Engine) Search(ctx context.Context, req types.SearchRequest) (*types.SearchResponse, error) {
	start := time.Now()
	req.Clamp()

	resp := &types.SearchResponse{
		Query:   req.Query,
		Results: []types.SearchResult{},
		Filters: types.SearchFilters{
			Tags:               req.Tags,
			MinSimilarityScore: req.MinSimilarityScore,
			MaxResults:         req.MaxResults,
		},
	}
	if strings.TrimSpace(req.Query) == "" {
		return resp, nil
	}

	query, err := e.provider.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := e.store.SearchCandidates(ctx, req.Tags, e.candidatePool)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	var ranked []scored
	for _, c := range candidates {
		score := CosineSimilarity(query, c.Embedding)
		if score >= req.MinSimilarityScore {
			ranked = append(ranked, scored{chunk: c, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > req.MaxResults {
		ranked = ranked[:req.MaxResults]
	}

	var docs map[uuid.UUID]types.Document
	if req.IncludeMetadata && len(ranked) > 0 {
		ids := make([]uuid.UUID, 0, len(ranked))
		seen := make(map[uuid.UUID]bool, len(ranked))
		for _, r := range ranked {
			if !seen[r.chunk.DocumentID] {
				seen[r.chunk.DocumentID] = true
				ids = append(ids, r.chunk.DocumentID)
			}
		}
		docs, err = e.store.GetDocumentsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load documents: %w", err)
		}
	}

	for _, r := range ranked {
		result := types.SearchResult{
			ChunkID:         r.chunk.ID,
			Content:         r.chunk.Content,
			SimilarityScore: r.score,
			Position: types.ChunkPosition{
				ChunkIndex:     r.chunk.ChunkIndex,
				StartPosition:  r.chunk.StartPosition,
				EndPosition:    r.chunk.EndPosition,
				SectionHeading: r.chunk.SectionHeading,
			},
		}
		if doc, ok := docs[r.chunk.DocumentID]; ok {
			result.Document = metadata(doc)
		}
		if req.IncludeContext {
			result.Context, err = e.surrounding(ctx, r.chunk)
			if err != nil {
				return nil, err
			}
		}
		resp.Results = append(resp.Results, result)
	}

	resp.TotalResults = len(resp.Results)
	resp.ExecutionTimeMs = time.Since(start).Milliseconds()
	e.logger.Debug("search finished", "query", req.Query, "candidates", len(candidates),
		"results", resp.TotalResults, "ms", resp.ExecutionTimeMs)
	return resp, nil
}

// surrounding joins the chunk with its direct neighbours. A chunk without
// neighbours has no context.
func (e *Engine) surrounding(ctx context.Context, c types.Chunk) (*string, error) {
	chunks, err := e.store.GetChunksInRange(ctx, c.DocumentID, c.ChunkIndex-1, c.ChunkIndex+1)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	if len(chunks) <= 1 {
		return nil, nil
	}
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = ch.Content
	}
	joined := strings.Join(parts, contextSeparator)
	return &joined, nil
}

func metadata(doc types.Document) *types.DocumentMetadata {
	tags := make([]string, 0, len(doc.Tags))
	for _, t := range doc.Tags {
		tags = append(tags, t.TagName)
	}
	return &types.DocumentMetadata{
		DocumentID:   doc.ID,
		FileName:     doc.FileName,
		Title:        doc.Title,
		FilePath:     doc.FilePath,
		LastModified: doc.LastModified,
		Tags:         tags,
	}
}

// CosineSimilarity returns 0 for vectors of different length or zero
// magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
