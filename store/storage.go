package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"mdrag/types"
)

// DBStorer persists documents, chunks and tags.
type DBStorer interface {
	Init(context.Context) error
	Ping(context.Context) error
	Close() error

	SeedTags(context.Context, []types.Tag) (int, error)
	ListTags(context.Context) ([]types.Tag, error)

	// GetDocumentByPath returns the document regardless of its active flag.
	GetDocumentByPath(context.Context, string) (*types.Document, error)
	// GetDocumentByID returns an active document with its chunks and tags.
	GetDocumentByID(context.Context, uuid.UUID) (*types.Document, error)
	// ListDocuments returns active documents, optionally restricted to those
	// carrying at least one of the given tags, ordered by title.
	ListDocuments(context.Context, []string) ([]types.Document, error)
	// GetDocumentsByIDs returns active documents with their tag names.
	GetDocumentsByIDs(context.Context, []uuid.UUID) (map[uuid.UUID]types.Document, error)
	// SaveIndexedDocument upserts the document and replaces its chunks and
	// tags in one transaction.
	SaveIndexedDocument(context.Context, *types.Document) error
	DeactivateDocument(context.Context, uuid.UUID) error

	// SearchCandidates returns up to limit chunks of active documents.
	SearchCandidates(context.Context, []string, int) ([]types.Chunk, error)
	// GetChunksInRange returns chunks with from <= index <= to, ordered.
	GetChunksInRange(context.Context, uuid.UUID, int, int) ([]types.Chunk, error)
	ListActiveChunks(context.Context) ([]types.Chunk, error)
	UpdateChunkEmbeddings(context.Context, map[uuid.UUID][]float32) error

	IndexStatus(context.Context) (*types.IndexStatus, error)
}

type PostgresStore struct {
	pool   *pgxpool.Pool
	dim    int
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, dim int, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		dim:    dim,
		logger: logger,
	}, nil
}

func (p *PostgresStore) Init(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		file_name TEXT NOT NULL,
		file_path TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		file_size BIGINT NOT NULL,
		content_hash TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		last_modified TIMESTAMP WITH TIME ZONE NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id UUID PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INT NOT NULL,
		content TEXT NOT NULL,
		embedding vector(%d),
		start_position INT NOT NULL,
		end_position INT NOT NULL,
		length INT NOT NULL,
		token_count INT NOT NULL,
		section_heading TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE (document_id, chunk_index)
	);

	CREATE TABLE IF NOT EXISTS tags (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_tags (
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		tag_id UUID NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		assigned_at TIMESTAMP WITH TIME ZONE NOT NULL,
		assignment_source TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (document_id, tag_id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_active ON documents(is_active);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_document_tags_tag ON document_tags(tag_id);
	`, p.dim)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool closed")
	}
	return nil
}

func (p *PostgresStore) SeedTags(ctx context.Context, tags []types.Tag) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tags`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, t := range tags {
		batch.Queue(`INSERT INTO tags (id, name, description, category, color, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6) ON CONFLICT (name) DO NOTHING`,
			uuid.New(), t.Name, t.Description, t.Category, t.Color, now)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("seed tags: %w", err)
	}
	return len(tags), nil
}

func (p *PostgresStore) ListTags(ctx context.Context) ([]types.Tag, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, description, category, color, is_active, created_at
		FROM tags WHERE is_active ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []types.Tag
	for rows.Next() {
		var t types.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &t.Color, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

const pgDocumentColumns = `d.id, d.file_name, d.file_path, d.title, d.content, d.file_size, d.content_hash,
	d.created_at, d.updated_at, d.last_modified, d.is_active`

func scanPgDocument(row pgx.Row, extra ...any) (*types.Document, error) {
	doc := &types.Document{}
	dest := []any{&doc.ID, &doc.FileName, &doc.FilePath, &doc.Title, &doc.Content, &doc.FileSize,
		&doc.ContentHash, &doc.CreatedAt, &doc.UpdatedAt, &doc.LastModified, &doc.IsActive}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (p *PostgresStore) GetDocumentByPath(ctx context.Context, path string) (*types.Document, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+pgDocumentColumns+` FROM documents d WHERE d.file_path = $1`, path)
	return scanPgDocument(row)
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+pgDocumentColumns+` FROM documents d WHERE d.id = $1 AND d.is_active`, id)
	doc, err := scanPgDocument(row)
	if err != nil {
		return nil, err
	}

	doc.Chunks, err = p.GetChunksInRange(ctx, id, 0, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	doc.ChunkCount = len(doc.Chunks)

	tags, err := p.documentTags(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	doc.Tags = tags[id]
	return doc, nil
}

func (p *PostgresStore) ListDocuments(ctx context.Context, tags []string) ([]types.Document, error) {
	query := `SELECT ` + pgDocumentColumns + `,
		(SELECT COUNT(*) FROM document_chunks c WHERE c.document_id = d.id)
		FROM documents d WHERE d.is_active`
	args := []any{}
	if len(tags) > 0 {
		query += ` AND EXISTS (SELECT 1 FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
			WHERE dt.document_id = d.id AND t.is_active AND t.name = ANY($1))`
		args = append(args, tags)
	}
	query += ` ORDER BY d.title`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	var ids []uuid.UUID
	for rows.Next() {
		var count int
		doc, err := scanPgDocument(rows, &count)
		if err != nil {
			return nil, err
		}
		doc.ChunkCount = count
		docs = append(docs, *doc)
		ids = append(ids, doc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byDoc, err := p.documentTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Tags = byDoc[docs[i].ID]
	}
	return docs, nil
}

func (p *PostgresStore) GetDocumentsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]types.Document, error) {
	out := make(map[uuid.UUID]types.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT `+pgDocumentColumns+` FROM documents d WHERE d.is_active AND d.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = *doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byDoc, err := p.documentTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, doc := range out {
		doc.Tags = byDoc[id]
		out[id] = doc
	}
	return out, nil
}

func (p *PostgresStore) documentTags(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]types.DocumentTag, error) {
	out := make(map[uuid.UUID][]types.DocumentTag)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT dt.document_id, dt.tag_id, t.name, t.category, t.color,
		dt.assigned_at, dt.assignment_source, dt.confidence
		FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
		WHERE t.is_active AND dt.document_id = ANY($1)
		ORDER BY dt.confidence DESC, t.name`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dt types.DocumentTag
		if err := rows.Scan(&dt.DocumentID, &dt.TagID, &dt.TagName, &dt.TagCategory, &dt.TagColor,
			&dt.AssignedAt, &dt.AssignmentSource, &dt.Confidence); err != nil {
			return nil, err
		}
		out[dt.DocumentID] = append(out[dt.DocumentID], dt)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveIndexedDocument(ctx context.Context, doc *types.Document) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO documents (id, file_name, file_path, title, content, file_size,
			content_hash, created_at, updated_at, last_modified, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			file_path = EXCLUDED.file_path,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			file_size = EXCLUDED.file_size,
			content_hash = EXCLUDED.content_hash,
			updated_at = EXCLUDED.updated_at,
			last_modified = EXCLUDED.last_modified,
			is_active = EXCLUDED.is_active`,
		doc.ID, doc.FileName, doc.FilePath, doc.Title, doc.Content, doc.FileSize,
		doc.ContentHash, doc.CreatedAt, doc.UpdatedAt, doc.LastModified, doc.IsActive)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM document_chunks WHERE document_id = $1`, doc.ID)
	for _, c := range doc.Chunks {
		batch.Queue(`INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding,
				start_position, end_position, length, token_count, section_heading, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			c.ID, doc.ID, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding),
			c.StartPosition, c.EndPosition, c.Length, c.TokenCount, c.SectionHeading, c.CreatedAt)
	}
	batch.Queue(`DELETE FROM document_tags WHERE document_id = $1`, doc.ID)
	for _, t := range doc.Tags {
		batch.Queue(`INSERT INTO document_tags (document_id, tag_id, assigned_at, assignment_source, confidence)
			VALUES ($1, $2, $3, $4, $5)`,
			doc.ID, t.TagID, t.AssignedAt, t.AssignmentSource, t.Confidence)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("replace chunks and tags: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) DeactivateDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `UPDATE documents SET is_active = FALSE, updated_at = $2
		WHERE id = $1 AND is_active`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

const pgChunkColumns = `c.id, c.document_id, c.chunk_index, c.content, c.embedding, c.start_position,
	c.end_position, c.length, c.token_count, c.section_heading, c.created_at, d.title`

func scanPgChunks(rows pgx.Rows) ([]types.Chunk, error) {
	defer rows.Close()
	var chunks []types.Chunk
	for rows.Next() {
		var (
			c   types.Chunk
			vec pgvector.Vector
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &vec, &c.StartPosition,
			&c.EndPosition, &c.Length, &c.TokenCount, &c.SectionHeading, &c.CreatedAt, &c.DocumentTitle); err != nil {
			return nil, err
		}
		c.Embedding = vec.Slice()
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (p *PostgresStore) SearchCandidates(ctx context.Context, tags []string, limit int) ([]types.Chunk, error) {
	query := `SELECT ` + pgChunkColumns + `
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.is_active AND c.embedding IS NOT NULL`
	args := []any{limit}
	if len(tags) > 0 {
		query += ` AND EXISTS (SELECT 1 FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
			WHERE dt.document_id = d.id AND t.is_active AND t.name = ANY($2))`
		args = append(args, tags)
	}
	query += ` ORDER BY d.file_path, c.chunk_index LIMIT $1`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanPgChunks(rows)
}

func (p *PostgresStore) GetChunksInRange(ctx context.Context, docID uuid.UUID, from, to int) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+pgChunkColumns+`
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = $1 AND c.chunk_index BETWEEN $2 AND $3
		ORDER BY c.chunk_index`, docID, from, to)
	if err != nil {
		return nil, err
	}
	return scanPgChunks(rows)
}

func (p *PostgresStore) ListActiveChunks(ctx context.Context) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+pgChunkColumns+`
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.is_active ORDER BY d.file_path, c.chunk_index`)
	if err != nil {
		return nil, err
	}
	return scanPgChunks(rows)
}

func (p *PostgresStore) UpdateChunkEmbeddings(ctx context.Context, embeddings map[uuid.UUID][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for id, vec := range embeddings {
		batch.Queue(`UPDATE document_chunks SET embedding = $2 WHERE id = $1`, id, pgvector.NewVector(vec))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update embeddings: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) IndexStatus(ctx context.Context) (*types.IndexStatus, error) {
	status := &types.IndexStatus{DocumentsByTag: map[string]int{}}
	err := p.pool.QueryRow(ctx, `SELECT
			(SELECT COUNT(*) FROM documents WHERE is_active),
			(SELECT COUNT(*) FROM document_chunks c JOIN documents d ON d.id = c.document_id WHERE d.is_active),
			(SELECT MAX(updated_at) FROM documents WHERE is_active)`).
		Scan(&status.TotalDocuments, &status.TotalChunks, &status.LastIndexed)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `SELECT t.name, COUNT(DISTINCT d.id)
		FROM tags t
		JOIN document_tags dt ON dt.tag_id = t.id
		JOIN documents d ON d.id = dt.document_id
		WHERE t.is_active AND d.is_active
		GROUP BY t.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name  string
			count int
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		status.DocumentsByTag[name] = count
	}
	return status, rows.Err()
}
