package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mdrag/types"
)

// SQLiteStore is the embedded DBStorer. Vectors are stored as little-endian
// float32 BLOBs and compared in process.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		file_path TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_modified TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		start_position INTEGER NOT NULL,
		end_position INTEGER NOT NULL,
		length INTEGER NOT NULL,
		token_count INTEGER NOT NULL,
		section_heading TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (document_id, chunk_index)
	);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_tags (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		assigned_at TEXT NOT NULL,
		assignment_source TEXT NOT NULL,
		confidence REAL NOT NULL,
		PRIMARY KEY (document_id, tag_id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_active ON documents(is_active);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_document_tags_tag ON document_tags(tag_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Fixed-width UTC timestamps so that text comparison orders them.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (s *SQLiteStore) SeedTags(ctx context.Context, tags []types.Tag) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags
			(id, name, description, category, color, is_active, created_at) VALUES (?, ?, ?, ?, ?, 1, ?)`,
			uuid.New(), t.Name, t.Description, t.Category, t.Color, now); err != nil {
			return 0, fmt.Errorf("seed tag %s: %w", t.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.logger.Info("tag catalogue seeded", "tags", len(tags))
	return len(tags), nil
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]types.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, category, color, is_active, created_at
		FROM tags WHERE is_active = 1 ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []types.Tag
	for rows.Next() {
		var (
			t       types.Tag
			created string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &t.Color, &t.IsActive, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(created)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

const sqliteDocumentColumns = `d.id, d.file_name, d.file_path, d.title, d.content, d.file_size, d.content_hash,
	d.created_at, d.updated_at, d.last_modified, d.is_active`

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(row scanner, extra ...any) (*types.Document, error) {
	var (
		doc                        types.Document
		created, updated, modified string
	)
	dest := []any{&doc.ID, &doc.FileName, &doc.FilePath, &doc.Title, &doc.Content, &doc.FileSize,
		&doc.ContentHash, &created, &updated, &modified, &doc.IsActive}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	doc.CreatedAt = parseTime(created)
	doc.UpdatedAt = parseTime(updated)
	doc.LastModified = parseTime(modified)
	return &doc, nil
}

func (s *SQLiteStore) GetDocumentByPath(ctx context.Context, path string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteDocumentColumns+` FROM documents d WHERE d.file_path = ?`, path)
	return scanSQLiteDocument(row)
}

func (s *SQLiteStore) GetDocumentByID(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteDocumentColumns+` FROM documents d WHERE d.id = ? AND d.is_active = 1`, id)
	doc, err := scanSQLiteDocument(row)
	if err != nil {
		return nil, err
	}

	doc.Chunks, err = s.GetChunksInRange(ctx, id, 0, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	doc.ChunkCount = len(doc.Chunks)

	tags, err := s.documentTags(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	doc.Tags = tags[id]
	return doc, nil
}

// tagFilter restricts documents aliased d to those carrying one of tags.
func tagFilter(tags []string) (string, []any) {
	if len(tags) == 0 {
		return "", nil
	}
	args := make([]any, len(tags))
	for i, t := range tags {
		args[i] = t
	}
	return ` AND EXISTS (SELECT 1 FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
		WHERE dt.document_id = d.id AND t.is_active = 1 AND t.name IN (` + placeholders(len(tags)) + `))`, args
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, tags []string) ([]types.Document, error) {
	filter, args := tagFilter(tags)
	query := `SELECT ` + sqliteDocumentColumns + `,
		(SELECT COUNT(*) FROM document_chunks c WHERE c.document_id = d.id)
		FROM documents d WHERE d.is_active = 1` + filter + ` ORDER BY d.title`

	docs, err := s.queryDocuments(ctx, query, args, true)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
	}
	byDoc, err := s.documentTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Tags = byDoc[docs[i].ID]
	}
	return docs, nil
}

func (s *SQLiteStore) queryDocuments(ctx context.Context, query string, args []any, withCount bool) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		var (
			doc   *types.Document
			count int
		)
		if withCount {
			doc, err = scanSQLiteDocument(rows, &count)
		} else {
			doc, err = scanSQLiteDocument(rows)
		}
		if err != nil {
			return nil, err
		}
		doc.ChunkCount = count
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func uuidArgs(ids []uuid.UUID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func (s *SQLiteStore) GetDocumentsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]types.Document, error) {
	out := make(map[uuid.UUID]types.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	docs, err := s.queryDocuments(ctx, `SELECT `+sqliteDocumentColumns+` FROM documents d
		WHERE d.is_active = 1 AND d.id IN (`+placeholders(len(ids))+`)`, uuidArgs(ids), false)
	if err != nil {
		return nil, err
	}
	byDoc, err := s.documentTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		doc.Tags = byDoc[doc.ID]
		out[doc.ID] = doc
	}
	return out, nil
}

func (s *SQLiteStore) documentTags(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]types.DocumentTag, error) {
	out := make(map[uuid.UUID][]types.DocumentTag)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT dt.document_id, dt.tag_id, t.name, t.category, t.color,
		dt.assigned_at, dt.assignment_source, dt.confidence
		FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
		WHERE t.is_active = 1 AND dt.document_id IN (`+placeholders(len(ids))+`)
		ORDER BY dt.confidence DESC, t.name`, uuidArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			dt       types.DocumentTag
			assigned string
		)
		if err := rows.Scan(&dt.DocumentID, &dt.TagID, &dt.TagName, &dt.TagCategory, &dt.TagColor,
			&assigned, &dt.AssignmentSource, &dt.Confidence); err != nil {
			return nil, err
		}
		dt.AssignedAt = parseTime(assigned)
		out[dt.DocumentID] = append(out[dt.DocumentID], dt)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveIndexedDocument(ctx context.Context, doc *types.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO documents (id, file_name, file_path, title, content, file_size,
			content_hash, created_at, updated_at, last_modified, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			file_name = excluded.file_name,
			file_path = excluded.file_path,
			title = excluded.title,
			content = excluded.content,
			file_size = excluded.file_size,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at,
			last_modified = excluded.last_modified,
			is_active = excluded.is_active`,
		doc.ID, doc.FileName, doc.FilePath, doc.Title, doc.Content, doc.FileSize, doc.ContentHash,
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt), formatTime(doc.LastModified), doc.IsActive)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	for _, c := range doc.Chunks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO document_chunks (id, document_id, chunk_index, content,
				embedding, start_position, end_position, length, token_count, section_heading, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, doc.ID, c.ChunkIndex, c.Content, float32SliceToBytes(c.Embedding),
			c.StartPosition, c.EndPosition, c.Length, c.TokenCount, c.SectionHeading, formatTime(c.CreatedAt)); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_tags WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	for _, t := range doc.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO document_tags
				(document_id, tag_id, assigned_at, assignment_source, confidence) VALUES (?, ?, ?, ?, ?)`,
			doc.ID, t.TagID, formatTime(t.AssignedAt), t.AssignmentSource, t.Confidence); err != nil {
			return fmt.Errorf("insert tag %s: %w", t.TagName, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeactivateDocument(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET is_active = 0, updated_at = ?
		WHERE id = ? AND is_active = 1`, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

const sqliteChunkColumns = `c.id, c.document_id, c.chunk_index, c.content, c.embedding, c.start_position,
	c.end_position, c.length, c.token_count, c.section_heading, c.created_at, d.title`

func (s *SQLiteStore) queryChunks(ctx context.Context, query string, args ...any) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		var (
			c       types.Chunk
			blob    []byte
			created string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &blob, &c.StartPosition,
			&c.EndPosition, &c.Length, &c.TokenCount, &c.SectionHeading, &created, &c.DocumentTitle); err != nil {
			return nil, err
		}
		c.Embedding = bytesToFloat32Slice(blob)
		c.CreatedAt = parseTime(created)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) SearchCandidates(ctx context.Context, tags []string, limit int) ([]types.Chunk, error) {
	filter, args := tagFilter(tags)
	query := `SELECT ` + sqliteChunkColumns + `
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.is_active = 1 AND c.embedding IS NOT NULL` + filter + `
		ORDER BY d.file_path, c.chunk_index LIMIT ?`
	return s.queryChunks(ctx, query, append(args, limit)...)
}

func (s *SQLiteStore) GetChunksInRange(ctx context.Context, docID uuid.UUID, from, to int) ([]types.Chunk, error) {
	return s.queryChunks(ctx, `SELECT `+sqliteChunkColumns+`
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = ? AND c.chunk_index BETWEEN ? AND ?
		ORDER BY c.chunk_index`, docID, from, to)
}

func (s *SQLiteStore) ListActiveChunks(ctx context.Context) ([]types.Chunk, error) {
	return s.queryChunks(ctx, `SELECT `+sqliteChunkColumns+`
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.is_active = 1 ORDER BY d.file_path, c.chunk_index`)
}

func (s *SQLiteStore) UpdateChunkEmbeddings(ctx context.Context, embeddings map[uuid.UUID][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for id, vec := range embeddings {
		if _, err := tx.ExecContext(ctx, `UPDATE document_chunks SET embedding = ? WHERE id = ?`,
			float32SliceToBytes(vec), id); err != nil {
			return fmt.Errorf("update embedding %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) IndexStatus(ctx context.Context) (*types.IndexStatus, error) {
	status := &types.IndexStatus{DocumentsByTag: map[string]int{}}
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT
			(SELECT COUNT(*) FROM documents WHERE is_active = 1),
			(SELECT COUNT(*) FROM document_chunks c JOIN documents d ON d.id = c.document_id WHERE d.is_active = 1),
			(SELECT MAX(updated_at) FROM documents WHERE is_active = 1)`).
		Scan(&status.TotalDocuments, &status.TotalChunks, &last)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := parseTime(last.String)
		status.LastIndexed = &t
	}

	rows, err := s.db.QueryContext(ctx, `SELECT t.name, COUNT(DISTINCT d.id)
		FROM tags t
		JOIN document_tags dt ON dt.tag_id = t.id
		JOIN documents d ON d.id = dt.document_id
		WHERE t.is_active = 1 AND d.is_active = 1
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
