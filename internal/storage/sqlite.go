package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/budgetrag/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers; line item updates still rely on the version check.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS source_documents (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		format TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		fallback_count INTEGER NOT NULL DEFAULT 0,
		ingested_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS budget_categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		description TEXT NOT NULL DEFAULT '',
		parent_category_id INTEGER REFERENCES budget_categories(id)
	);

	CREATE TABLE IF NOT EXISTS budget_line_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category_id INTEGER NOT NULL REFERENCES budget_categories(id),
		name TEXT NOT NULL COLLATE NOCASE,
		amount REAL NOT NULL,
		period TEXT NOT NULL DEFAULT '',
		fiscal_year INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE (category_id, name)
	);

	CREATE TABLE IF NOT EXISTS budget_modifications (
		id TEXT PRIMARY KEY,
		line_item_id INTEGER REFERENCES budget_line_items(id),
		category TEXT NOT NULL,
		line_item TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		previous_amount REAL,
		new_amount REAL,
		user_id TEXT NOT NULL,
		justification TEXT NOT NULL DEFAULT '',
		request_text TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		modification_date TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_modifications_line_item ON budget_modifications(line_item_id, modification_date);

	CREATE TRIGGER IF NOT EXISTS budget_modifications_no_update
	BEFORE UPDATE ON budget_modifications
	BEGIN
		SELECT RAISE(ABORT, 'budget_modifications is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS budget_modifications_no_delete
	BEFORE DELETE ON budget_modifications
	BEGIN
		SELECT RAISE(ABORT, 'budget_modifications is append-only');
	END;
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertDocument inserts or replaces the registry row for doc.ID.
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *models.SourceDocument) error {
	now := time.Now().UTC()
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_documents
			(id, path, name, format, content_hash, size_bytes, chunk_count, fallback_count, ingested_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			name = excluded.name,
			format = excluded.format,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			chunk_count = excluded.chunk_count,
			fallback_count = excluded.fallback_count,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Path, doc.Name, doc.Format, doc.ContentHash, doc.SizeBytes,
		doc.ChunkCount, doc.FallbackCount, doc.IngestedAt, doc.UpdatedAt,
	)
	return err
}

const documentColumns = `id, path, name, format, content_hash, size_bytes, chunk_count, fallback_count, ingested_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.SourceDocument, error) {
	var doc models.SourceDocument
	err := row.Scan(&doc.ID, &doc.Path, &doc.Name, &doc.Format, &doc.ContentHash, &doc.SizeBytes,
		&doc.ChunkCount, &doc.FallbackCount, &doc.IngestedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocument returns a registry row by source ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.SourceDocument, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM source_documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

// ListDocuments returns registry rows ordered by path.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.SourceDocument, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM source_documents ORDER BY path LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.SourceDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a registry row. Deleting a missing row is not an error.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM source_documents WHERE id = ?`, id)
	return err
}

// DocumentStats returns registry totals.
func (s *SQLiteStorage) DocumentStats(ctx context.Context) (*DocumentStats, error) {
	var st DocumentStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(chunk_count), 0), COALESCE(SUM(fallback_count), 0) FROM source_documents`,
	).Scan(&st.Documents, &st.Chunks, &st.Fallbacks)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
