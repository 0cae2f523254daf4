// Package registry provides a SQLite-backed catalog of ingested documents.
// The vector store holds page embeddings; the registry holds the bookkeeping
// needed to list, inspect, and delete documents: which PDFs are indexed, their
// page counts, and the node ID and image path of every stored page.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when the requested document is not in the registry.
var ErrNotFound = errors.New("registry: document not found")

// Document is one ingested PDF.
type Document struct {
	// ID is the document identifier shared with the vector store payloads.
	ID string
	// Filename is the original name of the source PDF.
	Filename string
	// PageCount is the number of parsed pages.
	PageCount int
	// CreatedAt is when the document finished ingesting.
	CreatedAt time.Time
}

// Page is the registry record of one stored page.
type Page struct {
	// NodeID is the page's vector store point ID.
	NodeID string
	// DocumentID is the owning document.
	DocumentID string
	// PageNumber is the 1-based page index.
	PageNumber int
	// ImagePath is the stored page screenshot path, empty if none.
	ImagePath string
	// TextPreview is a short excerpt of the page text for listings.
	TextPreview string
}

// Registry persists document and page records. Implementations must be safe
// for concurrent use.
type Registry interface {
	// AddDocument records a document and all of its pages in one transaction.
	AddDocument(ctx context.Context, doc Document, pages []Page) error
	// Get returns a document by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)
	// List returns all documents, newest first.
	List(ctx context.Context) ([]Document, error)
	// Pages returns the page records of a document in page order, or
	// ErrNotFound when the document does not exist.
	Pages(ctx context.Context, id string) ([]Page, error)
	// Delete removes a document and its pages, returning the deleted page
	// records so callers can clean up vectors and images. Returns ErrNotFound
	// when the document does not exist.
	Delete(ctx context.Context, id string) ([]Page, error)
	// Count returns the number of registered documents.
	Count(ctx context.Context) (int, error)
	// FilenameExists reports whether a document with the given source
	// filename is already registered.
	FilenameExists(ctx context.Context, filename string) (bool, error)
	// Close releases any resources held by the registry.
	Close() error
}

// SQLiteRegistry is a Registry backed by a local SQLite database.
type SQLiteRegistry struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the registry database path inside the given persist
// directory, creating the directory if needed.
func DefaultDBPath(persistDir string) (string, error) {
	if err := os.MkdirAll(persistDir, 0o755); err != nil {
		return "", fmt.Errorf("registry: could not create %s: %w", persistDir, err)
	}
	return filepath.Join(persistDir, "registry.db"), nil
}

// Open opens (or creates) a SQLiteRegistry at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteRegistry, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	r := &SQLiteRegistry{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// migrate creates the schema if it does not already exist.
func (r *SQLiteRegistry) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT    PRIMARY KEY,
    filename    TEXT    NOT NULL,
    page_count  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS pages (
    node_id      TEXT    PRIMARY KEY,
    document_id  TEXT    NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    page_number  INTEGER NOT NULL,
    image_path   TEXT    NOT NULL DEFAULT '',
    text_preview TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pages_document
    ON pages (document_id, page_number);
CREATE INDEX IF NOT EXISTS idx_documents_filename
    ON documents (filename);
`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// AddDocument records a document and all of its pages in one transaction.
// An existing document with the same ID is replaced.
func (r *SQLiteRegistry) AddDocument(ctx context.Context, doc Document, pages []Page) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const insDoc = `INSERT OR REPLACE INTO documents (id, filename, page_count, created_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insDoc, doc.ID, doc.Filename, doc.PageCount, createdAt.Unix()); err != nil {
		return fmt.Errorf("registry: insert document: %w", err)
	}

	// Replacing a document drops any stale page rows first.
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("registry: clear pages: %w", err)
	}

	const insPage = `INSERT INTO pages (node_id, document_id, page_number, image_path, text_preview) VALUES (?, ?, ?, ?, ?)`
	for _, p := range pages {
		if _, err := tx.ExecContext(ctx, insPage, p.NodeID, doc.ID, p.PageNumber, p.ImagePath, p.TextPreview); err != nil {
			return fmt.Errorf("registry: insert page %d: %w", p.PageNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: commit: %w", err)
	}
	return nil
}

// Get returns a document by ID, or ErrNotFound.
func (r *SQLiteRegistry) Get(ctx context.Context, id string) (Document, error) {
	const q = `SELECT id, filename, page_count, created_at FROM documents WHERE id = ?`
	var doc Document
	var ts int64
	err := r.db.QueryRowContext(ctx, q, id).Scan(&doc.ID, &doc.Filename, &doc.PageCount, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("registry: get: %w", err)
	}
	doc.CreatedAt = time.Unix(ts, 0)
	return doc, nil
}

// List returns all documents, newest first.
func (r *SQLiteRegistry) List(ctx context.Context) ([]Document, error) {
	const q = `SELECT id, filename, page_count, created_at FROM documents ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var ts int64
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.PageCount, &ts); err != nil {
			return nil, fmt.Errorf("registry: list scan: %w", err)
		}
		doc.CreatedAt = time.Unix(ts, 0)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list rows: %w", err)
	}
	return docs, nil
}

// Pages returns the page records of a document in page order.
func (r *SQLiteRegistry) Pages(ctx context.Context, id string) ([]Page, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	const q = `SELECT node_id, document_id, page_number, image_path, text_preview
               FROM pages WHERE document_id = ? ORDER BY page_number`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("registry: pages: %w", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.NodeID, &p.DocumentID, &p.PageNumber, &p.ImagePath, &p.TextPreview); err != nil {
			return nil, fmt.Errorf("registry: pages scan: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: pages rows: %w", err)
	}
	return pages, nil
}

// Delete removes a document and its pages, returning the deleted page records.
func (r *SQLiteRegistry) Delete(ctx context.Context, id string) ([]Page, error) {
	pages, err := r.Pages(ctx, id)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE document_id = ?`, id); err != nil {
		return nil, fmt.Errorf("registry: delete pages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("registry: delete document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("registry: commit: %w", err)
	}
	return pages, nil
}

// Count returns the number of registered documents.
func (r *SQLiteRegistry) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("registry: count: %w", err)
	}
	return n, nil
}

// FilenameExists reports whether a document with the given source filename is
// already registered.
func (r *SQLiteRegistry) FilenameExists(ctx context.Context, filename string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE filename = ?`, filename).Scan(&n); err != nil {
		return false, fmt.Errorf("registry: filename exists: %w", err)
	}
	return n > 0, nil
}

// Close releases the database connection pool.
func (r *SQLiteRegistry) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("registry: close: %w", err)
	}
	return nil
}
