package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/commissionflow/docintake/internal/document"
)

// Schema is the SQLite schema for the document store.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    id                    TEXT PRIMARY KEY,
    file_name             TEXT NOT NULL,
    file_hash             TEXT NOT NULL DEFAULT '',
    content_type          TEXT NOT NULL DEFAULT '',
    size_bytes            INTEGER NOT NULL DEFAULT 0,
    page_count            INTEGER NOT NULL DEFAULT 0,
    storage_key           TEXT NOT NULL DEFAULT '',
    status                TEXT NOT NULL,
    error_details         TEXT NOT NULL DEFAULT '',
    ocr_job_id            TEXT NOT NULL DEFAULT '',
    workflow_execution_id TEXT NOT NULL DEFAULT '',
    csv_key               TEXT NOT NULL DEFAULT '',
    json_key              TEXT NOT NULL DEFAULT '',
    table_count           INTEGER NOT NULL DEFAULT 0,
    records_created       INTEGER NOT NULL DEFAULT 0,
    records_failed        INTEGER NOT NULL DEFAULT 0,
    created_at            INTEGER NOT NULL,
    updated_at            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(file_hash);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at DESC);
`

// SQLiteStore persists documents in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-opened database and applies the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA foreign_keys=ON")
	st, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

const documentColumns = `id, file_name, file_hash, content_type, size_bytes, page_count,
	storage_key, status, error_details, ocr_job_id, workflow_execution_id,
	csv_key, json_key, table_count, records_created, records_failed,
	created_at, updated_at`

func (s *SQLiteStore) Create(ctx context.Context, doc *document.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.FileName, doc.FileHash, doc.ContentType, doc.SizeBytes, doc.PageCount,
		doc.StorageKey, string(doc.Status), doc.ErrorDetails, doc.OCRJobID, doc.WorkflowExecutionID,
		doc.CSVKey, doc.JSONKey, doc.TableCount, doc.RecordsCreated, doc.RecordsFailed,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (document.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

func (s *SQLiteStore) List(ctx context.Context) ([]document.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) FindByHash(ctx context.Context, fileHash string) (document.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE file_hash = ? LIMIT 1`, fileHash)
	return scanDocument(row)
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status document.Status, errDetails string) error {
	return s.exec(ctx, id,
		`UPDATE documents SET status=?, error_details=?, updated_at=? WHERE id=?`,
		string(status), errDetails, time.Now().UnixMilli(), id)
}

func (s *SQLiteStore) SetProcessing(ctx context.Context, id, ocrJobID, workflowExecutionID string) error {
	return s.exec(ctx, id,
		`UPDATE documents SET status=?, ocr_job_id=?, workflow_execution_id=?, error_details='', updated_at=? WHERE id=?`,
		string(document.StatusProcessing), ocrJobID, workflowExecutionID, time.Now().UnixMilli(), id)
}

func (s *SQLiteStore) SetExtraction(ctx context.Context, id string, upd ExtractionUpdate) error {
	return s.exec(ctx, id,
		`UPDATE documents SET status=?, ocr_job_id=?, csv_key=?, json_key=?, table_count=?, error_details=?, updated_at=? WHERE id=?`,
		string(upd.Status), upd.OCRJobID, upd.CSVKey, upd.JSONKey, upd.TableCount, upd.ErrorDetails, time.Now().UnixMilli(), id)
}

func (s *SQLiteStore) SetHandoff(ctx context.Context, id string, upd HandoffUpdate) error {
	return s.exec(ctx, id,
		`UPDATE documents SET status=?, records_created=?, records_failed=?, error_details=?, updated_at=? WHERE id=?`,
		string(upd.Status), upd.RecordsCreated, upd.RecordsFailed, upd.ErrorDetails, time.Now().UnixMilli(), id)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (document.Document, error) {
	var (
		doc                  document.Document
		status               string
		createdMS, updatedMS int64
	)
	err := row.Scan(
		&doc.ID, &doc.FileName, &doc.FileHash, &doc.ContentType, &doc.SizeBytes, &doc.PageCount,
		&doc.StorageKey, &status, &doc.ErrorDetails, &doc.OCRJobID, &doc.WorkflowExecutionID,
		&doc.CSVKey, &doc.JSONKey, &doc.TableCount, &doc.RecordsCreated, &doc.RecordsFailed,
		&createdMS, &updatedMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, ErrNotFound
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("scan document: %w", err)
	}
	doc.Status = document.Status(status)
	doc.CreatedAt = time.UnixMilli(createdMS).UTC()
	doc.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return doc, nil
}
