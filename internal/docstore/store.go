// Package docstore persists document metadata records. Two implementations
// exist: Firestore for cloud deployments and SQLite for local or
// single-node ones. Callers depend only on Store.
package docstore

import (
	"context"
	"errors"

	"github.com/commissionflow/docintake/internal/document"
)

// ErrNotFound is returned when no document matches the lookup.
var ErrNotFound = errors.New("document not found")

// ExtractionUpdate records the output of a completed extraction job.
type ExtractionUpdate struct {
	Status       document.Status
	OCRJobID     string
	CSVKey       string
	JSONKey      string
	TableCount   int
	ErrorDetails string
}

// HandoffUpdate records the outcome reported by the workflow automation
// completion webhook.
type HandoffUpdate struct {
	Status         document.Status
	RecordsCreated int
	RecordsFailed  int
	ErrorDetails   string
}

// Store is the document metadata store. The status poller only ever reads
// through Get and List; every status write comes from the intake flow or a
// webhook handler.
type Store interface {
	// Create inserts a new record and fills in ID, CreatedAt and
	// UpdatedAt on doc.
	Create(ctx context.Context, doc *document.Document) error
	// Get returns one document or ErrNotFound.
	Get(ctx context.Context, id string) (document.Document, error)
	// List returns every document, newest first.
	List(ctx context.Context) ([]document.Document, error)
	// FindByHash returns the document with the given file hash, or
	// ErrNotFound. Used for upload deduplication.
	FindByHash(ctx context.Context, fileHash string) (document.Document, error)
	// SetStatus transitions a document, optionally recording error
	// details.
	SetStatus(ctx context.Context, id string, status document.Status, errDetails string) error
	// SetProcessing marks a document as processing and records the
	// extraction trace identifiers.
	SetProcessing(ctx context.Context, id, ocrJobID, workflowExecutionID string) error
	// SetExtraction applies the extraction result.
	SetExtraction(ctx context.Context, id string, upd ExtractionUpdate) error
	// SetHandoff applies the hand-off outcome.
	SetHandoff(ctx context.Context, id string, upd HandoffUpdate) error
	// Close releases the underlying client or connection.
	Close() error
}
