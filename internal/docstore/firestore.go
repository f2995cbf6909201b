package docstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/commissionflow/docintake/internal/document"
)

// FirestoreStore persists documents in a Firestore collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a store over the given project and collection.
func NewFirestoreStore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore store")
	}
	if collection == "" {
		collection = "documents"
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *FirestoreStore) Create(ctx context.Context, doc *document.Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	ref, _, err := s.col().Add(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create document record: %w", err)
	}
	doc.ID = ref.ID
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (document.Document, error) {
	snap, err := s.col().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return document.Document{}, ErrNotFound
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return decodeSnapshot(snap)
}

func (s *FirestoreStore) List(ctx context.Context) ([]document.Document, error) {
	iter := s.col().OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var docs []document.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		doc, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *FirestoreStore) FindByHash(ctx context.Context, fileHash string) (document.Document, error) {
	snaps, err := s.col().Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to query by file hash: %w", err)
	}
	if len(snaps) == 0 {
		return document.Document{}, ErrNotFound
	}
	return decodeSnapshot(snaps[0])
}

func (s *FirestoreStore) SetStatus(ctx context.Context, id string, st document.Status, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(st)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	return s.update(ctx, id, updates)
}

func (s *FirestoreStore) SetProcessing(ctx context.Context, id, ocrJobID, workflowExecutionID string) error {
	return s.update(ctx, id, []firestore.Update{
		{Path: "status", Value: string(document.StatusProcessing)},
		{Path: "ocrJobId", Value: ocrJobID},
		{Path: "workflowExecutionId", Value: workflowExecutionID},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
}

func (s *FirestoreStore) SetExtraction(ctx context.Context, id string, upd ExtractionUpdate) error {
	return s.update(ctx, id, []firestore.Update{
		{Path: "status", Value: string(upd.Status)},
		{Path: "ocrJobId", Value: upd.OCRJobID},
		{Path: "csvKey", Value: upd.CSVKey},
		{Path: "jsonKey", Value: upd.JSONKey},
		{Path: "tableCount", Value: upd.TableCount},
		{Path: "errorDetails", Value: upd.ErrorDetails},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
}

func (s *FirestoreStore) SetHandoff(ctx context.Context, id string, upd HandoffUpdate) error {
	return s.update(ctx, id, []firestore.Update{
		{Path: "status", Value: string(upd.Status)},
		{Path: "recordsCreated", Value: upd.RecordsCreated},
		{Path: "recordsFailed", Value: upd.RecordsFailed},
		{Path: "errorDetails", Value: upd.ErrorDetails},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) update(ctx context.Context, id string, updates []firestore.Update) error {
	_, err := s.col().Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	return nil
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (document.Document, error) {
	var doc document.Document
	if err := snap.DataTo(&doc); err != nil {
		return document.Document{}, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
	}
	doc.ID = snap.Ref.ID
	return doc, nil
}
