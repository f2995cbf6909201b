package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commissionflow/docintake/internal/api"
	"github.com/commissionflow/docintake/internal/docstore"
	"github.com/commissionflow/docintake/internal/document"
	"github.com/commissionflow/docintake/internal/extract"
	"github.com/commissionflow/docintake/internal/handoff"
	"github.com/commissionflow/docintake/internal/objectstore"
)

type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) PresignUpload(_ context.Context, key, contentType string, expires time.Duration) (objectstore.UploadTarget, error) {
	return objectstore.UploadTarget{
		URL:       "https://bucket.test/" + key,
		Method:    http.MethodPut,
		Headers:   map[string]string{"Content-Type": contentType},
		Key:       key,
		ExpiresAt: time.Now().Add(expires),
	}, nil
}

func (f *fakeObjects) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("no object at %s", key)
	}
	return data, nil
}

func (f *fakeObjects) Put(_ context.Context, key, _ string, data []byte) error {
	f.data[key] = data
	return nil
}

func (f *fakeObjects) Close() error { return nil }

type fakeTrigger struct {
	started []string
}

func (f *fakeTrigger) Start(_ context.Context, doc document.Document) (string, string, error) {
	f.started = append(f.started, doc.ID)
	return "job-1", "exec-1", nil
}

type fakeHandoff struct {
	subs []handoff.Submission
}

func (f *fakeHandoff) Submit(_ context.Context, sub handoff.Submission) error {
	f.subs = append(f.subs, sub)
	return nil
}

type testEnv struct {
	svc         *Service
	store       docstore.Store
	objects     *fakeObjects
	trigger     *fakeTrigger
	handoff     *fakeHandoff
	router      chi.Router
	invalidated *atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := docstore.NewSQLiteStore(db)
	require.NoError(t, err)

	objects := &fakeObjects{data: map[string][]byte{}}
	trigger := &fakeTrigger{}
	ho := &fakeHandoff{}
	svc := New(store, objects, Config{
		WebhookSecret: "hunter2",
		Trigger:       trigger,
		Handoff:       ho,
	}, nil)

	var invalidated atomic.Int32
	svc.invalidate = func(context.Context) error {
		invalidated.Add(1)
		return nil
	}

	r := chi.NewRouter()
	svc.RegisterHTTP(r)
	return &testEnv{
		svc:         svc,
		store:       store,
		objects:     objects,
		trigger:     trigger,
		handoff:     ho,
		router:      r,
		invalidated: &invalidated,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, doc document.Document) document.Document {
	t.Helper()
	require.NoError(t, e.store.Create(context.Background(), &doc))
	return doc
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestUploadCreatesDocumentAndPresigns(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/uploads", api.UploadRequest{
		FileName:    "march.pdf",
		ContentType: "application/pdf",
		SizeBytes:   2048,
		FileHash:    "abc123",
		PageCount:   3,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[api.UploadResponse](t, rec)
	assert.False(t, resp.Duplicate)
	assert.NotEmpty(t, resp.DocumentID)
	assert.Equal(t, http.MethodPut, resp.Upload.Method)
	assert.Contains(t, resp.Upload.URL, resp.Upload.Key)

	doc, err := env.store.Get(context.Background(), resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusUploading, doc.Status)
	assert.Equal(t, "abc123", doc.FileHash)
	assert.Equal(t, resp.Upload.Key, doc.StorageKey)
}

func TestUploadDeduplicatesByHash(t *testing.T) {
	env := newTestEnv(t)
	existing := env.seed(t, document.Document{
		FileName: "march.pdf",
		FileHash: "abc123",
		Status:   document.StatusCompleted,
	})

	rec := env.do(t, http.MethodPost, "/api/uploads", api.UploadRequest{
		FileName: "march-copy.pdf",
		FileHash: "abc123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[api.UploadResponse](t, rec)
	assert.True(t, resp.Duplicate)
	assert.Equal(t, existing.ID, resp.DocumentID)
	assert.Empty(t, resp.Upload.URL)

	docs, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestProcessTriggersExtraction(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seed(t, document.Document{
		FileName:    "march.pdf",
		ContentType: "application/pdf",
		FileHash:    "abc123",
		StorageKey:  "uploads/x/march.pdf",
		Status:      document.StatusUploading,
	})

	rec := env.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/process", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	assert.Equal(t, []string{doc.ID}, env.trigger.started)

	got, err := env.store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusProcessing, got.Status)
	assert.Equal(t, "job-1", got.OCRJobID)
	assert.Equal(t, "exec-1", got.WorkflowExecutionID)
	assert.Positive(t, env.invalidated.Load())
}

func TestProcessSpreadsheetSkipsPipeline(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seed(t, document.Document{
		FileName:    "march.csv",
		ContentType: "text/csv",
		FileHash:    "def456",
		Status:      document.StatusUploading,
	})

	rec := env.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/process", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, env.trigger.started)
	got, err := env.store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusReviewPending, got.Status)
}

func TestOCRWebhookAppliesResult(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seed(t, document.Document{
		FileName:   "march.pdf",
		FileHash:   "abc123",
		StorageKey: "uploads/x/march.pdf",
		Status:     document.StatusProcessing,
	})

	cb := map[string]any{
		"documentId": doc.ID,
		"jobId":      "job-9",
		"status":     "processed",
		"csvS3Key":   "outputs/march.csv",
		"jsonS3Key":  "outputs/march.json",
		"tableCount": 2,
	}
	rec := env.do(t, http.MethodPost, "/api/webhooks/ocr", cb, map[string]string{
		handoff.SecretHeader: "hunter2",
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	got, err := env.store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusReviewPending, got.Status)
	assert.Equal(t, "job-9", got.OCRJobID)
	assert.Equal(t, "outputs/march.json", got.JSONKey)
	assert.Equal(t, 2, got.TableCount)
	assert.Positive(t, env.invalidated.Load())
}

func TestOCRWebhookResolvesByObjectKey(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seed(t, document.Document{
		FileName:   "march.pdf",
		FileHash:   "abc123",
		StorageKey: "uploads/x/march.pdf",
		Status:     document.StatusProcessing,
	})

	cb := map[string]any{
		"jobId":         "job-9",
		"originalS3Key": "uploads/x/march.pdf",
		"status":        "failed",
		"errorMessage":  "no tables detected",
	}
	rec := env.do(t, http.MethodPost, "/api/webhooks/ocr", cb, map[string]string{
		handoff.SecretHeader: "hunter2",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := env.store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusFailed, got.Status)
	assert.Equal(t, "no tables detected", got.ErrorDetails)
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/webhooks/ocr", map[string]any{
		"jobId": "job-9", "status": "processed",
	}, map[string]string{handoff.SecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/webhooks/ocr", map[string]any{
		"jobId": "job-9", "status": "processed",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConfirmSubmitsHandoff(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seed(t, document.Document{
		FileName: "march.pdf",
		FileHash: "abc123",
		Status:   document.StatusReviewPending,
	})

	rows := []extract.Row{
		{"Policy Number": "P-1", "Commission Amount": "$120.50"},
		{"Policy Number": "P-2", "Commission Amount": "($20.50)"},
	}
	rec := env.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/confirm", api.ConfirmRequest{Rows: rows}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[api.ConfirmResponse](t, rec)
	assert.Equal(t, 2, resp.RowCount)
	assert.InDelta(t, 100.0, resp.TotalCommission, 0.001)

	require.Len(t, env.handoff.subs, 1)
	assert.Equal(t, doc.ID, env.handoff.subs[0].DocumentID)
	assert.InDelta(t, 100.0, env.handoff.subs[0].TotalCommission, 0.001)

	got, err := env.store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusSalesforceUploadPending, got.Status)
}

func TestHandoffWebhookRecordsOutcome(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seed(t, document.Document{
		FileName: "march.pdf",
		FileHash: "abc123",
		Status:   document.StatusSalesforceUploadPending,
	})

	cb := map[string]any{
		"documentId":     doc.ID,
		"status":         "completed_with_errors",
		"recordsCreated": 41,
		"recordsFailed":  1,
		"errorMessage":   "1 row missing policy number",
	}
	rec := env.do(t, http.MethodPost, "/api/webhooks/handoff", cb, map[string]string{
		handoff.SecretHeader: "hunter2",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := env.store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusCompletedWithErrors, got.Status)
	assert.Equal(t, 41, got.RecordsCreated)
	assert.Equal(t, 1, got.RecordsFailed)
}

func TestCorrectionMarksDocument(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seed(t, document.Document{
		FileName: "march.pdf",
		FileHash: "abc123",
		Status:   document.StatusReviewPending,
	})

	rec := env.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/corrections",
		api.CorrectionRequest{Reason: "wrong statement period"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusCorrectionPending, got.Status)
	assert.Equal(t, "wrong statement period", got.ErrorDetails)
}

func TestExtractionServesFlattenedRows(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seed(t, document.Document{
		FileName: "march.pdf",
		FileHash: "abc123",
		Status:   document.StatusReviewPending,
		JSONKey:  "outputs/march.json",
		OCRJobID: "job-9",
	})
	ext := extract.Extraction{Tables: []extract.Table{
		{
			Index:   0,
			Headers: []string{"Policy Number", "Commission Amount"},
			Rows: []extract.Row{
				{"Policy Number": "P-1", "Commission Amount": "$120.50"},
			},
		},
	}}
	raw, err := json.Marshal(ext)
	require.NoError(t, err)
	env.objects.data["outputs/march.json"] = raw

	rec := env.do(t, http.MethodGet, "/api/documents/"+doc.ID+"/extraction", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[extractionResponse](t, rec)
	assert.Equal(t, doc.ID, resp.DocumentID)
	assert.Equal(t, "job-9", resp.JobID)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "P-1", resp.Rows[0]["Policy Number"])
}

func TestExtractionNotReady(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seed(t, document.Document{
		FileName: "march.pdf",
		FileHash: "abc123",
		Status:   document.StatusProcessing,
	})

	rec := env.do(t, http.MethodGet, "/api/documents/"+doc.ID+"/extraction", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetDocumentNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/documents/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decode[api.ErrorResponse](t, rec)
	assert.NotEmpty(t, resp.Error)
}

func TestListEmptyIsArray(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/documents", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}
