// Package server exposes the document intake HTTP API: the document list
// and detail reads the status poller consumes, the presign/process/confirm
// intake flow, and the two pipeline completion webhooks. Webhook handlers
// never talk to the poller directly; they call an injected invalidation
// handle so the refresh path stays swappable.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/commissionflow/docintake/internal/api"
	"github.com/commissionflow/docintake/internal/docstore"
	"github.com/commissionflow/docintake/internal/document"
	"github.com/commissionflow/docintake/internal/extract"
	"github.com/commissionflow/docintake/internal/handoff"
	"github.com/commissionflow/docintake/internal/objectstore"
	"github.com/commissionflow/docintake/internal/ocr"
	"github.com/commissionflow/docintake/internal/poller"
)

const uploadURLTTL = 15 * time.Minute

// Submitter forwards confirmed rows downstream.
type Submitter interface {
	Submit(ctx context.Context, sub handoff.Submission) error
}

// Restructurer normalizes raw extraction-table JSON into clean rows.
type Restructurer interface {
	Restructure(ctx context.Context, rawTables []byte) ([]extract.Row, error)
}

// Config carries the collaborators the HTTP service is wired with. Trigger,
// Handoff and Restructurer may be nil when the deployment does not run
// that part of the pipeline.
type Config struct {
	WebhookSecret string
	Trigger       ocr.Trigger
	Handoff       Submitter
	Restructurer  Restructurer
}

// Service is the intake HTTP API.
type Service struct {
	store       docstore.Store
	objects     objectstore.Store
	trigger     ocr.Trigger
	handoff     Submitter
	restructure Restructurer
	secret      string
	logger      *slog.Logger

	watcher *poller.Watcher
	// invalidate forces a poller refresh after state-changing webhooks.
	invalidate func(ctx context.Context) error

	// webhookLimiter bounds the two callback endpoints, which are the only
	// unauthenticated-by-session surface of the API.
	webhookLimiter *rate.Limiter

	mu   sync.Mutex
	subs map[chan poller.Snapshot]struct{}
}

// New creates the service and its server-side watcher over the store.
func New(store docstore.Store, objects objectstore.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:          store,
		objects:        objects,
		trigger:        cfg.Trigger,
		handoff:        cfg.Handoff,
		restructure:    cfg.Restructurer,
		secret:         cfg.WebhookSecret,
		logger:         logger,
		webhookLimiter: rate.NewLimiter(rate.Limit(10), 20),
		subs:           make(map[chan poller.Snapshot]struct{}),
	}
	s.watcher = poller.New(
		func(ctx context.Context) ([]document.Document, error) {
			return store.List(ctx)
		},
		poller.Config{OnUpdate: s.broadcast},
		logger.With("component", "watcher"),
	)
	s.invalidate = s.watcher.Invalidate
	return s
}

// Run drives the server-side watcher that backs the SSE stream. It returns
// when ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.watcher.Run(ctx)
}

// RegisterHTTP mounts the API routes.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/api/documents", s.handleList)
	r.Get("/api/documents/stream", s.handleStream)
	r.Get("/api/documents/{id}", s.handleGet)
	r.Get("/api/documents/{id}/extraction", s.handleExtraction)
	r.Post("/api/uploads", s.handleUpload)
	r.Post("/api/documents/{id}/process", s.handleProcess)
	r.Post("/api/documents/{id}/confirm", s.handleConfirm)
	r.Post("/api/documents/{id}/corrections", s.handleCorrection)
	r.Post("/api/webhooks/ocr", s.handleOCRWebhook)
	r.Post("/api/webhooks/handoff", s.handleHandoffWebhook)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list documents: %w", err))
		return
	}
	if docs == nil {
		docs = []document.Document{}
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

type extractionResponse struct {
	extract.Extraction
	Rows []extract.Row `json:"rows,omitempty"`
}

func (s *Service) handleExtraction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.store.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if doc.JSONKey == "" {
		s.writeError(w, http.StatusConflict, fmt.Errorf("extraction for document %s is not ready", doc.ID))
		return
	}
	raw, err := s.objects.Get(ctx, doc.JSONKey)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("read extraction output: %w", err))
		return
	}

	var ext extract.Extraction
	if err := json.Unmarshal(raw, &ext); err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("decode extraction output: %w", err))
		return
	}
	ext.DocumentID = doc.ID
	ext.JobID = doc.OCRJobID

	resp := extractionResponse{Extraction: ext}
	if s.restructure != nil {
		rows, err := s.restructure.Restructure(ctx, raw)
		if err != nil {
			// Raw tables are still reviewable without the cleanup pass.
			s.logger.Warn("Table restructuring failed, serving raw tables.", "documentId", doc.ID, "error", err)
			resp.Rows = ext.AllRows()
		} else {
			resp.Rows = rows
		}
	} else {
		resp.Rows = ext.AllRows()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req api.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.FileName == "" || req.FileHash == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("fileName and fileHash are required"))
		return
	}

	if existing, err := s.store.FindByHash(ctx, req.FileHash); err == nil {
		s.logger.Info("Duplicate upload detected.", "documentId", existing.ID, "fileHash", req.FileHash)
		s.writeJSON(w, http.StatusOK, api.UploadResponse{DocumentID: existing.ID, Duplicate: true})
		return
	} else if !errors.Is(err, docstore.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("dedup lookup: %w", err))
		return
	}

	doc := document.Document{
		FileName:    req.FileName,
		FileHash:    req.FileHash,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		PageCount:   req.PageCount,
		StorageKey:  fmt.Sprintf("uploads/%s/%s", uuid.NewString(), path.Base(req.FileName)),
		Status:      document.StatusUploading,
	}
	if err := s.store.Create(ctx, &doc); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("create document: %w", err))
		return
	}

	target, err := s.objects.PresignUpload(ctx, doc.StorageKey, req.ContentType, uploadURLTTL)
	if err != nil {
		s.failDocument(ctx, doc.ID, fmt.Errorf("presign upload: %w", err))
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("presign upload: %w", err))
		return
	}

	s.refresh(ctx)
	s.writeJSON(w, http.StatusCreated, api.UploadResponse{DocumentID: doc.ID, Upload: target})
}

type statusResponse struct {
	DocumentID string          `json:"documentId"`
	Status     document.Status `json:"status"`
}

func (s *Service) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.store.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	// Spreadsheets already carry structured rows, so they skip the
	// extraction pipeline and go straight to review.
	if isSpreadsheet(doc.ContentType) {
		if err := s.store.SetStatus(ctx, doc.ID, document.StatusReviewPending, ""); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("update status: %w", err))
			return
		}
		s.refresh(ctx)
		s.writeJSON(w, http.StatusOK, statusResponse{DocumentID: doc.ID, Status: document.StatusReviewPending})
		return
	}

	if s.trigger == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("extraction pipeline is not configured"))
		return
	}
	if err := s.store.SetStatus(ctx, doc.ID, document.StatusUploaded, ""); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("update status: %w", err))
		return
	}

	jobID, executionID, err := s.trigger.Start(ctx, doc)
	if err != nil {
		s.failDocument(ctx, doc.ID, fmt.Errorf("start extraction: %w", err))
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("start extraction: %w", err))
		return
	}
	if err := s.store.SetProcessing(ctx, doc.ID, jobID, executionID); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("update status: %w", err))
		return
	}
	s.logger.Info("Extraction started.", "documentId", doc.ID, "jobId", jobID)

	s.refresh(ctx)
	s.writeJSON(w, http.StatusAccepted, statusResponse{DocumentID: doc.ID, Status: document.StatusProcessing})
}

func (s *Service) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.store.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	var req api.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.Rows) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("at least one row is required"))
		return
	}
	if s.handoff == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("hand-off target is not configured"))
		return
	}

	total := extract.SumCommission(req.Rows)
	sub := handoff.Submission{
		DocumentID:      doc.ID,
		FileName:        doc.FileName,
		Rows:            req.Rows,
		TotalCommission: total,
		SubmittedAt:     time.Now().UTC(),
	}
	if err := s.handoff.Submit(ctx, sub); err != nil {
		s.failDocument(ctx, doc.ID, fmt.Errorf("submit hand-off: %w", err))
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("submit hand-off: %w", err))
		return
	}
	if err := s.store.SetStatus(ctx, doc.ID, document.StatusSalesforceUploadPending, ""); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("update status: %w", err))
		return
	}
	s.logger.Info("Statement confirmed.", "documentId", doc.ID, "rows", len(req.Rows), "totalCommission", total)

	s.refresh(ctx)
	s.writeJSON(w, http.StatusAccepted, api.ConfirmResponse{
		DocumentID:      doc.ID,
		RowCount:        len(req.Rows),
		TotalCommission: total,
	})
}

func (s *Service) handleCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.store.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	var req api.CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.store.SetStatus(ctx, doc.ID, document.StatusCorrectionPending, req.Reason); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("update status: %w", err))
		return
	}
	s.refresh(ctx)
	s.writeJSON(w, http.StatusOK, statusResponse{DocumentID: doc.ID, Status: document.StatusCorrectionPending})
}

func (s *Service) handleOCRWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.authorizeWebhook(w, r) {
		return
	}
	var cb ocr.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode callback: %w", err))
		return
	}
	status, err := cb.DocumentStatus()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := s.resolveCallbackDocument(ctx, cb.DocumentID, cb.OriginalKey)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	upd := docstore.ExtractionUpdate{
		Status:       status,
		OCRJobID:     cb.JobID,
		CSVKey:       cb.CSVKey,
		JSONKey:      cb.JSONKey,
		TableCount:   cb.TableCount,
		ErrorDetails: cb.ErrorMessage,
	}
	if err := s.store.SetExtraction(ctx, doc.ID, upd); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("apply extraction result: %w", err))
		return
	}
	s.logger.Info("Extraction callback applied.",
		"documentId", doc.ID, "jobId", cb.JobID, "status", status, "tableCount", cb.TableCount)

	s.refresh(ctx)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleHandoffWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.authorizeWebhook(w, r) {
		return
	}
	var cb handoff.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode callback: %w", err))
		return
	}
	status, err := cb.DocumentStatus()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if cb.DocumentID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("documentId is required"))
		return
	}

	upd := docstore.HandoffUpdate{
		Status:         status,
		RecordsCreated: cb.RecordsCreated,
		RecordsFailed:  cb.RecordsFailed,
		ErrorDetails:   cb.ErrorMessage,
	}
	if err := s.store.SetHandoff(ctx, cb.DocumentID, upd); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("Hand-off callback applied.",
		"documentId", cb.DocumentID, "status", status,
		"recordsCreated", cb.RecordsCreated, "recordsFailed", cb.RecordsFailed)

	s.refresh(ctx)
	w.WriteHeader(http.StatusNoContent)
}

// handleStream serves server-sent snapshot events from the in-process
// watcher, one per applied fetch.
func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	writeEvent := func(snap poller.Snapshot) bool {
		if err := writeSSE(w, snap); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if snap := s.watcher.Snapshot(); snap.Fetched {
		if !writeEvent(snap) {
			return
		}
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-ch:
			if !writeEvent(snap) {
				return
			}
		}
	}
}

type streamEvent struct {
	Documents []document.Document `json:"documents"`
	Degraded  bool                `json:"degraded,omitempty"`
	Error     string              `json:"error,omitempty"`
	At        time.Time           `json:"at"`
}

func writeSSE(w http.ResponseWriter, snap poller.Snapshot) error {
	ev := streamEvent{
		Documents: snap.Documents,
		Degraded:  snap.Degraded,
		At:        snap.At,
	}
	if snap.Err != nil {
		ev.Error = snap.Err.Error()
	}
	if ev.Documents == nil {
		ev.Documents = []document.Document{}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}

func (s *Service) subscribe() chan poller.Snapshot {
	ch := make(chan poller.Snapshot, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Service) unsubscribe(ch chan poller.Snapshot) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// broadcast delivers a snapshot to every stream subscriber. A slow consumer
// keeps only the latest snapshot, never blocks the watcher.
func (s *Service) broadcast(snap poller.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// refresh forces the watcher to refetch so read-your-writes holds for
// stream consumers. Handler responses do not wait on poll errors.
func (s *Service) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.invalidate(ctx); err != nil {
		s.logger.Warn("Post-update refresh failed.", "error", err)
	}
}

// failDocument marks a document failed with the error text. The original
// request error is still returned to the caller separately.
func (s *Service) failDocument(ctx context.Context, id string, cause error) {
	s.logger.Error("Marking document failed.", "documentId", id, "error", cause)
	if err := s.store.SetStatus(ctx, id, document.StatusFailed, cause.Error()); err != nil {
		s.logger.Error("Failed to record document failure.", "documentId", id, "error", err)
	}
}

func (s *Service) authorizeWebhook(w http.ResponseWriter, r *http.Request) bool {
	if !s.webhookLimiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
		return false
	}
	if s.secret == "" {
		return true
	}
	got := r.Header.Get(handoff.SecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
		s.writeError(w, http.StatusUnauthorized, errors.New("invalid webhook secret"))
		return false
	}
	return true
}

// resolveCallbackDocument finds the record a pipeline callback refers to,
// by ID when present, otherwise by the uploaded object key.
func (s *Service) resolveCallbackDocument(ctx context.Context, id, key string) (document.Document, error) {
	if id != "" {
		return s.store.Get(ctx, id)
	}
	if key == "" {
		return document.Document{}, docstore.ErrNotFound
	}
	docs, err := s.store.List(ctx)
	if err != nil {
		return document.Document{}, err
	}
	for _, doc := range docs {
		if doc.StorageKey == key {
			return doc, nil
		}
	}
	return document.Document{}, docstore.ErrNotFound
}

func isSpreadsheet(contentType string) bool {
	switch {
	case contentType == "text/csv",
		contentType == "application/vnd.ms-excel",
		strings.HasPrefix(contentType, "application/vnd.openxmlformats-officedocument.spreadsheetml"):
		return true
	}
	return false
}

func (s *Service) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, docstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Service) writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed.", "status", code, "error", err)
	}
	s.writeJSON(w, code, api.ErrorResponse{Error: err.Error()})
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response.", "error", err)
	}
}
