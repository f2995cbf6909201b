// Package upload drives the client side of statement intake: validate the
// file, request an upload location, push the bytes with progress, and kick
// off processing.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	apitypes "github.com/commissionflow/docintake/internal/api"
	"github.com/commissionflow/docintake/internal/client"
)

// Orchestrator sequences one upload end to end. Progress is reported as a
// 0-100 percentage: 0-10 covers setup (validation, presign), 10-100 tracks
// the byte transfer.
type Orchestrator struct {
	api    *client.Client
	http   *http.Client
	logger *slog.Logger

	// OnProgress, if set, receives monotonic progress percentages.
	OnProgress func(pct int)
}

// New creates an Orchestrator over the given API client.
func New(apiClient *client.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		api:    apiClient,
		http:   &http.Client{},
		logger: logger,
	}
}

// Result describes a finished (or deduplicated) upload.
type Result struct {
	DocumentID string
	Duplicate  bool
}

// Upload runs the full sequence for the file at path. A file whose hash
// matches an existing document short-circuits without a transfer.
func (o *Orchestrator) Upload(ctx context.Context, path string) (Result, error) {
	logCtx := o.logger.With("file", filepath.Base(path))

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	contentType := contentTypeFor(path)

	pageCount := 0
	if contentType == "application/pdf" {
		pageCount, err = validatePDF(path)
		if err != nil {
			return Result{}, fmt.Errorf("failed to validate PDF: %w", err)
		}
		logCtx.Info("PDF validated.", "pageCount", pageCount)
	}
	o.progress(3)

	fileHash, err := hashFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	o.progress(6)

	resp, err := o.api.RequestUpload(ctx, apitypes.UploadRequest{
		FileName:    filepath.Base(path),
		ContentType: contentType,
		SizeBytes:   info.Size(),
		FileHash:    fileHash,
		PageCount:   pageCount,
	})
	if err != nil {
		return Result{}, err
	}
	if resp.Duplicate {
		logCtx.Info("Duplicate file detected. Skipping transfer.", "existingDocId", resp.DocumentID)
		return Result{DocumentID: resp.DocumentID, Duplicate: true}, nil
	}
	logCtx = logCtx.With("documentId", resp.DocumentID)
	o.progress(10)

	if err := o.transfer(ctx, path, info.Size(), resp); err != nil {
		logCtx.Error("Transfer failed", "error", err)
		return Result{}, err
	}
	o.progress(100)

	if err := o.api.StartProcessing(ctx, resp.DocumentID); err != nil {
		return Result{}, err
	}
	logCtx.Info("Upload complete, processing triggered.")
	return Result{DocumentID: resp.DocumentID}, nil
}

// transfer PUTs the file bytes to the presigned target, retrying transient
// failures the same way page uploads are retried server-side.
func (o *Orchestrator) transfer(ctx context.Context, path string, size int64, resp apitypes.UploadResponse) error {
	const maxRetries = 4
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := o.putOnce(ctx, path, size, resp)
		if err == nil {
			return nil
		}
		lastErr = err
		o.logger.Warn(
			"Upload failed, will retry.",
			"key", resp.Upload.Key,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", resp.Upload.Key, lastErr)
}

func (o *Orchestrator) putOnce(ctx context.Context, path string, size int64, resp apitypes.UploadResponse) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", path, err)
	}
	defer file.Close()

	reader := &progressReader{
		r:     file,
		total: size,
		report: func(fraction float64) {
			// Transfer owns the 10-100 band.
			o.progress(10 + int(fraction*90))
		},
	}

	method := resp.Upload.Method
	if method == "" {
		method = http.MethodPut
	}
	req, err := http.NewRequestWithContext(ctx, method, resp.Upload.URL, reader)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = size
	for k, v := range resp.Upload.Headers {
		req.Header.Set(k, v)
	}

	res, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
		return fmt.Errorf("storage returned %d: %s", res.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

func (o *Orchestrator) progress(pct int) {
	if o.OnProgress != nil {
		o.OnProgress(pct)
	}
}

type progressReader struct {
	r      io.Reader
	total  int64
	sent   int64
	report func(fraction float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.sent += int64(n)
		p.report(float64(p.sent) / float64(p.total))
	}
	return n, err
}

// validatePDF checks the file parses as a PDF and returns its page count.
// Validation is relaxed: statements from carrier portals are frequently
// produced by sloppy generators.
func validatePDF(path string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, cfg); err != nil {
		return 0, err
	}
	return api.PageCountFile(path)
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
