package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/commissionflow/docintake/internal/document"
)

// startRequest is the payload the start-analysis function expects.
type startRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// startResponse is the function's reply on success.
type startResponse struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
}

// LambdaTrigger starts extraction by invoking the pipeline's HTTP entry
// (the lambda that calls StartDocumentAnalysis). Transient failures are
// retried with doubling backoff; a statement that never reaches the
// pipeline would otherwise sit in "uploaded" forever.
type LambdaTrigger struct {
	url    string
	bucket string
	client *http.Client
	logger *slog.Logger
}

// NewLambdaTrigger creates a trigger posting to url for objects in bucket.
func NewLambdaTrigger(url, bucket string, logger *slog.Logger) *LambdaTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &LambdaTrigger{
		url:    url,
		bucket: bucket,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

func (t *LambdaTrigger) Start(ctx context.Context, doc document.Document) (string, string, error) {
	const maxRetries = 4
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		jobID, err := t.post(ctx, doc.StorageKey)
		if err == nil {
			return jobID, "", nil
		}
		lastErr = err
		t.logger.Warn(
			"OCR trigger failed, will retry.",
			"documentId", doc.ID,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
	return "", "", fmt.Errorf("OCR trigger for %s failed after all retries: %w", doc.ID, lastErr)
}

func (t *LambdaTrigger) post(ctx context.Context, key string) (string, error) {
	payload, err := json.Marshal(startRequest{Bucket: t.bucket, Key: key})
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("trigger request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("trigger returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out startResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode trigger response: %w", err)
	}
	return out.JobID, nil
}
