// Package handoff forwards confirmed statement data to the workflow
// automation tool that owns the Salesforce integration, and defines the
// completion callback it posts back when the records have landed.
package handoff

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
	"github.com/commissionflow/docintake/internal/extract"
)

// SecretHeader carries the shared secret on both the outbound submission
// and the inbound completion callback.
const SecretHeader = "x-webhook-secret"

// Submission is the payload posted to the automation webhook when a user
// confirms reviewed rows.
type Submission struct {
	DocumentID      string        `json:"documentId"`
	FileName        string        `json:"fileName"`
	Rows            []extract.Row `json:"rows"`
	TotalCommission float64       `json:"totalCommission"`
	SubmittedAt     time.Time     `json:"submittedAt"`
}

// Callback is the completion payload posted to /api/webhooks/handoff once
// the downstream workflow finishes writing to Salesforce.
type Callback struct {
	DocumentID     string `json:"documentId"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	RecordsCreated int    `json:"recordsCreated,omitempty"`
	RecordsFailed  int    `json:"recordsFailed,omitempty"`
}

// Callback status values.
const (
	CallbackCompleted           = "completed"
	CallbackCompletedWithErrors = "completed_with_errors"
	CallbackFailed              = "failed"
)

// DocumentStatus maps the callback outcome onto the document lifecycle.
func (c Callback) DocumentStatus() (document.Status, error) {
	switch c.Status {
	case CallbackCompleted:
		return document.StatusCompleted, nil
	case CallbackCompletedWithErrors:
		return document.StatusCompletedWithErrors, nil
	case CallbackFailed:
		return document.StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown hand-off callback status %q", c.Status)
	}
}

// Client submits confirmed statements to the automation webhook.
type Client struct {
	url    string
	secret string
	http   *http.Client
	logger *slog.Logger
}

// New creates a hand-off client for the given webhook URL. The secret may
// be empty during local development.
func New(url, secret string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		secret: secret,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Submit posts the submission, retrying transient failures with doubling
// backoff. The downstream workflow acknowledges receipt synchronously;
// completion arrives later on the callback webhook.
func (c *Client) Submit(ctx context.Context, sub Submission) error {
	const maxRetries = 4
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := c.post(ctx, sub)
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Warn(
			"Hand-off submission failed, will retry.",
			"documentId", sub.DocumentID,
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
	return fmt.Errorf("hand-off for %s failed after all retries: %w", sub.DocumentID, lastErr)
}

func (c *Client) post(ctx context.Context, sub Submission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return fmt.Errorf("automation webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
