package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/commissionflow/docintake/internal/extract"
	"github.com/commissionflow/docintake/internal/objectstore"
)

// GCSEvent is the storage object payload carried by a finalize CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// outputPrefix is where the extraction pipeline writes its results, one
// directory per document: outputs/<documentID>/tables.json and .csv.
const outputPrefix = "outputs/"

// Notifier turns extraction-output storage events into completion webhooks
// against the intake API. It runs as a CloudEvent function next to the
// pipeline, so the API server itself never has to watch the bucket.
type Notifier struct {
	webhookURL string
	secret     string
	objects    objectstore.Store
	http       *http.Client
	logger     *slog.Logger
}

// NewNotifier wires a notifier against the given bucket and webhook.
func NewNotifier(objects objectstore.Store, webhookURL, secret string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		webhookURL: webhookURL,
		secret:     secret,
		objects:    objects,
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

// Process handles one storage event. Events for objects outside the output
// prefix, and for anything but the JSON result object, are ignored so the
// CSV sibling write does not produce a second webhook.
func (n *Notifier) Process(ctx context.Context, ev GCSEvent) error {
	if !strings.HasPrefix(ev.Name, outputPrefix) || !strings.HasSuffix(ev.Name, ".json") {
		n.logger.Debug("Ignoring storage event.", "object", ev.Name)
		return nil
	}
	documentID := documentIDFromKey(ev.Name)
	if documentID == "" {
		n.logger.Warn("Output object key carries no document ID, skipping.", "object", ev.Name)
		return nil
	}
	logCtx := n.logger.With("documentId", documentID, "object", ev.Name)

	cb := Callback{
		DocumentID: documentID,
		JSONKey:    ev.Name,
		CSVKey:     strings.TrimSuffix(ev.Name, ".json") + ".csv",
	}

	raw, err := n.objects.Get(ctx, ev.Name)
	if err != nil {
		return fmt.Errorf("read output object: %w", err)
	}
	var ext extract.Extraction
	if err := json.Unmarshal(raw, &ext); err != nil {
		// A malformed result still ends the job; report it as failed so
		// the document does not sit in processing forever.
		logCtx.Error("Output object is not valid extraction JSON.", "error", err)
		cb.Status = CallbackFailed
		cb.ErrorMessage = fmt.Sprintf("invalid extraction output: %v", err)
		return n.post(ctx, cb, logCtx)
	}

	cb.Status = CallbackProcessed
	cb.JobID = ext.JobID
	cb.TableCount = len(ext.Tables)
	return n.post(ctx, cb, logCtx)
}

func (n *Notifier) post(ctx context.Context, cb Callback, logCtx *slog.Logger) error {
	body, err := json.Marshal(cb)
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}

	const maxRetries = 4
	backoff := 1 * time.Second
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := n.postOnce(ctx, body); err != nil {
			lastErr = err
			logCtx.Warn("Webhook delivery failed, will retry.",
				"attempt", i+1, "maxRetries", maxRetries, "backoff", backoff.String(), "error", err)
			select {
			case <-time.After(backoff):
				backoff *= 2
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		logCtx.Info("Extraction webhook delivered.", "status", cb.Status, "tableCount", cb.TableCount)
		return nil
	}
	return fmt.Errorf("deliver webhook after %d attempts: %w", maxRetries, lastErr)
}

func (n *Notifier) postOnce(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("x-webhook-secret", n.secret)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func documentIDFromKey(key string) string {
	parts := strings.Split(strings.TrimPrefix(key, outputPrefix), "/")
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}
	return parts[0]
}
