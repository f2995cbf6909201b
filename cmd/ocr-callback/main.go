// Command ocr-callback is a CloudEvent function that watches the
// extraction-output bucket and posts completion webhooks to the intake
// API when the pipeline writes its JSON results.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/commissionflow/docintake/internal/config"
	"github.com/commissionflow/docintake/internal/objectstore"
	"github.com/commissionflow/docintake/internal/ocr"
)

var (
	notifier *ocr.Notifier
	once     sync.Once
	initErr  error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("NotifyExtractionOutput", notifyExtractionOutput)
}

// main is required by the Go Functions Framework.
func main() {}

func notifyExtractionOutput(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		notifier, initErr = newNotifier(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var ev ocr.GCSEvent
	if err := json.Unmarshal(e.Data(), &ev); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return notifier.Process(ctx, ev)
}

func newNotifier(ctx context.Context) (*ocr.Notifier, error) {
	bucket := config.GetEnv("STORAGE_BUCKET", "")
	webhookURL := config.GetEnv("WEBHOOK_URL", "")
	if bucket == "" || webhookURL == "" {
		return nil, fmt.Errorf("STORAGE_BUCKET and WEBHOOK_URL must be set")
	}

	objects, err := objectstore.NewGCSStore(ctx, bucket, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	secret := config.GetEnv("WEBHOOK_SECRET", "")
	return ocr.NewNotifier(objects, webhookURL, secret, slog.Default()), nil
}
