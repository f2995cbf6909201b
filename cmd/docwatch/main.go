// Command docwatch follows document statuses over the intake API using the
// adaptive poller. It prints one JSON line per applied snapshot, speeding
// up while documents are in flight and backing off when the API is down.
// SIGHUP forces an immediate refresh.
//
// Usage:
//
//	docwatch -server http://localhost:8080
//	docwatch -server http://localhost:8080 -document 7f3a...   # exits when stable
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/commissionflow/docintake/internal/client"
	"github.com/commissionflow/docintake/internal/document"
	"github.com/commissionflow/docintake/internal/poller"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "intake API base URL")
	documentID := flag.String("document", "", "watch a single document and exit when it settles")
	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *serverURL, *documentID); err != nil {
		logger.Error("docwatch: fatal", "error", err)
		os.Exit(1)
	}
}

type snapshotLine struct {
	Documents []statusLine `json:"documents"`
	Degraded  bool         `json:"degraded,omitempty"`
	Error     string       `json:"error,omitempty"`
	At        time.Time    `json:"at"`
}

type statusLine struct {
	ID       string          `json:"id"`
	FileName string          `json:"fileName"`
	Status   document.Status `json:"status"`
	Error    string          `json:"error,omitempty"`
}

func run(ctx context.Context, logger *slog.Logger, serverURL, documentID string) error {
	api := client.New(serverURL)

	var fetch poller.Fetcher = api.ListDocuments
	if documentID != "" {
		fetch = api.DocumentFetcher(documentID)
	}

	enc := json.NewEncoder(os.Stdout)
	w := poller.New(fetch, poller.Config{
		SingleDocument: documentID != "",
		OnUpdate: func(snap poller.Snapshot) {
			line := snapshotLine{Degraded: snap.Degraded, At: snap.At}
			if snap.Err != nil {
				line.Error = snap.Err.Error()
			}
			for _, doc := range snap.Documents {
				line.Documents = append(line.Documents, statusLine{
					ID:       doc.ID,
					FileName: doc.FileName,
					Status:   doc.Status,
					Error:    doc.ErrorDetails,
				})
			}
			if err := enc.Encode(line); err != nil {
				logger.Error("Failed to write snapshot", "error", err)
			}
		},
	}, logger)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := w.Invalidate(ctx); err != nil {
					logger.Warn("Forced refresh failed", "error", err)
				}
			}
		}
	}()

	w.Run(ctx)

	if documentID != "" {
		if snap := w.Snapshot(); snap.Fetched && len(snap.Documents) == 1 {
			doc := snap.Documents[0]
			fmt.Fprintf(os.Stderr, "document %s settled with status %s\n", doc.ID, doc.Status)
		}
	}
	return nil
}
