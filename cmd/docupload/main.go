// Command docupload uploads commission statement files through the intake
// API, with validation, deduplication and progress reporting.
//
// Usage:
//
//	docupload -server http://localhost:8080 statement.pdf [more files...]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/commissionflow/docintake/internal/client"
	"github.com/commissionflow/docintake/internal/upload"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "intake API base URL")
	quiet := flag.Bool("quiet", false, "suppress progress output")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: docupload [-server url] <file> [file...]")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := upload.New(client.New(*serverURL), logger)

	failed := 0
	for _, path := range flag.Args() {
		if err := uploadOne(ctx, orch, path, *quiet); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
		}
		if ctx.Err() != nil {
			break
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func uploadOne(ctx context.Context, orch *upload.Orchestrator, path string, quiet bool) error {
	name := filepath.Base(path)
	if !quiet {
		orch.OnProgress = func(pct int) {
			fmt.Fprintf(os.Stderr, "\r%s: %3d%%", name, pct)
		}
	}

	res, err := orch.Upload(ctx, path)
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	if res.Duplicate {
		fmt.Printf("%s: already uploaded as document %s\n", name, res.DocumentID)
		return nil
	}
	fmt.Printf("%s: uploaded as document %s\n", name, res.DocumentID)
	return nil
}
