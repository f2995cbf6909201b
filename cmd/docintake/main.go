// Command docintake is the commission-document intake API server.
//
// Usage:
//
//	docintake -config docintake.yaml
//	docintake -listen :9000 -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/commissionflow/docintake/internal/config"
	"github.com/commissionflow/docintake/internal/docstore"
	"github.com/commissionflow/docintake/internal/extract"
	"github.com/commissionflow/docintake/internal/handoff"
	"github.com/commissionflow/docintake/internal/objectstore"
	"github.com/commissionflow/docintake/internal/ocr"
	"github.com/commissionflow/docintake/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	listenAddr := flag.String("listen", "", "listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *listenAddr); err != nil {
		logger.Error("docintake: fatal", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, listenAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer store.Close()

	objects, err := openObjects(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	defer objects.Close()

	trigger, err := openTrigger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open extraction trigger: %w", err)
	}

	svcCfg := server.Config{
		WebhookSecret: cfg.OCR.WebhookSecret,
		Trigger:       trigger,
	}
	if cfg.Handoff.URL != "" {
		svcCfg.Handoff = handoff.New(cfg.Handoff.URL, cfg.Handoff.Secret, logger.With("component", "handoff"))
	}
	if cfg.Restructure.Enabled {
		restructurer, err := extract.NewRestructurer(ctx, cfg.Restructure.ProjectID, cfg.Restructure.Region, cfg.Restructure.Model)
		if err != nil {
			return fmt.Errorf("open restructurer: %w", err)
		}
		defer restructurer.Close()
		svcCfg.Restructurer = restructurer
	}

	svc := server.New(store, objects, svcCfg, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	svc.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Intake server listening.", "addr", cfg.ListenAddr, "store", cfg.Store.Driver, "storage", cfg.Storage.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.Store.Driver {
	case "firestore":
		return docstore.NewFirestoreStore(ctx, cfg.Store.ProjectID, cfg.Store.Collection)
	default:
		return docstore.OpenSQLite(cfg.Store.DBPath)
	}
}

func openObjects(ctx context.Context, cfg *config.Config, logger *slog.Logger) (objectstore.Store, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		return objectstore.NewGCSStore(ctx, cfg.Storage.Bucket, logger.With("component", "storage"))
	default:
		return objectstore.NewS3Store(ctx, objectstore.S3Config{
			Region:          cfg.Storage.Region,
			Bucket:          cfg.Storage.Bucket,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		})
	}
}

func openTrigger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ocr.Trigger, error) {
	switch cfg.OCR.Mode {
	case "lambda":
		if cfg.OCR.TriggerURL == "" {
			return nil, nil
		}
		return ocr.NewLambdaTrigger(cfg.OCR.TriggerURL, cfg.Storage.Bucket, logger.With("component", "ocr")), nil
	case "workflow":
		return ocr.NewWorkflowTrigger(ctx, cfg.OCR.ProjectID, cfg.OCR.WorkflowLocation, cfg.OCR.WorkflowID, cfg.Storage.Bucket)
	default:
		return nil, nil
	}
}
