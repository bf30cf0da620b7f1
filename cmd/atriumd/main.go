package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/atriumhq/atrium/internal/host/adminapi"
	"github.com/atriumhq/atrium/internal/host/app"
	"github.com/atriumhq/atrium/internal/host/bus"
	"github.com/atriumhq/atrium/internal/host/config"
	"github.com/atriumhq/atrium/internal/host/db/sqlite"
	"github.com/atriumhq/atrium/internal/host/httpapi"
	"github.com/atriumhq/atrium/internal/host/loader"
	"github.com/atriumhq/atrium/internal/host/tokens"
	"github.com/atriumhq/atrium/internal/shared/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.New("atriumd")

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}

	tracker := tokens.NewTracker()
	mgr := loader.NewManager(logging.New("loader"), store)
	eventBus := bus.New(mgr, tracker, logging.New("bus"))
	mgr.AttachBus(eventBus)

	restored, err := mgr.RestoreManifests(ctx)
	if err != nil {
		logger.Error("restore manifests", "error", err)
		os.Exit(1)
	}
	if restored > 0 {
		logger.Info("manifests restored", "count", restored)
	}
	loadedFromDir, err := mgr.LoadManifestDir(ctx, cfg.ManifestDir)
	if err != nil {
		logger.Error("load manifest dir", "dir", cfg.ManifestDir, "error", err)
		os.Exit(1)
	}
	if loadedFromDir > 0 {
		logger.Info("manifests loaded from disk", "dir", cfg.ManifestDir, "count", loadedFromDir)
	}

	apiHandler := httpapi.New(logging.New("httpapi"), mgr, eventBus, tracker, cfg.APIKey)
	adminHandler := adminapi.New(eventBus, mgr, tracker)

	daemon, err := app.New(cfg, logger, store, apiHandler, adminHandler)
	if err != nil {
		logger.Error("init app", "error", err)
		os.Exit(1)
	}

	if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon exit", "error", err)
		os.Exit(1)
	}
}
