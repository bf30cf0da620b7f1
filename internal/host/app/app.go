package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/atriumhq/atrium/internal/host/config"
	"github.com/atriumhq/atrium/internal/host/db"
)

// App wires the config, persistence, bus, loader, and the two HTTP
// transports into one daemon lifecycle.
type App struct {
	cfg          config.HostConfig
	logger       *slog.Logger
	store        db.Store
	apiServer    *http.Server
	adminServer  *http.Server
	shutdownWait time.Duration
}

// New constructs the daemon application.
func New(cfg config.HostConfig, logger *slog.Logger, store db.Store, apiHandler, adminHandler http.Handler) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if apiHandler == nil {
		return nil, fmt.Errorf("api handler must not be nil")
	}

	apiServer := &http.Server{
		Addr:        cfg.APIListenAddr,
		Handler:     apiHandler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	var adminServer *http.Server
	if adminHandler != nil {
		adminServer = &http.Server{
			Addr:        cfg.AdminListenAddr,
			Handler:     adminHandler,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		}
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		apiServer:    apiServer,
		adminServer:  adminServer,
		shutdownWait: 15 * time.Second,
	}, nil
}

// Run starts both HTTP servers and blocks until context cancellation.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("api server listening", "addr", a.apiServer.Addr)
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	if a.adminServer != nil {
		go func() {
			a.logger.Info("admin server listening", "addr", a.adminServer.Addr)
			if err := a.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownWait)
		defer cancel()
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("api shutdown", "error", err)
		}
		if a.adminServer != nil {
			if err := a.adminServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("admin shutdown", "error", err)
			}
		}
		if a.store != nil {
			if err := a.store.Close(shutdownCtx); err != nil {
				a.logger.Error("store close", "error", err)
			}
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
