package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/txntag/autotag/internal/domain"
	"github.com/txntag/autotag/internal/ops"
)

// runServe starts the health/ready HTTP surface (spec §2.12, §6) and
// blocks until SIGINT/SIGTERM, mirroring the teacher's signal-driven
// graceful shutdown.
func runServe(cfg *domain.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	comps, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	srv := ops.NewServer(cfg.Server, comps.repo, comps.cache, comps.bus, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server failed", "error", err)
		}
	}()

	slog.Info("autotag ops surface ready", "host", cfg.Server.Host, "port", cfg.Server.Port)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("autotag shutdown complete")
	return nil
}
