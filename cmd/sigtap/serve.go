package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/sigtap/internal/core"
	"github.com/JonMunkholm/sigtap/internal/store/postgres"
	"github.com/JonMunkholm/sigtap/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the import API",
	Long: `Start the HTTP API for listing tables and running imports in the
background. Progress is streamed as Server-Sent Events.

Endpoints:
  GET  /healthz
  GET  /api/tables?dir=
  POST /api/imports                 {"dir": "...", "policy": "update"}
  GET  /api/imports/status
  GET  /api/imports/{runID}/progress
  GET  /api/imports/{runID}/result[?wait=true]
  POST /api/imports/{runID}/cancel`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	store := postgres.New(cfg.Database.URL,
		postgres.WithSchema(cfg.Database.Schema),
		postgres.WithLogger(logger),
		postgres.WithPoolConfig(postgres.PoolConfig{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		}),
	)
	defer store.Close()

	// Fail fast on a bad connection string
	if err := store.Ping(context.Background()); err != nil {
		return err
	}

	opts, err := cfg.Import.Options()
	if err != nil {
		return err
	}

	service := core.NewService(store, opts, logger)
	service.Timeout = cfg.Import.Timeout

	server := web.NewServer(service, cfg, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A listen failure cancels ctx too, so the shutdown path always runs.
	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Cancel active runs; rows already written stay committed
		if slot := service.RunStatus().Slot; slot.Busy {
			slog.Info("cancelling active import", "run_id", slot.RunID)
			service.CancelAll()
			if err := service.WaitForRuns(shutdownCtx); err != nil {
				slog.Warn("imports did not stop in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}
