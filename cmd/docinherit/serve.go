package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docinherit/internal/api"
	"github.com/dgallion1/docinherit/internal/pipeline"
	"github.com/dgallion1/docinherit/internal/refstore"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the resolve HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewJSONHandler(cmd.OutOrStdout(), nil))
			cfg := a.cfg
			if err := cfg.Validate(); err != nil {
				log.Error("invalid configuration", "error", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var refs *refstore.Client
			if cfg.RefstoreURL != "" {
				refs = refstore.NewClient(cfg.RefstoreURL, cfg.RefstoreKey)
				defer refs.Close()
			}

			orch := pipeline.NewOrchestrator(cfg, refs, log)
			orch.Start(ctx)

			srv := api.NewServer(orch, refs, log, cfg)
			httpServer := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      srv,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 120 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			// Graceful shutdown.
			drained := make(chan struct{})
			go func() {
				defer close(drained)
				<-ctx.Done()
				log.Info("shutting down...")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}()

			log.Info("starting docinherit", "port", cfg.Port, "workers", cfg.WorkerCount)
			err := httpServer.ListenAndServe()
			stop()
			// Handlers must be finished before the queue closes.
			<-drained
			orch.Stop()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server error", "error", err)
				return err
			}
			return nil
		},
	}
}
