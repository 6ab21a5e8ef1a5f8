// cmd/repowiki/serve.go
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/julianshen/repowiki/internal/cache"
	"github.com/julianshen/repowiki/internal/config"
	"github.com/julianshen/repowiki/internal/generate"
	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/progress"
	"github.com/julianshen/repowiki/internal/server"
	"github.com/julianshen/repowiki/internal/store"
)

const heartbeatInterval = 15 * time.Second

func serveCmd() *cobra.Command {
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the wiki generation API server",
		Long: `Start the HTTP server exposing the job API, the per-job progress
websocket, and the wiki cache. Incomplete jobs from a previous run are
resumed on startup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addrFlag != "" {
				cfg.Server.Addr = addrFlag
			}

			logger, closeLog := config.SetupLogger(cfg.Server.LogFile, logLevel())
			defer closeLog()

			st, err := store.New(cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			broker := progress.NewBroker(logger)
			broker.StartHeartbeats(ctx, heartbeatInterval)

			coordinator := cache.NewCoordinator(st, logger)
			runner := generate.NewRunner(cfg, coordinator, logger)
			manager := job.NewManager(cfg.Server.MaxConcurrentJobs, runner, st, broker, logger)

			if err := manager.ResumeIncompleteJobs(ctx); err != nil {
				logger.Warn("resuming incomplete jobs failed", "error", err)
			}

			srv := server.New(cfg.Server.Addr, manager, broker, coordinator, logger)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides config)")

	return cmd
}
