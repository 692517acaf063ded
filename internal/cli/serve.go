package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogulcanaydogan/billsync/internal/scheduler"
	"github.com/ogulcanaydogan/billsync/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled backfill",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
	serveCmd.Flags().String("schedule", "", "Backfill cron spec with seconds (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if spec, _ := cmd.Flags().GetString("schedule"); spec != "" {
		cfg.Backfill.Schedule = spec
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	defaults, err := backfillDefaults(cfg)
	if err != nil {
		return err
	}
	apiServer := server.NewServer(server.Options{
		Jobs:     a.orchestrator,
		Syncer:   a.ingestor,
		Store:    a.store,
		Gatherer: a.metrics,
		Defaults: defaults,
		Logger:   logger,
	})

	readTimeout, err := parseDuration("server.read_timeout", cfg.Server.ReadTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	writeTimeout, err := parseDuration("server.write_timeout", cfg.Server.WriteTimeout, 60*time.Second)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	if cfg.Backfill.Schedule != "" {
		sched, err := scheduler.ParseSchedule(cfg.Backfill.Schedule)
		if err != nil {
			return err
		}
		opts := defaults
		opts.OnlyMissing = true
		go func() {
			if err := scheduler.New(sched, a.orchestrator, opts, logger).Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("backfill scheduler stopped", "error", err)
			}
		}()
		logger.Info("backfill scheduled", "schedule", cfg.Backfill.Schedule)
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "listen", cfg.Server.Listen)
		fmt.Fprintf(os.Stderr, "billsync listening on %s\n", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		stop()
		if a.orchestrator.Cancel() {
			a.orchestrator.Wait()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}
