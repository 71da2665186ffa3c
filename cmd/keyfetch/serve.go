package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/keyfetch/internal/adapter/driving/http"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, job runner and scheduler",
		Long: `Start the HTTP API and the background scheduler. Jobs left unfinished by a
previous process are marked failed before the server accepts requests.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				globalCfg.ListenAddr = listen
			}
			return serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address; overrides KEYFETCH_LISTEN_ADDR")
	return cmd
}

func serve(parent context.Context) error {
	cfg := globalCfg
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"tick_interval", cfg.TickInterval,
		"max_attempts", cfg.MaxAttempts,
		"job_concurrency", cfg.JobConcurrency,
		"instance_id", cfg.InstanceID,
		"jwt_auth", cfg.JWTSecret != "",
	)

	// Setup signal-based context (SIGINT, SIGTERM).
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	recovered, err := a.jobs.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		logger.Warn("failed jobs interrupted by a previous shutdown", "count", recovered)
	}

	// Registered after a.close, so the loop is gone before the DB closes.
	stopScheduler := startScheduler(ctx, a.schedules.Start)
	defer stopScheduler()

	if cfg.JWTSecret == "" {
		logger.Warn("no JWT secret configured, trusting the " + httphandler.OwnerHeader + " header")
	}
	h := httphandler.NewHandler(a.jobs, a.vault, a.proxies, a.schedules, a.watches, httphandler.NewOwnerResolver(cfg.JWTSecret), logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(h, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// startScheduler runs loop in its own goroutine. The returned stop cancels
// the loop and blocks until it has returned.
func startScheduler(ctx context.Context, loop func(context.Context)) (stop func()) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop(loopCtx)
	}()

	return func() {
		cancel()
		<-done
	}
}
