package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/glance/api"
	"github.com/use-agent/glance/artifact"
	"github.com/use-agent/glance/config"
	"github.com/use-agent/glance/engine"
	"github.com/use-agent/glance/runner"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	logger := config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("glance server starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"engine", cfg.Browser.Engine,
		"concurrency", cfg.Run.Concurrency,
	)
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		logger.Warn("auth enabled without API keys, requests are not checked")
	}
	config.WarnVideoFormat(logger, cfg)

	// ── 3. Launch browser ───────────────────────────────────────────
	driver, err := engine.New(cfg.Browser, logger)
	if err != nil {
		logger.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer driver.Close()

	// ── 4. Initialise run service ───────────────────────────────────
	store := artifact.NewStore(cfg.Output.Dir, cfg.Output.SplitByKind, artifact.NewNamer())
	svc := runner.NewService(driver, store,
		cfg.SessionOptions(cfg.UserAgent(logger)),
		cfg.CaptureOptions(),
		runner.Options{
			Concurrency:   cfg.Run.Concurrency,
			RatePerSecond: cfg.Run.RatePerSec,
			TaskTimeout:   cfg.Run.TaskTimeout,
		},
		logger,
	)

	// ── 5. Setup router ─────────────────────────────────────────────
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	router := api.NewRouter(runCtx, svc, cfg, logger, time.Now())

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced shutdown", "error", err)
	} else {
		logger.Info("HTTP server drained gracefully")
	}

	// Runs must unwind before the deferred driver.Close() kills the browser.
	cancelRuns()
	if !drainRuns(svc, 30*time.Second) {
		logger.Warn("runs still active at shutdown", "active", svc.Stats().ActiveTasks)
	}
	logger.Info("glance stopped")
}

// drainRuns waits until no task is active or timeout passes.
func drainRuns(svc *runner.Service, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for svc.Stats().ActiveTasks > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
	return true
}
