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

	"github.com/google/gops/agent"

	"flatpaste/internal/httpserver"
	"flatpaste/internal/storage/filestore"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "flatpaste: %v\n", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel.Level}))

	if cfg.Diagnostics {
		if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
			logger.Warn("could not start diagnostics agent", "error", err)
		} else {
			defer agent.Close()
		}
	}

	store, err := filestore.Open(filestore.Options{
		Dir:         cfg.StorageDir,
		NameLength:  cfg.NameLength,
		MaxAttempts: cfg.MaxAttempts,
		ReadMode:    filestore.ReadMode(cfg.ReadMode),
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed opening paste store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	srv, err := httpserver.New(httpserver.Config{
		Store:      store,
		MaxBytes:   int64(cfg.MaxBytes),
		TrustProxy: cfg.BehindProxy,
		BaseURL:    cfg.BaseURL,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to construct server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpserver.StartJanitor(ctx, store, time.Duration(cfg.ReapEvery), time.Duration(cfg.ReapGrace), logger)

	srvHTTP := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", cfg.Listen,
			"storage_dir", cfg.StorageDir,
			"name_length", cfg.NameLength,
			"max_bytes", cfg.MaxBytes.String(),
			"read_mode", cfg.ReadMode,
		)
		if err := srvHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
