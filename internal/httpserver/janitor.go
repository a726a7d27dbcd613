package httpserver

import (
	"context"
	"log/slog"
	"time"

	"flatpaste/internal/storage"
)

// StartJanitor launches a background janitor that removes reservations
// abandoned for longer than grace.
func StartJanitor(ctx context.Context, store storage.Store, interval, grace time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cleanOnce(ctx, store, grace, logger)
			}
		}
	}()
}

func cleanOnce(ctx context.Context, store storage.Store, grace time.Duration, logger *slog.Logger) {
	c, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	removed, err := store.Reap(c, time.Now().Add(-grace))
	if err != nil {
		if logger != nil {
			logger.Error("janitor error", "error", err)
		}
		return
	}
	if removed > 0 && logger != nil {
		logger.Info("janitor removed abandoned reservations", "count", removed)
	}
}
