package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scout-progress/internal/config"
)

// Refresher reloads a cached copy of the curriculum catalog from its source
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// CatalogRefresher periodically rebuilds the Redis catalog cache so edits made
// directly in PostgreSQL reach every instance within one interval
type CatalogRefresher struct {
	refresher Refresher
	config    *config.SyncConfig
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewCatalogRefresher creates a new refresher worker
func NewCatalogRefresher(refresher Refresher, cfg *config.SyncConfig, logger *slog.Logger) *CatalogRefresher {
	return &CatalogRefresher{
		refresher: refresher,
		config:    cfg,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background refresh loop
func (w *CatalogRefresher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("catalog refresher started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background refresh loop and waits for it to exit
func (w *CatalogRefresher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("catalog refresher stopped")
	return nil
}

func (w *CatalogRefresher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single refresh. Failures are logged and retried on the
// next tick.
func (w *CatalogRefresher) RunOnce(ctx context.Context) {
	startTime := time.Now()

	n, err := w.refresher.Refresh(ctx)
	if err != nil {
		w.logger.Error("failed to refresh curriculum catalog", "error", err)
		return
	}

	w.logger.Info("curriculum catalog refreshed",
		"items", n,
		"duration", time.Since(startTime),
	)
}

// IsRunning returns whether the worker is currently running
func (w *CatalogRefresher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
