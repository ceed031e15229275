// Package cleanup runs the periodic janitor that removes expired
// entries from the file-backed cache tier. Reads already treat expired
// files as misses; the janitor reclaims the disk space.
package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// safetyMargin keeps entries that expired moments ago so a concurrent
// reader never races a removal.
const safetyMargin = 5 * time.Minute

// Sweeper is the store side of the janitor. Satisfied by
// *cache.FileStore.
type Sweeper interface {
	SweepExpired(ctx context.Context, margin time.Duration) (int, error)
}

// Worker periodically sweeps the file cache.
type Worker struct {
	interval time.Duration
	store    Sweeper
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a janitor sweeping at the given interval.
func NewWorker(interval time.Duration, store Sweeper, logger *zap.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		interval: interval,
		store:    store,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the sweep loop.
func (w *Worker) Start() {
	w.logger.Info("Cache cleanup worker starting",
		zap.Duration("interval", w.interval))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.runSweep()
			case <-w.ctx.Done():
				w.logger.Info("Cache cleanup worker shutting down")
				return
			}
		}
	}()
}

// Shutdown stops the loop and waits for an in-flight sweep.
func (w *Worker) Shutdown() {
	w.cancel()
	w.wg.Wait()
	w.logger.Info("Cache cleanup worker stopped")
}

func (w *Worker) runSweep() {
	start := time.Now()

	removed, err := w.store.SweepExpired(w.ctx, safetyMargin)
	if err != nil {
		w.logger.Error("Cache sweep failed",
			zap.Int("removed", removed),
			zap.Error(err))
		return
	}

	w.logger.Info("Cache sweep finished",
		zap.Int("removed", removed),
		zap.Duration("duration", time.Since(start)))
}
