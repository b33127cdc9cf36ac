// Package dispatcher runs a pool of crawl workers against the shared queue.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Runner consumes work until ctx is done. worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans queue work out to a pool of runners.
type Dispatcher struct {
	runners []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(logger *zap.Logger, runners ...Runner) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{runners: runners, logger: logger}
}

// Size returns the number of runners.
func (d *Dispatcher) Size() int {
	return len(d.runners)
}

// Run starts all runners and blocks until the context finishes and every
// runner has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher starting", zap.Int("workers", len(d.runners)))
	var wg sync.WaitGroup
	for i, r := range d.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
			d.logger.Debug("worker exited", zap.Int("index", i))
		}()
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}
