// Package cancel stops every queued and active crawl.
package cancel

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	"github.com/JakeFAU/heritage-crawler/internal/metrics"
)

// Result reports what a stop request did.
type Result struct {
	// Cleared is the number of queued payloads dropped. Backends that cannot
	// count report a best-effort figure.
	Cleared int64
	// Stopped is the number of pending or running tasks moved to stopped.
	Stopped int64
}

// Service implements the stop-everything operation. Items already in flight
// may still finish; their task writes are rejected once the task is stopped.
type Service struct {
	queue  crawler.Queue
	tasks  crawler.TaskRepository
	logger *zap.Logger
}

// New builds a Service.
func New(queue crawler.Queue, tasks crawler.TaskRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{queue: queue, tasks: tasks, logger: logger}
}

// StopAll clears the queue, then stops every active task. A queue failure
// aborts before any task is touched.
func (s *Service) StopAll(ctx context.Context) (Result, error) {
	cleared, err := s.queue.Clear(ctx)
	metrics.ObserveQueue("clear", err)
	if err != nil {
		if !errors.Is(err, crawler.ErrQueueUnavailable) {
			err = fmt.Errorf("%w: %w", crawler.ErrQueueUnavailable, err)
		}
		return Result{}, fmt.Errorf("clear queue: %w", err)
	}
	stopped, err := s.tasks.StopActive(ctx, crawler.StoppedMessage)
	if err != nil {
		return Result{Cleared: cleared}, fmt.Errorf("stop active tasks: %w", err)
	}
	metrics.ObserveStop(cleared, stopped)
	s.logger.Info("crawls stopped", zap.Int64("cleared", cleared), zap.Int64("stopped", stopped))
	return Result{Cleared: cleared, Stopped: stopped}, nil
}
