// Package coordinator creates crawl tasks and hands them to the work queue.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	"github.com/JakeFAU/heritage-crawler/internal/metrics"
)

const (
	defaultStartURL       = "https://whc.unesco.org/en/list/"
	defaultEnqueueTimeout = 5 * time.Second
)

// Config controls task creation.
type Config struct {
	// StartURL is the listing page crawled by full tasks.
	StartURL string
	// EnqueueTimeout bounds each queue push.
	EnqueueTimeout time.Duration
}

// Coordinator starts full and single crawls. A payload is pushed only after
// its task row exists.
type Coordinator struct {
	tasks   crawler.TaskRepository
	records crawler.RecordRepository
	queue   crawler.Queue
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New builds a Coordinator.
func New(
	tasks crawler.TaskRepository,
	records crawler.RecordRepository,
	queue crawler.Queue,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.StartURL == "" {
		cfg.StartURL = defaultStartURL
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{tasks: tasks, records: records, queue: queue, clock: clock, cfg: cfg, logger: logger}
}

// StartFull creates a full crawl of the listing page. It fails with
// crawler.ErrConflict while another full crawl is pending or running.
func (c *Coordinator) StartFull(ctx context.Context) (crawler.Task, error) {
	task, err := c.tasks.CreateTask(ctx, crawler.NewTask{
		Kind:      crawler.TaskKindFull,
		StartedAt: c.clock.Now(),
	})
	if err != nil {
		metrics.ObserveTaskRequest(string(crawler.TaskKindFull), result(err))
		return crawler.Task{}, fmt.Errorf("create full task: %w", err)
	}
	return c.dispatch(ctx, task, c.cfg.StartURL)
}

// StartSingle refreshes one stored record from its source url.
func (c *Coordinator) StartSingle(ctx context.Context, recordID int64) (crawler.Task, error) {
	target, err := c.sourceURL(ctx, recordID)
	if err != nil {
		metrics.ObserveTaskRequest(string(crawler.TaskKindSingle), result(err))
		return crawler.Task{}, err
	}
	task, err := c.tasks.CreateTask(ctx, crawler.NewTask{
		Kind:       crawler.TaskKindSingle,
		TargetURL:  target,
		TotalItems: 1,
		StartedAt:  c.clock.Now(),
	})
	if err != nil {
		metrics.ObserveTaskRequest(string(crawler.TaskKindSingle), result(err))
		return crawler.Task{}, fmt.Errorf("create single task: %w", err)
	}
	return c.dispatch(ctx, task, target)
}

func (c *Coordinator) sourceURL(ctx context.Context, recordID int64) (string, error) {
	if recordID <= 0 {
		return "", fmt.Errorf("%w: record id must be > 0", crawler.ErrInvalidInput)
	}
	rec, err := c.records.GetRecord(ctx, recordID)
	if err != nil {
		return "", fmt.Errorf("load record %d: %w", recordID, err)
	}
	raw, ok := rec.SourceURL()
	if !ok {
		return "", fmt.Errorf("%w: record %d has no source url", crawler.ErrInvalidInput, recordID)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: record %d source url: %w", crawler.ErrInvalidInput, recordID, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: record %d source url %q is not http(s)", crawler.ErrInvalidInput, recordID, raw)
	}
	return raw, nil
}

// dispatch enqueues task. Full tasks keep no target url; the listing url
// travels only in the payload.
func (c *Coordinator) dispatch(ctx context.Context, task crawler.Task, target string) (crawler.Task, error) {
	logger := c.logger.With(zap.Int64("task_id", task.ID), zap.String("task_type", string(task.Kind)))
	pushCtx, cancel := context.WithTimeout(ctx, c.cfg.EnqueueTimeout)
	defer cancel()

	err := c.queue.Push(pushCtx, crawler.Payload{TaskID: task.ID, Kind: task.Kind, URL: target})
	metrics.ObserveQueue("push", err)
	if err != nil {
		c.failTask(ctx, task, err, logger)
		metrics.ObserveTaskRequest(string(task.Kind), "queue_unavailable")
		if errors.Is(err, crawler.ErrQueueUnavailable) {
			return crawler.Task{}, fmt.Errorf("enqueue task %d: %w", task.ID, err)
		}
		return crawler.Task{}, fmt.Errorf("%w: enqueue task %d: %w", crawler.ErrQueueUnavailable, task.ID, err)
	}
	metrics.ObserveTaskRequest(string(task.Kind), "queued")
	logger.Info("task queued", zap.String("url", target))
	return task, nil
}

// failTask marks a task that never reached the queue as failed. The update is
// conditional, so a concurrent stop wins.
func (c *Coordinator) failTask(ctx context.Context, task crawler.Task, cause error, logger *zap.Logger) {
	msg := "enqueue failed: " + cause.Error()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.EnqueueTimeout)
	defer cancel()
	_, _, err := c.tasks.UpdateTask(writeCtx, task.ID, crawler.TaskUpdate{
		Status:       crawler.Ptr(crawler.TaskStatusFailed),
		ErrorMessage: crawler.Ptr(msg),
		At:           c.clock.Now(),
	})
	if err != nil {
		logger.Error("mark unqueued task failed", zap.Error(err))
		return
	}
	logger.Warn("task enqueue failed", zap.Error(cause))
}

func result(err error) string {
	switch {
	case errors.Is(err, crawler.ErrConflict):
		return "conflict"
	case errors.Is(err, crawler.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, crawler.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
