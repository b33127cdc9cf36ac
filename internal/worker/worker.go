// Package worker drains crawl payloads from the queue, extracts each item and
// merges it into the record store.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	"github.com/JakeFAU/heritage-crawler/internal/metrics"
	"github.com/JakeFAU/heritage-crawler/internal/progress"
	"github.com/JakeFAU/heritage-crawler/internal/upsert"
)

const (
	defaultContentType  = "text/html; charset=utf-8"
	defaultErrorBackoff = time.Second
	shutdownWriteWindow = 5 * time.Second

	defaultLifecycleWindow = 10 * time.Second
	lifecycleBackoffBase   = 50 * time.Millisecond
	lifecycleBackoffMax    = time.Second
)

// ShutdownMessage is recorded on tasks interrupted by a worker shutdown.
const ShutdownMessage = "interrupted: worker shutting down"

// Config controls Worker behavior.
type Config struct {
	// ContentType is attached to archived pages.
	ContentType string
	// BlobPrefix roots archived pages: <prefix>/<sha256(name)>/<task_id>.html.
	BlobPrefix string
	// Topic receives record change notifications; empty disables publishing.
	Topic string
	// ErrorBackoff is the pause after a failed queue pop.
	ErrorBackoff time.Duration
	// LifecycleWindow bounds retries of the running, completed and failed
	// writes. It runs past the caller's cancellation.
	LifecycleWindow time.Duration
}

// Deps are the collaborators a Worker needs. BlobStore, Publisher and Events
// are optional.
type Deps struct {
	Queue     crawler.Queue
	Tasks     crawler.TaskRepository
	Records   crawler.RecordRepository
	Catalog   crawler.Catalog
	Extractor crawler.Extractor
	BlobStore crawler.BlobStore
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Policy    upsert.Policy
	Events    progress.Emitter
}

// Worker consumes queue payloads and executes crawl tasks.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.LifecycleWindow <= 0 {
		cfg.LifecycleWindow = defaultLifecycleWindow
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Policy.StaleAfter <= 0 {
		deps.Policy = upsert.New(0)
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming payloads until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		payload, err := w.deps.Queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.ObserveQueue("pop", err)
			w.logger.Error("queue pop failed", zap.Error(err))
			if errors.Is(err, crawler.ErrInvalidInput) {
				continue
			}
			if !sleep(ctx, w.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		metrics.ObserveQueue("pop", nil)
		w.Process(ctx, payload)
	}
}

// Process executes one payload to completion. Payloads for unknown, finished
// or already running tasks are dropped without side effects; a running task
// belongs to the worker that moved it out of pending.
func (w *Worker) Process(ctx context.Context, payload crawler.Payload) {
	logger := w.logger.With(zap.Int64("task_id", payload.TaskID), zap.String("task_type", string(payload.Kind)))
	if err := payload.Validate(); err != nil {
		logger.Warn("dropping invalid payload", zap.Error(err))
		return
	}
	task, err := w.deps.Tasks.GetTask(ctx, payload.TaskID)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		logger.Warn("dropping payload for unknown task")
		return
	case err != nil:
		logger.Error("load task failed", zap.Error(err))
		return
	case task.Status.Terminal():
		logger.Info("dropping payload for finished task", zap.String("status", string(task.Status)))
		return
	case task.Status == crawler.TaskStatusRunning:
		logger.Info("dropping duplicate payload for running task")
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	r := &run{w: w, payload: payload, task: task, logger: logger, start: w.deps.Clock.Now()}
	r.execute(ctx)
}

// run carries the state of one task execution.
type run struct {
	w       *Worker
	payload crawler.Payload
	task    crawler.Task
	logger  *zap.Logger
	start   time.Time
	lastErr error
}

func (r *run) execute(ctx context.Context) {
	active, err := r.lifecycle(ctx, crawler.TaskUpdate{Status: crawler.Ptr(crawler.TaskStatusRunning)})
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		r.logger.Warn("task vanished before it started", zap.Error(err))
		return
	case err != nil:
		r.logger.Error("mark task running failed, crawling anyway", zap.Error(err))
	case !active:
		return
	}
	r.emit(progress.Event{Stage: progress.StageTaskStart, Note: r.payload.URL})
	r.logger.Info("task started", zap.String("url", r.payload.URL))

	items, err := crawler.SourceFor(r.payload).Items(ctx, r.w.deps.Catalog)
	if ctx.Err() != nil {
		r.interrupt()
		return
	}
	if err != nil {
		r.finish(ctx, crawler.TaskStatusFailed, err.Error())
		return
	}
	if !r.report(ctx, crawler.TaskUpdate{TotalItems: crawler.Ptr(len(items))}) {
		return
	}

	for _, item := range items {
		ok, itemErr := r.item(ctx, item)
		if !ok {
			return
		}
		if ctx.Err() != nil {
			r.interrupt()
			return
		}
		if itemErr != nil && r.payload.Kind == crawler.TaskKindSingle {
			r.finish(ctx, crawler.TaskStatusFailed, itemErr.Error())
			return
		}
	}

	if r.task.ProcessedItems >= r.task.TotalItems {
		r.finish(ctx, crawler.TaskStatusCompleted, "")
		return
	}
	last := "unknown error"
	if r.lastErr != nil {
		last = r.lastErr.Error()
	}
	failed := r.task.TotalItems - r.task.ProcessedItems
	r.finish(ctx, crawler.TaskStatusFailed, fmt.Sprintf("%d of %d items failed: %s", failed, r.task.TotalItems, last))
}

// item processes one item. It reports whether the task is still active
// afterwards and the item error, if any.
func (r *run) item(ctx context.Context, item crawler.Item) (bool, error) {
	label := item.Label
	if label == "" {
		label = item.URL
	}
	if !r.report(ctx, crawler.TaskUpdate{
		CurrentItem:         crawler.Ptr(label),
		CurrentItemProgress: crawler.Ptr(0),
	}) {
		return false, nil
	}

	cand, err := r.w.deps.Extractor.Extract(ctx, item)
	if err != nil {
		if !errors.Is(err, crawler.ErrExtraction) {
			err = fmt.Errorf("%w: %w", crawler.ErrExtraction, err)
		}
		return r.itemFailed(ctx, label, "extraction", err), err
	}

	decision, rec, err := r.w.merge(ctx, cand, r.payload)
	if err != nil {
		return r.itemFailed(ctx, label, "persistence", err), err
	}
	metrics.ObserveDecision(string(decision))
	if decision.Writes() {
		r.w.publish(ctx, rec, r.payload, decision, r.logger)
		r.w.archive(ctx, rec.Name, cand.Raw, r.payload.TaskID, r.logger)
	}
	r.logger.Debug("item processed", zap.String("record", rec.Name), zap.String("decision", string(decision)))

	active := r.report(ctx, crawler.TaskUpdate{
		ProcessedDelta:      1,
		CurrentItemProgress: crawler.Ptr(100),
	})
	r.emit(progress.Event{Stage: progress.StageItemDone, Item: label, Decision: string(decision)})
	return active, nil
}

func (r *run) itemFailed(ctx context.Context, label, kind string, err error) bool {
	r.lastErr = err
	metrics.ObserveItemFailure(kind)
	r.logger.Warn("item failed", zap.String("item", label), zap.String("kind", kind), zap.Error(err))
	r.emit(progress.Event{Stage: progress.StageItemError, Item: label, Note: err.Error()})
	return r.report(ctx, crawler.TaskUpdate{ErrorMessage: crawler.Ptr(err.Error())})
}

// report applies upd and reports whether the task is still active. A store
// error is logged and treated as still active so one failed write does not
// abandon the task. Until a write lands the running status, every report
// carries it.
func (r *run) report(ctx context.Context, upd crawler.TaskUpdate) bool {
	if upd.Status == nil && r.task.Status != crawler.TaskStatusRunning {
		upd.Status = crawler.Ptr(crawler.TaskStatusRunning)
	}
	active, err := r.apply(ctx, upd)
	if err != nil {
		r.logger.Error("task update failed", zap.Error(err))
		return true
	}
	return active
}

func (r *run) apply(ctx context.Context, upd crawler.TaskUpdate) (bool, error) {
	task, applied, err := r.w.deps.Tasks.UpdateTask(ctx, r.payload.TaskID, upd)
	if err != nil {
		return false, fmt.Errorf("update task %d: %w", r.payload.TaskID, err)
	}
	if !applied {
		r.logger.Info("task no longer active, stopping", zap.String("status", string(task.Status)))
		r.emit(progress.Event{Stage: progress.StageTaskStopped, Note: task.ErrorMessage})
		return false, nil
	}
	r.task = task
	return true, nil
}

// lifecycle applies a status write, retrying store errors with backoff for up
// to LifecycleWindow. A lost status write would leave the task active with no
// payload left to move it on, and an active full task blocks new full crawls.
func (r *run) lifecycle(ctx context.Context, upd crawler.TaskUpdate) (bool, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.w.cfg.LifecycleWindow)
	defer cancel()
	delay := lifecycleBackoffBase
	for attempt := 1; ; attempt++ {
		active, err := r.apply(writeCtx, upd)
		if err == nil || errors.Is(err, crawler.ErrNotFound) {
			return active, err
		}
		r.logger.Warn("task status write failed, retrying",
			zap.String("status", string(*upd.Status)),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if !sleep(writeCtx, delay) {
			return false, err
		}
		delay = min(delay*2, lifecycleBackoffMax)
	}
}

func (r *run) finish(ctx context.Context, status crawler.TaskStatus, message string) {
	upd := crawler.TaskUpdate{Status: crawler.Ptr(status), At: r.w.deps.Clock.Now()}
	if message != "" {
		upd.ErrorMessage = crawler.Ptr(message)
	}
	active, err := r.lifecycle(ctx, upd)
	if err != nil {
		r.logger.Error("final task update failed", zap.String("status", string(status)), zap.Error(err))
		return
	}
	if !active {
		return
	}
	stage := progress.StageTaskDone
	if status == crawler.TaskStatusFailed {
		stage = progress.StageTaskError
		r.logger.Warn("task failed", zap.String("error", message))
	} else {
		r.logger.Info("task completed", zap.Int("processed", r.task.ProcessedItems))
	}
	r.emit(progress.Event{Stage: stage, Dur: r.w.deps.Clock.Now().Sub(r.start), Note: message})
}

// interrupt fails the task on shutdown so it does not stay running and block
// later full crawls.
func (r *run) interrupt() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownWriteWindow)
	defer cancel()
	r.finish(ctx, crawler.TaskStatusFailed, ShutdownMessage)
}

func (r *run) emit(evt progress.Event) {
	evt.TaskID = r.payload.TaskID
	evt.TaskKind = string(r.payload.Kind)
	evt.TS = r.w.deps.Clock.Now()
	evt.Processed = r.task.ProcessedItems
	evt.Total = r.task.TotalItems
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	r.w.deps.Events.Emit(evt)
}

// merge looks the candidate up by name and inserts or updates it according
// to the upsert policy. A concurrent insert of the same name falls through to
// the update path.
func (w *Worker) merge(ctx context.Context, cand crawler.Candidate, payload crawler.Payload) (upsert.Decision, crawler.Record, error) {
	now := w.deps.Clock.Now()
	attrs := upsert.Attributes(cand, payload.TaskID, payload.Kind)

	existing, err := w.deps.Records.FindByName(ctx, cand.Name)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		rec, err := w.deps.Records.InsertRecord(ctx, upsert.NewRecord(cand, attrs, now))
		if err == nil {
			return upsert.Insert, rec, nil
		}
		if !errors.Is(err, crawler.ErrConflict) {
			return "", crawler.Record{}, fmt.Errorf("%w: insert %q: %w", crawler.ErrPersistence, cand.Name, err)
		}
		existing, err = w.deps.Records.FindByName(ctx, cand.Name)
		if err != nil {
			return "", crawler.Record{}, fmt.Errorf("%w: reload %q: %w", crawler.ErrPersistence, cand.Name, err)
		}
	case err != nil:
		return "", crawler.Record{}, fmt.Errorf("%w: lookup %q: %w", crawler.ErrPersistence, cand.Name, err)
	}

	decision := w.deps.Policy.Decide(&existing, cand, payload.Kind, now)
	if !decision.Writes() {
		return decision, existing, nil
	}
	rec, err := w.deps.Records.UpdateRecord(ctx, upsert.Apply(existing, cand, attrs, now))
	if err != nil {
		return "", crawler.Record{}, fmt.Errorf("%w: update %q: %w", crawler.ErrPersistence, cand.Name, err)
	}
	return decision, rec, nil
}

func (w *Worker) publish(ctx context.Context, rec crawler.Record, payload crawler.Payload, decision upsert.Decision, logger *zap.Logger) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	change := crawler.RecordChange{
		RecordID:  rec.ID,
		Name:      rec.Name,
		TaskID:    payload.TaskID,
		TaskKind:  payload.Kind,
		Decision:  string(decision),
		UpdatedAt: rec.UpdatedAt,
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, change)
	if err != nil {
		logger.Warn("publish record change failed", zap.String("record", rec.Name), zap.Error(err))
		return
	}
	logger.Debug("record change published", zap.String("record", rec.Name), zap.String("message_id", id))
}

func (w *Worker) archive(ctx context.Context, name string, raw []byte, taskID int64, logger *zap.Logger) {
	if w.deps.BlobStore == nil || len(raw) == 0 {
		return
	}
	path, err := w.archivePath(name, taskID)
	if err != nil {
		logger.Warn("archive path failed", zap.String("record", name), zap.Error(err))
		return
	}
	uri, err := w.deps.BlobStore.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(raw))
	if err != nil {
		logger.Warn("archive page failed", zap.String("record", name), zap.Error(err))
		return
	}
	logger.Debug("page archived", zap.String("record", name), zap.String("uri", uri))
}

func (w *Worker) archivePath(name string, taskID int64) (string, error) {
	if w.deps.Hasher == nil {
		return "", errors.New("no hasher configured")
	}
	digest, err := w.deps.Hasher.Hash([]byte(name))
	if err != nil {
		return "", fmt.Errorf("hash record name: %w", err)
	}
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%d.html", digest, taskID), nil
	}
	return fmt.Sprintf("%s/%s/%d.html", prefix, digest, taskID), nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
