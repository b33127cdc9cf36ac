// Package status serves point-in-time snapshots of crawl tasks.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

// MaxBatch bounds the ids accepted by GetBatch.
const MaxBatch = 50

// BatchLimitMessage is the client-facing text for an oversized batch.
const BatchLimitMessage = "Batch size limit exceeded (max 50)"

// ErrBatchTooLarge is returned by GetBatch for more than MaxBatch ids.
var ErrBatchTooLarge = fmt.Errorf("%w: %s", crawler.ErrInvalidInput, BatchLimitMessage)

// Snapshot is a copy of a task's progress at read time.
type Snapshot struct {
	TaskID              int64
	Kind                crawler.TaskKind
	Status              crawler.TaskStatus
	TotalItems          int
	ProcessedItems      int
	CurrentItem         string
	CurrentItemProgress int
	ProgressPercentage  int
	StartedAt           time.Time
	CompletedAt         *time.Time
	ErrorMessage        string
}

// FromTask builds a Snapshot.
func FromTask(t crawler.Task) Snapshot {
	var completed *time.Time
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		completed = &at
	}
	return Snapshot{
		TaskID:              t.ID,
		Kind:                t.Kind,
		Status:              t.Status,
		TotalItems:          t.TotalItems,
		ProcessedItems:      t.ProcessedItems,
		CurrentItem:         t.CurrentItem,
		CurrentItemProgress: t.CurrentItemProgress,
		ProgressPercentage:  t.ProgressPercentage(),
		StartedAt:           t.StartedAt,
		CompletedAt:         completed,
		ErrorMessage:        t.ErrorMessage,
	}
}

// Service reads task progress.
type Service struct {
	tasks crawler.TaskRepository
}

// New builds a Service.
func New(tasks crawler.TaskRepository) *Service {
	return &Service{tasks: tasks}
}

// Get returns the snapshot of one task.
func (s *Service) Get(ctx context.Context, id int64) (Snapshot, error) {
	if id <= 0 {
		return Snapshot{}, fmt.Errorf("%w: task id must be > 0", crawler.ErrInvalidInput)
	}
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return FromTask(task), nil
}

// GetBatch returns the snapshots of the known tasks among ids, keyed by id.
// Oversized batches are rejected before the store is touched.
func (s *Service) GetBatch(ctx context.Context, ids []int64) (map[int64]Snapshot, error) {
	if len(ids) > MaxBatch {
		return nil, ErrBatchTooLarge
	}
	out := make(map[int64]Snapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	tasks, err := s.tasks.GetTasks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get task batch: %w", err)
	}
	for _, task := range tasks {
		out[task.ID] = FromTask(task)
	}
	return out, nil
}

// ActiveFull returns the pending or running full crawl, if any.
func (s *Service) ActiveFull(ctx context.Context) (Snapshot, bool, error) {
	task, err := s.tasks.ActiveFullTask(ctx)
	if errors.Is(err, crawler.ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("get active full task: %w", err)
	}
	return FromTask(task), true, nil
}
