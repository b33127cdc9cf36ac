package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

// TaskStore keeps crawl tasks in a map. The full-crawl check and the insert
// happen under one lock, so at most one full task can be active.
type TaskStore struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]crawler.Task
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[int64]crawler.Task)}
}

// CreateTask inserts a pending task.
func (s *TaskStore) CreateTask(_ context.Context, nt crawler.NewTask) (crawler.Task, error) {
	if !nt.Kind.Valid() {
		return crawler.Task{}, fmt.Errorf("%w: unknown task kind %q", crawler.ErrInvalidInput, nt.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if nt.Kind == crawler.TaskKindFull {
		if active, ok := s.activeFullLocked(); ok {
			return crawler.Task{}, fmt.Errorf("%w: full crawl %d is %s", crawler.ErrConflict, active.ID, active.Status)
		}
	}
	s.nextID++
	task := crawler.Task{
		ID:         s.nextID,
		Kind:       nt.Kind,
		TargetURL:  nt.TargetURL,
		Status:     crawler.TaskStatusPending,
		TotalItems: nt.TotalItems,
		StartedAt:  nt.StartedAt,
	}
	s.tasks[task.ID] = task
	return task, nil
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, id int64) (crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return crawler.Task{}, fmt.Errorf("task %d: %w", id, crawler.ErrNotFound)
	}
	return copyTask(task), nil
}

// GetTasks returns the known tasks among ids ordered by id.
func (s *TaskStore) GetTasks(_ context.Context, ids []int64) ([]crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]struct{}, len(ids))
	out := make([]crawler.Task, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if task, ok := s.tasks[id]; ok {
			out = append(out, copyTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ActiveFullTask returns the pending or running full task.
func (s *TaskStore) ActiveFullTask(_ context.Context) (crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.activeFullLocked()
	if !ok {
		return crawler.Task{}, fmt.Errorf("active full task: %w", crawler.ErrNotFound)
	}
	return copyTask(task), nil
}

// UpdateTask applies upd when the task is still pending or running.
func (s *TaskStore) UpdateTask(_ context.Context, id int64, upd crawler.TaskUpdate) (crawler.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return crawler.Task{}, false, fmt.Errorf("task %d: %w", id, crawler.ErrNotFound)
	}
	if !task.Status.Active() {
		return copyTask(task), false, nil
	}
	next, err := task.Apply(upd)
	if err != nil {
		return copyTask(task), false, err
	}
	s.tasks[id] = next
	return copyTask(next), true, nil
}

// StopActive moves every pending or running task to stopped.
func (s *TaskStore) StopActive(_ context.Context, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stopped int64
	for id, task := range s.tasks {
		if !task.Status.Active() {
			continue
		}
		s.tasks[id] = task.Stop(message)
		stopped++
	}
	return stopped, nil
}

func (s *TaskStore) activeFullLocked() (crawler.Task, bool) {
	var (
		found crawler.Task
		ok    bool
	)
	for _, task := range s.tasks {
		if task.Kind != crawler.TaskKindFull || !task.Status.Active() {
			continue
		}
		if !ok || task.ID < found.ID {
			found, ok = task, true
		}
	}
	return found, ok
}

func copyTask(t crawler.Task) crawler.Task {
	if t.CompletedAt != nil {
		t.CompletedAt = pointerTime(*t.CompletedAt)
	}
	return t
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
