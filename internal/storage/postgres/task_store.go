package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

const taskColumns = `id, task_type, target_url, status, total_items, processed_items,
	current_item, current_item_progress, started_at, completed_at, error_message`

// TaskStore persists crawl tasks in the crawl_task table.
type TaskStore struct {
	db dbtx
}

// NewTaskStore builds a TaskStore over an open pool.
func NewTaskStore(db dbtx) (*TaskStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TaskStore{db: db}, nil
}

// Ping checks the database connection.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateTask inserts a pending task. Full tasks are serialized through an
// advisory lock and the crawl_task_one_active_full partial unique index.
func (s *TaskStore) CreateTask(ctx context.Context, nt crawler.NewTask) (crawler.Task, error) {
	if !nt.Kind.Valid() {
		return crawler.Task{}, fmt.Errorf("%w: unknown task kind %q", crawler.ErrInvalidInput, nt.Kind)
	}
	if nt.Kind == crawler.TaskKindSingle {
		return insertTask(ctx, s.db, nt)
	}

	var created crawler.Task
	err := withTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID("crawl_task", "full")); err != nil {
			return fmt.Errorf("acquire full crawl lock: %w", err)
		}
		var activeID int64
		err := tx.QueryRow(ctx, `
SELECT id FROM crawl_task
WHERE task_type = 'full' AND status IN ('pending', 'running')
LIMIT 1`).Scan(&activeID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: full crawl %d is active", crawler.ErrConflict, activeID)
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("check active full crawl: %w", err)
		}
		created, err = insertTask(ctx, tx, nt)
		return err
	})
	if err != nil {
		return crawler.Task{}, err
	}
	return created, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertTask(ctx context.Context, q queryRower, nt crawler.NewTask) (crawler.Task, error) {
	row := q.QueryRow(ctx, `
INSERT INTO crawl_task (task_type, target_url, status, total_items, processed_items,
	current_item, current_item_progress, started_at, error_message)
VALUES ($1, $2, 'pending', $3, 0, '', 0, $4, '')
RETURNING `+taskColumns,
		string(nt.Kind), nt.TargetURL, nt.TotalItems, nt.StartedAt)
	task, err := scanTask(row)
	if err != nil {
		return crawler.Task{}, mapError(err, "insert %s task", nt.Kind)
	}
	return task, nil
}

// GetTask fetches a task by id.
func (s *TaskStore) GetTask(ctx context.Context, id int64) (crawler.Task, error) {
	row := s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM crawl_task WHERE id = $1`, id)
	task, err := scanTask(row)
	if err != nil {
		return crawler.Task{}, mapError(err, "task %d", id)
	}
	return task, nil
}

// GetTasks returns the known tasks among ids ordered by id.
func (s *TaskStore) GetTasks(ctx context.Context, ids []int64) ([]crawler.Task, error) {
	if len(ids) == 0 {
		return []crawler.Task{}, nil
	}
	unique := slices.Clone(ids)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	rows, err := s.db.Query(ctx, `SELECT `+taskColumns+` FROM crawl_task WHERE id = ANY($1) ORDER BY id`, unique)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	out := make([]crawler.Task, 0, len(unique))
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// ActiveFullTask returns the pending or running full task.
func (s *TaskStore) ActiveFullTask(ctx context.Context) (crawler.Task, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+taskColumns+` FROM crawl_task
WHERE task_type = 'full' AND status IN ('pending', 'running')
ORDER BY id
LIMIT 1`)
	task, err := scanTask(row)
	if err != nil {
		return crawler.Task{}, mapError(err, "active full task")
	}
	return task, nil
}

// UpdateTask locks the row, applies upd when the task is active and writes
// the result back under the same status condition.
func (s *TaskStore) UpdateTask(ctx context.Context, id int64, upd crawler.TaskUpdate) (crawler.Task, bool, error) {
	var (
		result  crawler.Task
		applied bool
	)
	err := withTx(ctx, s.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM crawl_task WHERE id = $1 FOR UPDATE`, id)
		current, err := scanTask(row)
		if err != nil {
			return mapError(err, "task %d", id)
		}
		result = current
		if !current.Status.Active() {
			return nil
		}
		next, err := current.Apply(upd)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
UPDATE crawl_task SET
	status = $2,
	total_items = $3,
	processed_items = $4,
	current_item = $5,
	current_item_progress = $6,
	completed_at = $7,
	error_message = $8
WHERE id = $1 AND status IN ('pending', 'running')`,
			id,
			string(next.Status),
			next.TotalItems,
			next.ProcessedItems,
			next.CurrentItem,
			next.CurrentItemProgress,
			next.CompletedAt,
			next.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("update task %d: %w", id, err)
		}
		if tag.RowsAffected() == 1 {
			result, applied = next, true
		}
		return nil
	})
	if err != nil {
		return crawler.Task{}, false, err
	}
	return result, applied, nil
}

// StopActive moves every pending or running task to stopped.
func (s *TaskStore) StopActive(ctx context.Context, message string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE crawl_task
SET status = 'stopped', completed_at = NULL, error_message = $1
WHERE status IN ('pending', 'running')`, message)
	if err != nil {
		return 0, fmt.Errorf("stop active tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTask(row pgx.Row) (crawler.Task, error) {
	var (
		task        crawler.Task
		kind        string
		status      string
		completedAt *time.Time
	)
	err := row.Scan(
		&task.ID,
		&kind,
		&task.TargetURL,
		&status,
		&task.TotalItems,
		&task.ProcessedItems,
		&task.CurrentItem,
		&task.CurrentItemProgress,
		&task.StartedAt,
		&completedAt,
		&task.ErrorMessage,
	)
	if err != nil {
		return crawler.Task{}, err
	}
	task.Kind = crawler.TaskKind(kind)
	task.Status = crawler.TaskStatus(status)
	task.CompletedAt = completedAt
	return task, nil
}
