package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

var taskColumnNames = []string{
	"id", "task_type", "target_url", "status", "total_items", "processed_items",
	"current_item", "current_item_progress", "started_at", "completed_at", "error_message",
}

func taskRow(task crawler.Task) *pgxmock.Rows {
	return pgxmock.NewRows(taskColumnNames).AddRow(
		task.ID,
		string(task.Kind),
		task.TargetURL,
		string(task.Status),
		task.TotalItems,
		task.ProcessedItems,
		task.CurrentItem,
		task.CurrentItemProgress,
		task.StartedAt,
		task.CompletedAt,
		task.ErrorMessage,
	)
}

func newTaskStore(t *testing.T) (*TaskStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewTaskStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateFullTaskTakesLock(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Unix(1700000000, 0).UTC()
	want := crawler.Task{
		ID:        1,
		Kind:      crawler.TaskKindFull,
		TargetURL: "https://whc.unesco.org/en/list/",
		Status:    crawler.TaskStatusPending,
		StartedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(lockID("crawl_task", "full")).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT id FROM crawl_task").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO crawl_task").
		WithArgs("full", want.TargetURL, 0, now).
		WillReturnRows(taskRow(want))
	mock.ExpectCommit()

	got, err := store.CreateTask(context.Background(), crawler.NewTask{
		Kind:      crawler.TaskKindFull,
		TargetURL: want.TargetURL,
		StartedAt: now,
	})
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFullTaskConflictsWithActive(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(lockID("crawl_task", "full")).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT id FROM crawl_task").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectRollback()

	_, err := store.CreateTask(context.Background(), crawler.NewTask{Kind: crawler.TaskKindFull})
	require.ErrorIs(t, err, crawler.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFullTaskMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(lockID("crawl_task", "full")).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT id FROM crawl_task").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO crawl_task").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "crawl_task_one_active_full"})
	mock.ExpectRollback()

	_, err := store.CreateTask(context.Background(), crawler.NewTask{Kind: crawler.TaskKindFull})
	require.ErrorIs(t, err, crawler.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSingleTaskSkipsLock(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Unix(1700000000, 0).UTC()
	want := crawler.Task{
		ID:         3,
		Kind:       crawler.TaskKindSingle,
		TargetURL:  "https://whc.unesco.org/en/list/1",
		Status:     crawler.TaskStatusPending,
		TotalItems: 1,
		StartedAt:  now,
	}
	mock.ExpectQuery("INSERT INTO crawl_task").
		WithArgs("single", want.TargetURL, 1, now).
		WillReturnRows(taskRow(want))

	got, err := store.CreateTask(context.Background(), crawler.NewTask{
		Kind:       crawler.TaskKindSingle,
		TargetURL:  want.TargetURL,
		TotalItems: 1,
		StartedAt:  now,
	})
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	mock.ExpectQuery(`FROM crawl_task WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetTask(context.Background(), 42)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTasksDeduplicatesIDs(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Unix(1700000000, 0).UTC()
	first := crawler.Task{ID: 1, Kind: crawler.TaskKindSingle, Status: crawler.TaskStatusRunning, StartedAt: now}
	rows := taskRow(first)
	mock.ExpectQuery("WHERE id = ANY").
		WithArgs([]int64{1, 5}).
		WillReturnRows(rows)

	got, err := store.GetTasks(context.Background(), []int64{5, 1, 5})
	require.NoError(t, err)
	require.Equal(t, []crawler.Task{first}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTasksEmptySkipsQuery(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	got, err := store.GetTasks(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskAppliesToActiveTask(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Unix(1700000000, 0).UTC()
	current := crawler.Task{
		ID:             9,
		Kind:           crawler.TaskKindFull,
		Status:         crawler.TaskStatusRunning,
		TotalItems:     10,
		ProcessedItems: 4,
		StartedAt:      now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(9)).WillReturnRows(taskRow(current))
	mock.ExpectExec("UPDATE crawl_task SET").
		WithArgs(int64(9), "running", 10, 5, "Site", 100, (*time.Time)(nil), "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	got, applied, err := store.UpdateTask(context.Background(), 9, crawler.TaskUpdate{
		ProcessedDelta:      1,
		CurrentItem:         crawler.Ptr("Site"),
		CurrentItemProgress: crawler.Ptr(100),
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, 5, got.ProcessedItems)
	require.Equal(t, "Site", got.CurrentItem)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskIgnoresTerminalTask(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Unix(1700000000, 0).UTC()
	current := crawler.Task{
		ID:           9,
		Kind:         crawler.TaskKindFull,
		Status:       crawler.TaskStatusStopped,
		StartedAt:    now,
		ErrorMessage: crawler.StoppedMessage,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(9)).WillReturnRows(taskRow(current))
	mock.ExpectCommit()

	got, applied, err := store.UpdateTask(context.Background(), 9, crawler.TaskUpdate{
		Status: crawler.Ptr(crawler.TaskStatusCompleted),
		At:     now,
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, crawler.TaskStatusStopped, got.Status)
	require.Nil(t, got.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskUnknownID(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(3)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := store.UpdateTask(context.Background(), 3, crawler.TaskUpdate{ProcessedDelta: 1})
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStopActiveReturnsAffectedRows(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	mock.ExpectExec("SET status = 'stopped'").
		WithArgs(crawler.StoppedMessage).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	stopped, err := store.StopActive(context.Background(), crawler.StoppedMessage)
	require.NoError(t, err)
	require.EqualValues(t, 3, stopped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockIDIsStable(t *testing.T) {
	t.Parallel()

	require.Equal(t, lockID("crawl_task", "full"), lockID("crawl_task", "full"))
	require.NotEqual(t, lockID("crawl_task", "full"), lockID("crawl_task", "single"))
}

func TestMigrationURLRewritesScheme(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pgx5://u:p@host/db", migrationURL("postgres://u:p@host/db"))
	require.Equal(t, "pgx5://host/db", migrationURL("postgresql://host/db"))
	require.Equal(t, "pgx5://host/db", migrationURL("pgx5://host/db"))
}
