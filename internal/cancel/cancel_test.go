package cancel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	memqueue "github.com/JakeFAU/heritage-crawler/internal/queue/memory"
	memstore "github.com/JakeFAU/heritage-crawler/internal/storage/memory"
)

type brokenQueue struct{ crawler.Queue }

func (brokenQueue) Clear(context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestStopAllClearsQueueAndStopsTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := memqueue.NewQueue(4)
	tasks := memstore.NewTaskStore()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	full, err := tasks.CreateTask(ctx, crawler.NewTask{Kind: crawler.TaskKindFull, StartedAt: now})
	require.NoError(t, err)
	single, err := tasks.CreateTask(ctx, crawler.NewTask{Kind: crawler.TaskKindSingle, StartedAt: now})
	require.NoError(t, err)
	done, err := tasks.CreateTask(ctx, crawler.NewTask{Kind: crawler.TaskKindSingle, StartedAt: now})
	require.NoError(t, err)
	_, _, err = tasks.UpdateTask(ctx, done.ID, crawler.TaskUpdate{Status: crawler.Ptr(crawler.TaskStatusCompleted), At: now})
	require.NoError(t, err)
	_, _, err = tasks.UpdateTask(ctx, single.ID, crawler.TaskUpdate{Status: crawler.Ptr(crawler.TaskStatusRunning)})
	require.NoError(t, err)
	require.NoError(t, queue.Push(ctx, crawler.Payload{TaskID: full.ID, Kind: crawler.TaskKindFull, URL: "https://whc.unesco.org/en/list/"}))

	res, err := New(queue, tasks, zap.NewNop()).StopAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Cleared: 1, Stopped: 2}, res)
	require.Zero(t, queue.Len())

	for _, id := range []int64{full.ID, single.ID} {
		got, err := tasks.GetTask(ctx, id)
		require.NoError(t, err)
		require.Equal(t, crawler.TaskStatusStopped, got.Status)
		require.Equal(t, crawler.StoppedMessage, got.ErrorMessage)
		require.Nil(t, got.CompletedAt)
	}
	got, err := tasks.GetTask(ctx, done.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusCompleted, got.Status)

	res, err = New(queue, tasks, nil).StopAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
}

func TestStopAllQueueFailureLeavesTasksUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tasks := memstore.NewTaskStore()
	task, err := tasks.CreateTask(ctx, crawler.NewTask{Kind: crawler.TaskKindFull})
	require.NoError(t, err)

	_, err = New(brokenQueue{}, tasks, nil).StopAll(ctx)
	require.ErrorIs(t, err, crawler.ErrQueueUnavailable)

	got, err := tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusPending, got.Status)
}
