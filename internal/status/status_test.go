package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	memstore "github.com/JakeFAU/heritage-crawler/internal/storage/memory"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// countingTasks records whether the batch read reached the store.
type countingTasks struct {
	*memstore.TaskStore
	batchCalls int
}

func (c *countingTasks) GetTasks(ctx context.Context, ids []int64) ([]crawler.Task, error) {
	c.batchCalls++
	return c.TaskStore.GetTasks(ctx, ids)
}

func seed(t *testing.T, store *memstore.TaskStore, kind crawler.TaskKind) crawler.Task {
	t.Helper()
	task, err := store.CreateTask(context.Background(), crawler.NewTask{Kind: kind, TargetURL: "https://whc.unesco.org/en/list/", StartedAt: now})
	require.NoError(t, err)
	return task
}

func TestGetReturnsProgress(t *testing.T) {
	t.Parallel()

	store := memstore.NewTaskStore()
	task := seed(t, store, crawler.TaskKindFull)
	_, _, err := store.UpdateTask(context.Background(), task.ID, crawler.TaskUpdate{
		Status:              crawler.Ptr(crawler.TaskStatusRunning),
		TotalItems:          crawler.Ptr(3),
		ProcessedDelta:      2,
		CurrentItem:         crawler.Ptr("Rome"),
		CurrentItemProgress: crawler.Ptr(100),
	})
	require.NoError(t, err)

	snap, err := New(store).Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusRunning, snap.Status)
	require.Equal(t, 66, snap.ProgressPercentage)
	require.Equal(t, "Rome", snap.CurrentItem)
	require.Equal(t, 100, snap.CurrentItemProgress)
}

func TestGetUnknownTask(t *testing.T) {
	t.Parallel()

	svc := New(memstore.NewTaskStore())
	_, err := svc.Get(context.Background(), 7)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = svc.Get(context.Background(), 0)
	require.ErrorIs(t, err, crawler.ErrInvalidInput)
}

func TestGetBatchOmitsUnknownAndCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	store := memstore.NewTaskStore()
	a := seed(t, store, crawler.TaskKindSingle)
	b := seed(t, store, crawler.TaskKindSingle)

	got, err := New(store).GetBatch(context.Background(), []int64{b.ID, a.ID, b.ID, 99})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, a.ID, got[a.ID].TaskID)
	require.Equal(t, b.ID, got[b.ID].TaskID)
}

func TestGetBatchEmpty(t *testing.T) {
	t.Parallel()

	tasks := &countingTasks{TaskStore: memstore.NewTaskStore()}
	got, err := New(tasks).GetBatch(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Zero(t, tasks.batchCalls)
}

func TestGetBatchRejectsOversizedBatchWithoutStoreCall(t *testing.T) {
	t.Parallel()

	tasks := &countingTasks{TaskStore: memstore.NewTaskStore()}
	ids := make([]int64, MaxBatch+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	_, err := New(tasks).GetBatch(context.Background(), ids)
	require.ErrorIs(t, err, crawler.ErrInvalidInput)
	require.ErrorIs(t, err, ErrBatchTooLarge)
	require.Zero(t, tasks.batchCalls)

	_, err = New(tasks).GetBatch(context.Background(), ids[:MaxBatch])
	require.NoError(t, err)
	require.Equal(t, 1, tasks.batchCalls)
}

func TestActiveFull(t *testing.T) {
	t.Parallel()

	store := memstore.NewTaskStore()
	svc := New(store)
	_, ok, err := svc.ActiveFull(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	seed(t, store, crawler.TaskKindSingle)
	full := seed(t, store, crawler.TaskKindFull)
	snap, ok, err := svc.ActiveFull(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, full.ID, snap.TaskID)
	require.Equal(t, crawler.TaskStatusPending, snap.Status)
}

func TestFromTaskCopiesCompletedAt(t *testing.T) {
	t.Parallel()

	at := now
	task := crawler.Task{ID: 1, CompletedAt: &at}
	snap := FromTask(task)
	*task.CompletedAt = now.Add(time.Hour)
	require.Equal(t, now, *snap.CompletedAt)
}
