package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskApplyCapsProcessedAtTotal(t *testing.T) {
	t.Parallel()

	task := Task{Status: TaskStatusRunning, TotalItems: 2, ProcessedItems: 2}
	got, err := task.Apply(TaskUpdate{ProcessedDelta: 1})
	require.NoError(t, err)
	require.Equal(t, 2, got.ProcessedItems)
}

func TestTaskApplyTotalNeverBelowProcessed(t *testing.T) {
	t.Parallel()

	task := Task{Status: TaskStatusRunning, ProcessedItems: 4}
	got, err := task.Apply(TaskUpdate{TotalItems: Ptr(2)})
	require.NoError(t, err)
	require.Equal(t, 4, got.TotalItems)
}

func TestTaskApplyTerminalStampsCompletedAt(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	task := Task{Status: TaskStatusRunning}
	got, err := task.Apply(TaskUpdate{Status: Ptr(TaskStatusFailed), ErrorMessage: Ptr("listing unreachable"), At: at})
	require.NoError(t, err)
	require.Equal(t, TaskStatusFailed, got.Status)
	require.Equal(t, at, *got.CompletedAt)
	require.Equal(t, "listing unreachable", got.ErrorMessage)

	_, err = task.Apply(TaskUpdate{Status: Ptr(TaskStatusStopped)})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestTaskApplyClampsItemProgress(t *testing.T) {
	t.Parallel()

	got, err := Task{}.Apply(TaskUpdate{CurrentItemProgress: Ptr(150), CurrentItem: Ptr("Petra")})
	require.NoError(t, err)
	require.Equal(t, 100, got.CurrentItemProgress)
	require.Equal(t, "Petra", got.CurrentItem)
}

func TestTaskStopClearsCompletedAt(t *testing.T) {
	t.Parallel()

	at := time.Now()
	got := Task{Status: TaskStatusRunning, CompletedAt: &at}.Stop(StoppedMessage)
	require.Equal(t, TaskStatusStopped, got.Status)
	require.Nil(t, got.CompletedAt)
	require.Equal(t, "stopped by operator", got.ErrorMessage)
}
