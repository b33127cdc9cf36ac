package crawler

import "fmt"

// Apply returns t with upd applied. It does not check whether t is active;
// stores do that as part of their conditional write.
func (t Task) Apply(upd TaskUpdate) (Task, error) {
	out := t
	if upd.Status != nil {
		switch *upd.Status {
		case TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		default:
			return t, fmt.Errorf("%w: status %q cannot be set by an update", ErrInvalidInput, *upd.Status)
		}
		out.Status = *upd.Status
		if out.Status.Terminal() {
			at := upd.At
			out.CompletedAt = &at
		}
	}
	if upd.TotalItems != nil {
		out.TotalItems = max(*upd.TotalItems, out.ProcessedItems)
	}
	if upd.ProcessedDelta > 0 {
		out.ProcessedItems += upd.ProcessedDelta
		if out.TotalItems > 0 && out.ProcessedItems > out.TotalItems {
			out.ProcessedItems = out.TotalItems
		}
	}
	if upd.CurrentItem != nil {
		out.CurrentItem = TruncateLabel(*upd.CurrentItem, MaxCurrentItemLen)
	}
	if upd.CurrentItemProgress != nil {
		out.CurrentItemProgress = min(max(*upd.CurrentItemProgress, 0), 100)
	}
	if upd.ErrorMessage != nil {
		out.ErrorMessage = *upd.ErrorMessage
	}
	return out, nil
}

// Stop returns t moved to stopped with completed_at cleared.
func (t Task) Stop(message string) Task {
	out := t
	out.Status = TaskStatusStopped
	out.CompletedAt = nil
	out.ErrorMessage = message
	return out
}

// Ptr returns a pointer to v; handy for building TaskUpdate values.
func Ptr[T any](v T) *T {
	return &v
}
