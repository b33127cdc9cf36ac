package crawler

import "errors"

// Error kinds surfaced by the orchestration services. Callers match them with
// errors.Is; implementations wrap them with context.
var (
	// ErrQueueUnavailable means the work queue could not be reached.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrConflict means a full crawl is already active, or a unique key clashed.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput means the caller supplied a bad id, url or batch.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound means the task or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExtraction wraps a page extractor failure for one item.
	ErrExtraction = errors.New("extraction failed")
	// ErrPersistence wraps a record store failure for one item.
	ErrPersistence = errors.New("persistence failed")
)
