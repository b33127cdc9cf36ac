package crawler

import (
	"context"
	"io"
	"time"
)

// TaskRepository persists crawl tasks. Every mutation of an existing task is
// conditional on the task still being pending or running.
type TaskRepository interface {
	// CreateTask inserts a pending task. For full tasks it fails with
	// ErrConflict when another full task is pending or running; the check and
	// the insert are atomic.
	CreateTask(ctx context.Context, task NewTask) (Task, error)
	GetTask(ctx context.Context, id int64) (Task, error)
	// GetTasks returns the known tasks among ids; unknown ids are omitted.
	GetTasks(ctx context.Context, ids []int64) ([]Task, error)
	// ActiveFullTask returns the pending or running full task, or ErrNotFound.
	ActiveFullTask(ctx context.Context) (Task, error)
	// UpdateTask applies upd when the task is active. It returns the task as
	// stored afterwards and whether the update was applied.
	UpdateTask(ctx context.Context, id int64, upd TaskUpdate) (Task, bool, error)
	// StopActive moves every pending or running task to stopped.
	StopActive(ctx context.Context, message string) (int64, error)
}

// RecordRepository persists catalog records.
type RecordRepository interface {
	GetRecord(ctx context.Context, id int64) (Record, error)
	FindByName(ctx context.Context, name string) (Record, error)
	// InsertRecord returns ErrConflict when the name already exists.
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	// UpdateRecord overwrites the mutable fields and updated_at of rec.ID.
	UpdateRecord(ctx context.Context, rec Record) (Record, error)
}

// Queue hands payloads from the coordinator to the workers.
type Queue interface {
	Push(ctx context.Context, payload Payload) error
	// Pop blocks until a payload is available or ctx is done.
	Pop(ctx context.Context) (Payload, error)
	// Clear drops queued payloads that have not been popped yet.
	Clear(ctx context.Context) (int64, error)
}

// Catalog expands a listing page into items.
type Catalog interface {
	Discover(ctx context.Context, listingURL string) ([]Item, error)
}

// Extractor turns one item into a candidate record.
type Extractor interface {
	Extract(ctx context.Context, item Item) (Candidate, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes record change notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
