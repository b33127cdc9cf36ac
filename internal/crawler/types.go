package crawler

import (
	"net/http"
	"time"
	"unicode/utf8"
)

// TaskKind distinguishes a full catalog crawl from a single-record refresh.
type TaskKind string

// Supported task kinds. The string values are part of the queue payload.
const (
	TaskKindFull   TaskKind = "full"
	TaskKindSingle TaskKind = "single"
)

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	return k == TaskKindFull || k == TaskKindSingle
}

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusStopped   TaskStatus = "stopped"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusStopped:
		return true
	default:
		return false
	}
}

// Active reports whether s is pending or running.
func (s TaskStatus) Active() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// StoppedMessage is recorded on tasks stopped by the cancellation service.
const StoppedMessage = "stopped by operator"

// MaxCurrentItemLen bounds the current item label stored on a task.
const MaxCurrentItemLen = 255

// Task is a persisted crawl task row.
type Task struct {
	ID                  int64      `json:"task_id"`
	Kind                TaskKind   `json:"task_type"`
	TargetURL           string     `json:"target_url,omitempty"`
	Status              TaskStatus `json:"status"`
	TotalItems          int        `json:"total_items"`
	ProcessedItems      int        `json:"processed_items"`
	CurrentItem         string     `json:"current_item"`
	CurrentItemProgress int        `json:"current_item_progress"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
}

// ProgressPercentage returns floor(processed/total*100), or 0 without a total.
func (t Task) ProgressPercentage() int {
	if t.TotalItems <= 0 {
		return 0
	}
	return t.ProcessedItems * 100 / t.TotalItems
}

// NewTask describes a task to create in pending state.
type NewTask struct {
	Kind       TaskKind
	TargetURL  string
	TotalItems int
	StartedAt  time.Time
}

// TaskUpdate is a conditional mutation applied only to an active task. Nil
// fields are left untouched.
type TaskUpdate struct {
	// Status moves the task forward; only running, completed and failed are
	// accepted here. Stopping goes through TaskRepository.StopActive.
	Status *TaskStatus
	// TotalItems refines the item count. It never drops below processed.
	TotalItems *int
	// ProcessedDelta is added to the processed counter, capped at the total
	// once the total is known.
	ProcessedDelta int
	// CurrentItem replaces the display label (last write wins).
	CurrentItem *string
	// CurrentItemProgress replaces the in-flight item progress (0..100).
	CurrentItemProgress *int
	// ErrorMessage replaces the error text.
	ErrorMessage *string
	// At stamps completed_at when Status is completed or failed.
	At time.Time
}

// Record is an ingested catalog entry keyed by its unique name.
type Record struct {
	ID                   int64          `json:"id"`
	Name                 string         `json:"name"`
	Country              string         `json:"country"`
	Category             string         `json:"category"`
	DescriptionPrimary   string         `json:"description_en"`
	DescriptionSecondary string         `json:"description_zh"`
	Content              string         `json:"content"`
	Attributes           map[string]any `json:"metadata"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// SourceURL returns the attributes "url" value when it is a string.
func (r Record) SourceURL() (string, bool) {
	if r.Attributes == nil {
		return "", false
	}
	raw, ok := r.Attributes["url"]
	if !ok {
		return "", false
	}
	url, ok := raw.(string)
	return url, ok && url != ""
}

// Record categories derived from the catalog.
const (
	CategoryCultural = "Cultural"
	CategoryNatural  = "Natural"
	CategoryMixed    = "Mixed"
)

// Candidate is the extractor output for one item.
type Candidate struct {
	Name                 string
	Country              string
	Category             string
	DescriptionPrimary   string
	DescriptionSecondary string
	Content              string
	SourceURL            string
	// Raw is the fetched page body, archived when a blob store is configured.
	Raw []byte
}

// Payload is the contract between the coordinator and the workers.
type Payload struct {
	TaskID int64    `json:"task_id"`
	Kind   TaskKind `json:"task_type"`
	URL    string   `json:"url"`
}

// RecordChange is published after a record insert or update.
type RecordChange struct {
	RecordID  int64     `json:"record_id"`
	Name      string    `json:"name"`
	TaskID    int64     `json:"task_id"`
	TaskKind  TaskKind  `json:"task_type"`
	Decision  string    `json:"decision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	TaskID  int64
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// TruncateLabel cuts s to at most n runes.
func TruncateLabel(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
