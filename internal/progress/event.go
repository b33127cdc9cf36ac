package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageTaskStart   Stage = "TASK_START"
	StageTaskDone    Stage = "TASK_DONE"
	StageTaskError   Stage = "TASK_ERROR"
	StageTaskStopped Stage = "TASK_STOPPED"
	StageItemDone    Stage = "ITEM_DONE"
	StageItemError   Stage = "ITEM_ERROR"
	StageFetchDone   Stage = "FETCH_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one step of task progress.
type Event struct {
	// TaskID is the crawl task the event belongs to.
	TaskID int64
	// TaskKind is "full" or "single".
	TaskKind string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Item is the display label of the item for ITEM_* events.
	Item string
	// Decision is the upsert outcome for ITEM_DONE events.
	Decision string
	// Processed and Total snapshot the task counters after the event.
	Processed int
	Total     int
	// Site scopes fetch events to a host label.
	Site        string
	URL         string
	Bytes       int64
	StatusClass StatusClass
	// Dur is the fetch latency or the task runtime.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID <= 0 {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskStart, StageTaskDone, StageTaskError, StageTaskStopped:
	case StageItemDone, StageItemError:
		if e.Item == "" {
			return fmt.Errorf("%s requires item", e.Stage)
		}
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
