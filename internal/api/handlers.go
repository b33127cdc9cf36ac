package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	"github.com/JakeFAU/heritage-crawler/internal/status"
)

const (
	statusQueued = "queued"
	statusIdle   = "idle"
	maxBodyBytes = 64 << 10
)

type startResponse struct {
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
}

type taskResponse struct {
	TaskID              int64              `json:"task_id"`
	Status              crawler.TaskStatus `json:"status"`
	TotalItems          int                `json:"total_items"`
	ProcessedItems      int                `json:"processed_items"`
	CurrentItem         string             `json:"current_item"`
	CurrentItemProgress int                `json:"current_item_progress"`
	ProgressPercentage  int                `json:"progress_percentage"`
	StartedAt           time.Time          `json:"started_at"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
	ErrorMessage        string             `json:"error_message,omitempty"`
}

// batchEntry omits current_item_progress.
type batchEntry struct {
	Status             crawler.TaskStatus `json:"status"`
	TotalItems         int                `json:"total_items"`
	ProcessedItems     int                `json:"processed_items"`
	CurrentItem        string             `json:"current_item"`
	ProgressPercentage int                `json:"progress_percentage"`
}

type batchRequest struct {
	TaskIDs []int64 `json:"task_ids"`
}

type activeResponse struct {
	TaskID *int64 `json:"task_id"`
	Status string `json:"status"`
}

type stopResponse struct {
	Status  string `json:"status"`
	Cleared int64  `json:"cleared"`
	Stopped int64  `json:"stopped"`
}

func (s *Server) startFull(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.Coordinator.StartFull(r.Context())
	if err != nil {
		s.fail(w, r, err, "failed to start full crawl")
		return
	}
	s.writeJSON(w, http.StatusCreated, startResponse{TaskID: task.ID, Status: statusQueued})
}

func (s *Server) startSingle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "record_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.svc.Coordinator.StartSingle(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "failed to start single crawl")
		return
	}
	s.writeJSON(w, http.StatusCreated, startResponse{TaskID: task.ID, Status: statusQueued})
}

func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "task_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.svc.Status.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "failed to load task")
		return
	}
	s.writeJSON(w, http.StatusOK, toTaskResponse(snap))
}

func (s *Server) batchStatus(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	snaps, err := s.svc.Status.GetBatch(r.Context(), req.TaskIDs)
	if err != nil {
		if errors.Is(err, status.ErrBatchTooLarge) {
			s.writeError(w, http.StatusBadRequest, status.BatchLimitMessage)
			return
		}
		s.fail(w, r, err, "failed to load tasks")
		return
	}
	out := make(map[string]batchEntry, len(snaps))
	for id, snap := range snaps {
		out[strconv.FormatInt(id, 10)] = batchEntry{
			Status:             snap.Status,
			TotalItems:         snap.TotalItems,
			ProcessedItems:     snap.ProcessedItems,
			CurrentItem:        snap.CurrentItem,
			ProgressPercentage: snap.ProgressPercentage,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) activeFull(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := s.svc.Status.ActiveFull(r.Context())
	if err != nil {
		s.fail(w, r, err, "failed to load active crawl")
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusOK, activeResponse{Status: statusIdle})
		return
	}
	id := snap.TaskID
	s.writeJSON(w, http.StatusOK, activeResponse{TaskID: &id, Status: string(snap.Status)})
}

func (s *Server) stopAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Cancel.StopAll(r.Context())
	if err != nil {
		s.fail(w, r, err, "failed to stop crawling")
		return
	}
	s.writeJSON(w, http.StatusOK, stopResponse{
		Status:  string(crawler.TaskStatusStopped),
		Cleared: res.Cleared,
		Stopped: res.Stopped,
	})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "record_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.svc.Records.GetRecord(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "failed to load record")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func pathID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", param)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", param)
	}
	return id, nil
}

func toTaskResponse(snap status.Snapshot) taskResponse {
	return taskResponse{
		TaskID:              snap.TaskID,
		Status:              snap.Status,
		TotalItems:          snap.TotalItems,
		ProcessedItems:      snap.ProcessedItems,
		CurrentItem:         snap.CurrentItem,
		CurrentItemProgress: snap.CurrentItemProgress,
		ProgressPercentage:  snap.ProgressPercentage,
		StartedAt:           snap.StartedAt,
		CompletedAt:         snap.CompletedAt,
		ErrorMessage:        snap.ErrorMessage,
	}
}
