package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/heritage-crawler/internal/progress"
)

// PrometheusSink exports task lifecycle and fetch metrics.
type PrometheusSink struct {
	tasksStarted  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	tasksRunning  prometheus.Gauge
	taskRuntime   *prometheus.HistogramVec
	items         *prometheus.CounterVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_tasks_started_total",
			Help: "Crawl tasks picked up by a worker.",
		}, []string{"task_type"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_tasks_finished_total",
			Help: "Crawl tasks that reached a final state, by result.",
		}, []string{"task_type", "result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heritage_tasks_running",
			Help: "Crawl tasks currently being worked.",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heritage_task_runtime_seconds",
			Help:    "Wall time per finished task.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"task_type", "result"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_task_items_total",
			Help: "Items handled by workers, by outcome.",
		}, []string{"outcome"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_fetch_requests_total",
			Help: "Page fetches partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heritage_fetch_duration_seconds",
			Help:    "Fetch latency partitioned by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksStarted,
		s.tasksFinished,
		s.tasksRunning,
		s.taskRuntime,
		s.items,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageTaskStart:
			s.tasksStarted.WithLabelValues(evt.TaskKind).Inc()
			if s.tracker.start(evt.TaskID) {
				s.tasksRunning.Inc()
			}
		case progress.StageTaskDone:
			s.finish(evt, "completed")
		case progress.StageTaskError:
			s.finish(evt, "failed")
		case progress.StageTaskStopped:
			s.finish(evt, "stopped")
		case progress.StageItemDone:
			outcome := evt.Decision
			if outcome == "" {
				outcome = "done"
			}
			s.items.WithLabelValues(outcome).Inc()
		case progress.StageItemError:
			s.items.WithLabelValues("error").Inc()
		case progress.StageFetchDone:
			s.observeFetch(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.tasksFinished.WithLabelValues(evt.TaskKind, result).Inc()
	if evt.Dur > 0 {
		s.taskRuntime.WithLabelValues(evt.TaskKind, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.TaskID) {
		s.tasksRunning.Dec()
	}
}

func (s *PrometheusSink) observeFetch(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	s.fetchRequests.WithLabelValues(site, string(evt.StatusClass)).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type taskTracker struct {
	mu      sync.Mutex
	running map[int64]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[int64]struct{})}
}

func (t *taskTracker) start(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
