// Package memory provides a bounded in-process work queue for local
// development and single-binary deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan crawler.Payload
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan crawler.Payload, capacity),
	}
}

// Push adds a payload or returns once the context ends.
func (q *Queue) Push(ctx context.Context, payload crawler.Payload) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("push canceled: %w", ctx.Err())
	case q.ch <- payload:
		return nil
	}
}

// Pop takes the next payload, respecting context cancellation.
func (q *Queue) Pop(ctx context.Context) (crawler.Payload, error) {
	select {
	case <-ctx.Done():
		return crawler.Payload{}, fmt.Errorf("pop canceled: %w", ctx.Err())
	case payload, ok := <-q.ch:
		if !ok {
			return crawler.Payload{}, ErrClosed
		}
		return payload, nil
	}
}

// Clear drops every payload still buffered.
func (q *Queue) Clear(_ context.Context) (int64, error) {
	var cleared int64
	for {
		select {
		case _, ok := <-q.ch:
			if !ok {
				return cleared, nil
			}
			cleared++
		default:
			return cleared, nil
		}
	}
}

// Len reports the number of buffered payloads.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Ping always succeeds for the in-process queue.
func (q *Queue) Ping(context.Context) error {
	return nil
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
