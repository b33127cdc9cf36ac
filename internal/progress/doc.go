// Package progress carries task and item milestones from the crawl workers to
// pluggable sinks. Workers emit through a non-blocking Hub that batches events
// on a background goroutine; the durable task counters live in the task store.
package progress
