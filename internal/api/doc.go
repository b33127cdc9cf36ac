// Package api hosts the HTTP server, middleware and REST handlers for crawl
// control. Notable routes:
//   - POST /v1/crawl/full and /v1/crawl/single/{record_id} start tasks.
//   - GET /v1/crawl/tasks/{task_id} and POST /v1/crawl/tasks/batch poll them.
//   - POST /v1/crawl/stop clears the queue and stops active tasks.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
