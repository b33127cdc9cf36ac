// Command heritagecrawler runs the heritage site crawl service.
//
// Subcommands:
//   - serve: HTTP API plus embedded workers (crawler.embedded_workers).
//   - worker: queue workers only, for scaling crawls apart from the API.
//   - migrate: apply the embedded Postgres schema migrations.
//   - tasks: print task snapshots as a table.
//
// Configuration comes from an optional YAML file (--config), a .env file in
// the working directory and HERITAGE_* environment variables, e.g.
// HERITAGE_DB_DSN or HERITAGE_QUEUE_BACKEND=redis.
package main
