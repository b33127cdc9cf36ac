// Package crawler holds the domain model shared by the heritage ingestion
// subsystems: crawl tasks and their state machine, catalog records, the queue
// payload contract, item sources, and the narrow repository and collaborator
// interfaces the coordinator, worker, status and cancellation services depend
// on. It must not import storage drivers or transports.
package crawler
