// Package daemon assembles the long-running curator process: the job
// scheduler, the HTTP API with its websocket event stream, and the cron
// maintenance tasks. A file lock enforces a single instance per data
// directory.
package daemon
