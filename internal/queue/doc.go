// Package queue persists the priority job queue in SQLite.
//
// Jobs are claimed through a single-statement UPDATE so exactly one worker
// observes each transition to processing. Completed and terminally failed
// jobs move to a history table; jobs interrupted by an unclean shutdown are
// recovered to pending on startup.
package queue
