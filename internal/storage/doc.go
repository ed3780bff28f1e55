// Package storage opens the shared SQLite database and owns its schema.
//
// Every repository (jobs, asset candidates, cache inventory, trailer
// candidates, entities) shares the single handle returned by Open so the
// daemon keeps one WAL-mode writer.
package storage
