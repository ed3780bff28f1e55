// Package logging assembles the slog handlers used across curator.
//
// It provides console output with terminal color detection, JSON output for
// machine ingestion, attr helpers so call sites stay terse, and context
// plumbing for job/phase correlation fields.
package logging
