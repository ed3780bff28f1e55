package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusRetrying,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Kind identifies the typed payload and handler of a job.
type Kind string

const (
	KindEnrichment       Kind = "enrichment"
	KindTrailerAnalysis  Kind = "trailer_analysis"
	KindCacheMaintenance Kind = "cache_maintenance"
)

// AllKinds returns the job kinds the scheduler expects handlers for.
func AllKinds() []Kind {
	return []Kind{KindEnrichment, KindTrailerAnalysis, KindCacheMaintenance}
}

// Priority bounds. Lower values are served first.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10
)

// Job represents one unit of queued work persisted in SQLite.
type Job struct {
	ID          int64
	Kind        Kind
	Priority    int
	Payload     []byte
	Status      Status
	Attempts    int
	MaxAttempts int
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Stats aggregates job counts per lifecycle state.
type Stats struct {
	Total      int
	Pending    int
	Processing int
	Retrying   int
	Failed     int
	Completed  int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Terminal reports whether the status ends a job's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RetriesLeft reports whether a failing job should be re-queued.
func (j *Job) RetriesLeft() bool {
	return j.Attempts < j.MaxAttempts
}
