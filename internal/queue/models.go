package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an extraction job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

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

// Terminal reports whether a status permits no further mutation.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result carries the artifact reference and engine metadata written when a
// job completes.
type Result struct {
	Locator         string
	Title           string
	DurationSeconds int
	ThumbnailURL    string
	Uploader        string
}

// Job represents one extraction request tracked through its state machine.
// Once Status is terminal the record never changes again.
type Job struct {
	ID              string
	ContentKey      string
	SourceURL       string
	Title           string
	Status          Status
	ProgressPercent float64
	ProgressStage   string
	ErrorMessage    string
	Locator         string
	DurationSeconds int
	ThumbnailURL    string
	Uploader        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Terminal reports whether the job reached completed or failed.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
}

// Active returns the number of jobs still in flight.
func (h HealthSummary) Active() int {
	return h.Queued + h.Running
}
