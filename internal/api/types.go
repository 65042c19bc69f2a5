package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobRecord describes a job in a transport-friendly format. StreamURL is set
// once the job completes and points at the audio streaming endpoint.
type JobRecord struct {
	ID              string      `json:"id"`
	ContentKey      string      `json:"contentKey"`
	SourceURL       string      `json:"sourceUrl"`
	Title           string      `json:"title,omitempty"`
	Status          string      `json:"status"`
	Progress        JobProgress `json:"progress"`
	ErrorMessage    string      `json:"errorMessage,omitempty"`
	StreamURL       string      `json:"streamUrl,omitempty"`
	DurationSeconds int         `json:"durationSeconds,omitempty"`
	ThumbnailURL    string      `json:"thumbnailUrl,omitempty"`
	Uploader        string      `json:"uploader,omitempty"`
	CreatedAt       string      `json:"createdAt,omitempty"`
	UpdatedAt       string      `json:"updatedAt,omitempty"`
}

// Terminal reports whether the record reached completed or failed.
func (r JobRecord) Terminal() bool {
	return r.Status == "completed" || r.Status == "failed"
}

// JobProgress captures stage progress information for a job.
type JobProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
}

// JobEvent is one frame on a job's event stream. Type is "progress" or
// "heartbeat"; Job is present only on progress frames.
type JobEvent struct {
	Type string     `json:"type"`
	Job  *JobRecord `json:"job,omitempty"`
}

// CreateJobRequest is the POST /api/jobs payload.
type CreateJobRequest struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []JobRecord `json:"jobs"`
}

// CacheEntry describes one cached artifact for admin listings.
type CacheEntry struct {
	ContentKey      string `json:"contentKey"`
	Locator         string `json:"locator"`
	Title           string `json:"title,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Uploader        string `json:"uploader,omitempty"`
	StreamURL       string `json:"streamUrl"`
	CreatedAt       string `json:"createdAt,omitempty"`
}

// CacheListResponse wraps the cache admin listing.
type CacheListResponse struct {
	Entries []CacheEntry `json:"entries"`
}

// SearchResult describes one catalog hit from metadata-only search.
type SearchResult struct {
	SourceURL       string `json:"sourceUrl"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Uploader        string `json:"uploader,omitempty"`
	ThumbnailURL    string `json:"thumbnailUrl,omitempty"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// HealthStatus aggregates daemon diagnostics.
type HealthStatus struct {
	Status        string `json:"status"`
	CachedCount   int    `json:"cachedCount"`
	ActiveJobs    int    `json:"activeJobs"`
	QueuedJobs    int    `json:"queuedJobs"`
	RunningJobs   int    `json:"runningJobs"`
	EngineVersion string `json:"engineVersion,omitempty"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
