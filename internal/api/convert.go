package api

import (
	"spool/internal/cache"
	"spool/internal/queue"
	"spool/internal/services/ytdlp"
)

// StreamPath returns the API path serving a cached artifact's bytes.
func StreamPath(locator string) string {
	if locator == "" {
		return ""
	}
	return "/api/stream/" + locator
}

// FromJob converts a job record to its API representation.
func FromJob(job *queue.Job) JobRecord {
	if job == nil {
		return JobRecord{}
	}

	dto := JobRecord{
		ID:         job.ID,
		ContentKey: job.ContentKey,
		SourceURL:  job.SourceURL,
		Title:      job.Title,
		Status:     string(job.Status),
		Progress: JobProgress{
			Stage:   job.ProgressStage,
			Percent: job.ProgressPercent,
		},
		ErrorMessage:    job.ErrorMessage,
		DurationSeconds: job.DurationSeconds,
		ThumbnailURL:    job.ThumbnailURL,
		Uploader:        job.Uploader,
	}
	if job.Status == queue.StatusCompleted && job.Locator != "" {
		dto.StreamURL = StreamPath(job.Locator)
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(jobs []*queue.Job) []JobRecord {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]JobRecord, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// ProgressEvent wraps a job snapshot as a progress frame.
func ProgressEvent(job *queue.Job) JobEvent {
	record := FromJob(job)
	return JobEvent{Type: "progress", Job: &record}
}

// HeartbeatEvent returns a liveness frame.
func HeartbeatEvent() JobEvent {
	return JobEvent{Type: "heartbeat"}
}

// FromArtifact converts a cached artifact to its admin listing form.
func FromArtifact(artifact *cache.Artifact) CacheEntry {
	if artifact == nil {
		return CacheEntry{}
	}
	entry := CacheEntry{
		ContentKey:      artifact.ContentKey,
		Locator:         artifact.Locator,
		Title:           artifact.Title,
		DurationSeconds: artifact.DurationSeconds,
		Uploader:        artifact.Uploader,
		StreamURL:       StreamPath(artifact.Locator),
	}
	if !artifact.CreatedAt.IsZero() {
		entry.CreatedAt = artifact.CreatedAt.UTC().Format(dateTimeFormat)
	}
	return entry
}

// FromArtifacts converts artifacts into admin listing entries.
func FromArtifacts(artifacts []*cache.Artifact) []CacheEntry {
	if len(artifacts) == 0 {
		return nil
	}
	out := make([]CacheEntry, 0, len(artifacts))
	for _, artifact := range artifacts {
		out = append(out, FromArtifact(artifact))
	}
	return out
}

// FromSearchResults converts engine search hits into API results.
func FromSearchResults(hits []ytdlp.SearchResult) []SearchResult {
	if len(hits) == 0 {
		return nil
	}
	out := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		out = append(out, SearchResult{
			SourceURL:       hit.URL,
			Title:           hit.Title,
			DurationSeconds: hit.DurationSeconds,
			Uploader:        hit.Uploader,
			ThumbnailURL:    hit.ThumbnailURL,
		})
	}
	return out
}
