package services

import "context"

type contextKey string

const (
	jobIDKey contextKey = "job_id"
	stageKey contextKey = "stage"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(jobIDKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithStage annotates context with the current progress stage text.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage text if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(stageKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}
