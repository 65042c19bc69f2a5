package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for failure classification. Callers wrap errors with one
// of these so transports and the CLI can map failures without string
// matching.
var (
	// ErrInvalidRequest marks malformed client input (bad or missing URL).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidTransition marks an attempted mutation of a terminal job.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrEngineFailure marks extraction engine errors: network faults,
	// access denial, unsupported content.
	ErrEngineFailure = errors.New("engine failure")
	// ErrNotFound marks unknown job IDs and evicted artifact locators.
	ErrNotFound = errors.New("not found")
	// ErrConnectionLost marks a subscriber-observed transport failure.
	ErrConnectionLost = errors.New("connection lost")
)

// Wrap builds an error that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrEngineFailure
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
