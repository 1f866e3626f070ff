package model

import "errors"

var (
	// ErrUpstreamUnavailable signals a network or provider outage. Retryable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidCriteria signals parameters rejected by a provider. Not retried.
	ErrInvalidCriteria = errors.New("invalid criteria")
	// ErrUnknownTool signals that the planner requested a capability that does not exist.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrEmbeddingProvider signals an unreachable embedding provider or malformed output.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrPlanningLoopExceeded signals that the tool-call ceiling was reached.
	ErrPlanningLoopExceeded = errors.New("planning loop exceeded")
	// ErrIndexNotFound signals that no persisted index exists.
	ErrIndexNotFound = errors.New("index not found")
	// ErrStorage signals a failure reading or writing persistent state.
	ErrStorage = errors.New("storage error")
	// ErrEmptyQuery signals an empty query text.
	ErrEmptyQuery = errors.New("query is required")
	// ErrInvalidLimit signals a history limit below 1.
	ErrInvalidLimit = errors.New("limit must be at least 1")
)
