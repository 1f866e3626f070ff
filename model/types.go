// Package model provides domain types shared across packages.
package model

import (
	"encoding/json"
	"time"
)

// Document is a fetched and cleaned source article.
type Document struct {
	SourceURI   string
	Title       string
	RawText     string
	CleanedText string
}

// Chunk is a bounded slice of a Document, the unit indexed for similarity search.
type Chunk struct {
	ID        string
	SourceURI string
	Position  int
	Text      string
	Embedding []float32
}

// ToolCall is an intent emitted by the planner.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a ToolCall.
// Err is set exclusively on failure, Content otherwise.
type ToolResult struct {
	ToolName string
	Content  string
	Err      error
}

// Failed reports whether the tool call failed.
func (r ToolResult) Failed() bool {
	return r.Err != nil
}

// Text returns the content, or the error text for failed calls.
func (r ToolResult) Text() string {
	if r.Err != nil {
		return "Tool failed: " + r.Err.Error()
	}
	return r.Content
}

// ToolInvocation contains metrics about a tool invocation.
type ToolInvocation struct {
	Name       string `json:"name"`
	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size"`
	DurationMs uint64 `json:"duration_ms"`
	Success    bool   `json:"success"`
}

// QueryRecord is one completed query in a user's history.
type QueryRecord struct {
	UserID    string    `json:"user_id"`
	Seq       int64     `json:"seq"`
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	IsError   bool      `json:"is_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageStats summarises a user's query history.
type UsageStats struct {
	TotalQueries      int        `json:"total_queries"`
	AvgQueryLength    float64    `json:"avg_query_length"`
	AvgResponseLength float64    `json:"avg_response_length"`
	FirstQuery        *time.Time `json:"first_query"`
	LastQuery         *time.Time `json:"last_query"`
}

// ExerciseEntry is one exercise returned by the catalog.
type ExerciseEntry struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Muscle       string `json:"muscle"`
	Equipment    string `json:"equipment"`
	Difficulty   string `json:"difficulty"`
	Instructions string `json:"instructions"`
}
