// Package agent routes a query through the planner, the tools and the final
// synthesis step.
//
// Contains the state machine, the text-form action the planner may emit, and
// the response returned to callers.
package agent

import (
	"encoding/json"

	"github.com/Vidura-Wijekoon/fitassist/llm"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

// State is a stage of the routing state machine.
type State int

const (
	StateAwaitingQuery State = iota
	StatePlanning
	StateExecutingTool
	StateSynthesizing
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateAwaitingQuery:
		return "awaiting_query"
	case StatePlanning:
		return "planning"
	case StateExecutingTool:
		return "executing_tool"
	case StateSynthesizing:
		return "synthesizing"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText makes states readable in logs and JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ToolCall is an alias for model.ToolCall.
type ToolCall = model.ToolCall

// Action is a tool call written as text by planners that do not use native
// tool calling, e.g. {"tool": "retrieval", "input": {"question": "..."}}.
type Action struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// UnmarshalJSON accepts the spellings models commonly use: name for tool,
// and arguments or parameters for input.
func (a *Action) UnmarshalJSON(data []byte) error {
	type actionAlias Action
	aux := &struct {
		Name       string          `json:"name"`
		Arguments  json.RawMessage `json:"arguments"`
		Parameters json.RawMessage `json:"parameters"`
		*actionAlias
	}{
		actionAlias: (*actionAlias)(a),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if a.Tool == "" {
		a.Tool = aux.Name
	}
	if len(a.Input) == 0 {
		a.Input = aux.Arguments
	}
	if len(a.Input) == 0 {
		a.Input = aux.Parameters
	}

	// Some models send arguments as a JSON-encoded string.
	var s string
	if len(a.Input) > 0 && json.Unmarshal(a.Input, &s) == nil {
		a.Input = json.RawMessage(s)
	}
	return nil
}

// Metadata contains metadata about one routed query.
type Metadata struct {
	ExecutionTimeMs uint64
	Invocations     []model.ToolInvocation
	TokenUsage      llm.TokenUsage
	LLMCalls        int
}

// Response is the outcome of routing one query.
type Response struct {
	Answer       string
	States       []State
	ToolResults  []model.ToolResult
	LoopExceeded bool
	Metadata     Metadata
}

// FinalState returns the last state reached.
func (r Response) FinalState() State {
	if len(r.States) == 0 {
		return StateAwaitingQuery
	}
	return r.States[len(r.States)-1]
}

// IsSuccess reports whether routing reached StateDone.
func (r Response) IsSuccess() bool {
	return r.FinalState() == StateDone
}

// ToolNames lists the tools executed, in order.
func (r Response) ToolNames() []string {
	names := make([]string, len(r.ToolResults))
	for i, tr := range r.ToolResults {
		names[i] = tr.ToolName
	}
	return names
}
