// Exercise lookup tool: live search against the exercise catalog.
//
// Information Hiding:
// - Criteria normalisation and free-text parsing hidden
// - Retry of transient catalog failures hidden
// - Entry formatting hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/catalog"
	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

// ExerciseLookupToolName is the name the planner uses for the lookup tool.
const ExerciseLookupToolName = "exercise_lookup"

// NoExercisesMessage is returned when the catalog has nothing, or is unreachable.
const NoExercisesMessage = "No exercises found matching your search. Try different terms."

// MaxExercises bounds how many entries are shown.
const MaxExercises = 5

// ExerciseSearcher queries the exercise catalog once.
type ExerciseSearcher interface {
	Search(ctx context.Context, c catalog.Criteria) ([]model.ExerciseEntry, error)
}

// ExerciseLookupTool finds exercises by muscle, type, difficulty or name.
type ExerciseLookupTool struct {
	BaseTool
	catalog  ExerciseSearcher
	executor *Executor
	logger   *zap.Logger
}

// NewExerciseLookupTool creates the lookup tool. A nil executor uses the
// default retry policy.
func NewExerciseLookupTool(searcher ExerciseSearcher, executor *Executor, log *zap.Logger) *ExerciseLookupTool {
	if executor == nil {
		executor = NewDefaultExecutor()
	}
	return &ExerciseLookupTool{
		catalog:  searcher,
		executor: executor,
		logger:   logger.OrNop(log),
	}
}

// ExerciseArgs are the lookup tool's arguments.
type ExerciseArgs struct {
	Muscle     string `json:"muscle"`
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
	Name       string `json:"name"`
	Query      string `json:"query"`
}

// Metadata implements Tool.
func (t *ExerciseLookupTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name: ExerciseLookupToolName,
		Description: "Looks up exercises in a live exercise catalog by muscle group, " +
			"exercise type or difficulty, e.g. \"beginner biceps exercises\". " +
			"Pass structured filters when you know them, or the user's words as query.",
		Parameters: []ToolParameter{
			{Name: "muscle", ParamType: "string", Description: "Target muscle group", Enum: catalog.Muscles},
			{Name: "type", ParamType: "string", Description: "Exercise type", Enum: catalog.Types},
			{Name: "difficulty", ParamType: "string", Description: "Difficulty level", Enum: catalog.Difficulties},
			{Name: "name", ParamType: "string", Description: "Part of the exercise name"},
			{Name: "query", ParamType: "string", Description: "Free-text search, used when no filter is given"},
		},
	}
}

// Execute implements Tool. Catalog outages and empty results both yield
// NoExercisesMessage; rejected criteria yield an explanation. Only a
// cancelled ctx is returned as an error.
func (t *ExerciseLookupTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a ExerciseArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return FailureResultf("invalid arguments: %w", err), nil
		}
	}

	c := a.Criteria()
	if c.Empty() {
		return SuccessResult("Tell me a muscle group, exercise type, difficulty or exercise name to search for."), nil
	}

	text, err := t.Lookup(ctx, c)
	if err != nil {
		return ToolResult{}, err
	}
	return SuccessResult(text), nil
}

// Lookup normalises c, queries the catalog with retries and formats the
// entries.
func (t *ExerciseLookupTool) Lookup(ctx context.Context, c catalog.Criteria) (string, error) {
	c, err := c.Normalized()
	if err != nil {
		return invalidCriteriaMessage(err), nil
	}

	var entries []model.ExerciseEntry
	err = t.executor.Retry(ctx, "catalog search", func(ctx context.Context) error {
		var err error
		entries, err = t.catalog.Search(ctx, c)
		return err
	})

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, model.ErrInvalidCriteria):
		return invalidCriteriaMessage(err), nil
	case errors.Is(err, model.ErrUpstreamUnavailable):
		t.logger.Warn("exercise catalog unavailable, returning no results",
			zap.Any("criteria", c),
			zap.Error(err))
		return NoExercisesMessage, nil
	default:
		t.logger.Error("exercise catalog search failed",
			zap.Any("criteria", c),
			zap.Error(err))
		return NoExercisesMessage, nil
	}

	if len(entries) == 0 {
		return NoExercisesMessage, nil
	}
	return FormatExercises(entries), nil
}

// Criteria merges structured filters with filters found in the free-text
// query. Explicit filters win.
func (a ExerciseArgs) Criteria() catalog.Criteria {
	c := catalog.Criteria{
		Muscle:     a.Muscle,
		Type:       a.Type,
		Difficulty: a.Difficulty,
		Name:       a.Name,
	}
	if strings.TrimSpace(a.Query) == "" {
		return c
	}

	parsed := catalog.ParseQuery(a.Query)
	if c.Empty() {
		return parsed
	}
	if c.Muscle == "" {
		c.Muscle = parsed.Muscle
	}
	if c.Type == "" {
		c.Type = parsed.Type
	}
	if c.Difficulty == "" {
		c.Difficulty = parsed.Difficulty
	}
	return c
}

func invalidCriteriaMessage(err error) string {
	return fmt.Sprintf("I couldn't search the exercise catalog with those filters (%v). "+
		"Try a muscle group such as %s.", err, strings.Join(catalog.Muscles[:6], ", "))
}

// FormatExercises renders up to MaxExercises entries as EXERCISE n blocks.
func FormatExercises(entries []model.ExerciseEntry) string {
	var sb strings.Builder
	sb.WriteString("Found the following exercises:\n")
	for i, ex := range entries {
		if i == MaxExercises {
			break
		}
		fmt.Fprintf(&sb, "\nEXERCISE %d:\nName: %s\nType: %s\nMuscle: %s\nEquipment: %s\nDifficulty: %s\nInstructions: %s\n",
			i+1, ex.Name, ex.Type, ex.Muscle, ex.Equipment, ex.Difficulty, strings.TrimSpace(ex.Instructions))
	}
	return sb.String()
}
