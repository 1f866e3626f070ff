package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/tools"
)

// FitnessQueryInput is the input schema for fitness_query.
type FitnessQueryInput struct {
	Question string `json:"question" jsonschema:"the fitness or nutrition question to answer"`
}

// FitnessQueryOutput is the output schema for fitness_query.
type FitnessQueryOutput struct {
	Answer string `json:"answer"`
}

// ExerciseSearchInput is the input schema for exercise_search.
type ExerciseSearchInput struct {
	Muscle     string `json:"muscle,omitempty" jsonschema:"target muscle group such as biceps"`
	Type       string `json:"type,omitempty" jsonschema:"exercise type such as strength"`
	Difficulty string `json:"difficulty,omitempty" jsonschema:"difficulty level such as beginner"`
	Name       string `json:"name,omitempty" jsonschema:"part of the exercise name"`
	Query      string `json:"query,omitempty" jsonschema:"free-text search used when no filter is given"`
}

// ExerciseSearchOutput is the output schema for exercise_search.
type ExerciseSearchOutput struct {
	Result string `json:"result"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "fitness_query",
		Description: "Answer a general fitness question from a corpus of fitness articles",
	}, s.handleFitnessQuery)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "exercise_search",
		Description: "Search a live exercise catalog by muscle, type, difficulty or name",
	}, s.handleExerciseSearch)
}

func (s *Server) handleFitnessQuery(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FitnessQueryInput,
) (*mcp.CallToolResult, FitnessQueryOutput, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, FitnessQueryOutput{}, fmt.Errorf("question is required")
	}
	return nil, FitnessQueryOutput{Answer: s.retriever.Answer(ctx, question)}, nil
}

func (s *Server) handleExerciseSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ExerciseSearchInput,
) (*mcp.CallToolResult, ExerciseSearchOutput, error) {
	criteria := tools.ExerciseArgs{
		Muscle:     input.Muscle,
		Type:       input.Type,
		Difficulty: input.Difficulty,
		Name:       input.Name,
		Query:      input.Query,
	}.Criteria()
	if criteria.Empty() {
		return nil, ExerciseSearchOutput{}, fmt.Errorf("at least one of muscle, type, difficulty, name or query is required")
	}

	text, err := s.exercises.Lookup(ctx, criteria)
	if err != nil {
		s.logger.Warn("exercise search aborted", zap.Error(err))
		return nil, ExerciseSearchOutput{}, err
	}
	return nil, ExerciseSearchOutput{Result: text}, nil
}
