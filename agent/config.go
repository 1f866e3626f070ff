// Router configuration.
//
// Information Hiding:
// - Default prompts hidden
// - Default limits hidden

package agent

// Defaults.
const (
	DefaultMaxToolCalls = 5
	DefaultHistoryTurns = 3
)

const defaultSystemPrompt = `You are a helpful assistant that answers questions about fitness and exercise.
Use the retrieval tool for general fitness, health and nutrition questions.
Use the exercise_lookup tool to find exercises by muscle group, type, or difficulty.
Call a tool whenever it can ground your answer. Call no tool when you already have what you need.`

const defaultSynthesisPrompt = `You are a helpful fitness assistant. Write the final answer to the user's question.
Base the answer on the tool results provided. If they contain no useful information, say so plainly
and suggest how the user could rephrase. Keep the answer concise and practical.`

// Config holds router configuration.
type Config struct {
	// Name identifies the router in logs.
	Name string

	// SystemPrompt guides planning.
	SystemPrompt string

	// SynthesisPrompt guides the final answer.
	SynthesisPrompt string

	// MaxToolCalls bounds tool executions per query.
	MaxToolCalls int

	// HistoryTurns is how many past queries of the user are replayed as
	// context. Zero disables history.
	HistoryTurns int
}

// DefaultConfig returns the router configuration used by the assistant.
func DefaultConfig() Config {
	return Config{
		Name:            "fitness-router",
		SystemPrompt:    defaultSystemPrompt,
		SynthesisPrompt: defaultSynthesisPrompt,
		MaxToolCalls:    DefaultMaxToolCalls,
		HistoryTurns:    DefaultHistoryTurns,
	}
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.SynthesisPrompt == "" {
		c.SynthesisPrompt = d.SynthesisPrompt
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = d.MaxToolCalls
	}
	if c.HistoryTurns < 0 {
		c.HistoryTurns = 0
	}
	return c
}
