// Router builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

// Builder provides fluent configuration for routers.
// Usage: agent.NewBuilder("name").MaxToolCalls(3).Build()
type Builder struct {
	config Config
}

// NewBuilder creates a builder starting from DefaultConfig.
func NewBuilder(name string) *Builder {
	cfg := DefaultConfig()
	if name != "" {
		cfg.Name = name
	}
	return &Builder{config: cfg}
}

// SystemPrompt sets the planning prompt.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	b.config.SystemPrompt = prompt
	return b
}

// SynthesisPrompt sets the final-answer prompt.
func (b *Builder) SynthesisPrompt(prompt string) *Builder {
	b.config.SynthesisPrompt = prompt
	return b
}

// MaxToolCalls sets the tool-call ceiling per query.
func (b *Builder) MaxToolCalls(n int) *Builder {
	b.config.MaxToolCalls = n
	return b
}

// HistoryTurns sets how many past queries are replayed. Zero disables history.
func (b *Builder) HistoryTurns(n int) *Builder {
	b.config.HistoryTurns = n
	return b
}

// Build returns the configuration with defaults applied.
func (b *Builder) Build() Config {
	return b.config.withDefaults()
}
