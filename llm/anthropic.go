// Anthropic Provider implementation using official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Messages API encoding: system prompt, tool_use and tool_result blocks
// - Results of one planning step are grouped into a single user turn

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for Claude models.
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicProvider creates a new Anthropic provider. Extra request
// options (for example option.WithBaseURL) are applied after the API key.
func NewAnthropicProvider(apiKey, model string, maxTokens uint32, temperature float32, opts ...option.RequestOption) *AnthropicProvider {
	client := anthropic.NewClient(
		append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...,
	)

	return &AnthropicProvider{
		client:      client,
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: float64(temperature),
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model returns the current model.
func (p *AnthropicProvider) Model() string { return p.model }

// Chat sends a chat completion request.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return p.ChatWithTools(ctx, messages, nil)
}

// ChatWithTools sends a chat completion request with tool definitions.
func (p *AnthropicProvider) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error) {
	turns, system := anthropicTurns(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Messages:    turns,
		Temperature: anthropic.Float(p.temperature),
	}
	if len(tools) > 0 {
		params.Tools = anthropicTools(tools)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return LLMResponse{}, providerError("anthropic", status, err)
	}

	var text strings.Builder
	var calls []ToolCall
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(b.Input)
			calls = append(calls, ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}

	resp := LLMResponse{Content: text.String(), ToolCalls: calls}
	if in, out := message.Usage.InputTokens, message.Usage.OutputTokens; in > 0 || out > 0 {
		resp.Usage = &TokenUsage{
			PromptTokens:     uint32(in),
			CompletionTokens: uint32(out),
			TotalTokens:      uint32(in + out),
		}
	}
	return resp, nil
}

// anthropicTurns converts the conversation. System messages are joined and
// returned separately; consecutive tool results become one user turn, since
// every tool_use of an assistant turn must be answered in the next turn.
func anthropicTurns(messages []ChatMessage) ([]anthropic.MessageParam, string) {
	var turns []anthropic.MessageParam
	var system []string
	pendingResults := false

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
			continue
		case RoleUser:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			turns = append(turns, anthropicAssistantTurn(msg))
		case RoleTool:
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)
			if pendingResults {
				last := &turns[len(turns)-1]
				last.Content = append(last.Content, block)
			} else {
				turns = append(turns, anthropic.NewUserMessage(block))
			}
			pendingResults = true
			continue
		}
		pendingResults = false
	}

	return turns, strings.Join(system, "\n\n")
}

func anthropicAssistantTurn(msg ChatMessage) anthropic.MessageParam {
	if len(msg.ToolCalls) == 0 {
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content))
	}

	turn := anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant}
	if msg.Content != "" {
		turn.Content = append(turn.Content, anthropic.NewTextBlock(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		input := map[string]any{}
		_ = json.Unmarshal(tc.Arguments, &input)
		turn.Content = append(turn.Content, anthropic.ContentBlockParamUnion{
			OfToolUse: &anthropic.ToolUseBlockParam{ID: tc.ID, Name: tc.Name, Input: input},
		})
	}
	return turn
}

// anthropicTools passes each definition's properties through unchanged, so
// enum constraints reach the model.
func anthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		properties, _ := t.Parameters["properties"].(map[string]interface{})
		required, _ := t.Parameters["required"].([]string)

		result[i] = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		}}
	}
	return result
}

var _ Provider = (*AnthropicProvider)(nil)
