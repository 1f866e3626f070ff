package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Vidura-Wijekoon/fitassist/internal/retry"
)

const testKey = "sk-test-invalid-key-12345xyz"

func openAIServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAICompatibleProvider("test", srv.URL+"/v1", testKey, "llama3-70b-8192", 100, 0)
}

var retrievalTool = ToolDefinition{
	Name:        "retrieval",
	Description: "Search the fitness corpus",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
		"required": []string{"query"},
	},
}

func TestOpenAICompatibleToolCalls(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role       string `json:"role"`
			ToolCallID string `json:"tool_call_id"`
		} `json:"messages"`
		Tools []struct {
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tools"`
	}

	provider := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "retrieval", "arguments": "{\"query\":\"protein\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	})

	messages := []ChatMessage{
		SystemMessage("You are a fitness assistant."),
		UserMessage("how much protein?"),
		AssistantToolCallMessage("", []ToolCall{{ID: "call_0", Name: "retrieval", Arguments: []byte(`{"query":"x"}`)}}),
		ToolMessage("call_0", "==DOCUMENT 1==\nx"),
	}
	resp, err := provider.ChatWithTools(context.Background(), messages, []ToolDefinition{retrievalTool})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "retrieval" || string(tc.Arguments) != `{"query":"protein"}` {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}

	if got.Model != "llama3-70b-8192" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Name != "retrieval" {
		t.Errorf("tools not sent: %+v", got.Tools)
	}
	if len(got.Messages) != 4 || got.Messages[3].Role != RoleTool || got.Messages[3].ToolCallID != "call_0" {
		t.Errorf("unexpected messages: %+v", got.Messages)
	}
}

func TestOpenAIChatSendsNoTools(t *testing.T) {
	provider := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"tools"`) {
			t.Errorf("plain chat must not send tools: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Eat 1.6g/kg."}}]}`))
	})

	resp, err := provider.Chat(context.Background(), []ChatMessage{UserMessage("protein?")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Eat 1.6g/kg." {
		t.Errorf("content = %q", resp.Content)
	}
}

// TestOpenAIErrorNoAPIKeyLeak verifies errors don't contain API keys
func TestOpenAIErrorNoAPIKeyLeak(t *testing.T) {
	provider := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`))
	})

	_, err := provider.ChatWithTools(context.Background(), []ChatMessage{UserMessage("test")}, []ToolDefinition{retrievalTool})
	if err == nil {
		t.Fatal("expected error")
	}

	errStr := err.Error()
	if strings.Contains(errStr, testKey) {
		t.Errorf("error message leaked API key: %v", errStr)
	}
	if strings.Contains(errStr, "Authorization:") {
		t.Errorf("error exposed Authorization header: %v", errStr)
	}
	if !strings.HasPrefix(errStr, "test chat completion failed") {
		t.Errorf("error should name the provider: %v", errStr)
	}
}

func TestAnthropicToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			System []struct {
				Text string `json:"text"`
			} `json:"system"`
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		if len(req.System) != 1 || req.System[0].Text != "sys" {
			t.Errorf("system prompt not sent: %s", body)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "exercise_lookup" {
			t.Errorf("tools not sent: %s", body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [
				{"type": "text", "text": "Looking that up."},
				{"type": "tool_use", "id": "toolu_1", "name": "exercise_lookup", "input": {"muscle": "biceps"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`))
	}))
	defer srv.Close()

	provider := NewAnthropicProvider(testKey, ModelAnthropicClaudeSonnet4, 100, 0,
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	tool := ToolDefinition{
		Name:        "exercise_lookup",
		Description: "Look up exercises",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"muscle": map[string]interface{}{"type": "string"}},
		},
	}
	resp, err := provider.ChatWithTools(context.Background(),
		[]ChatMessage{SystemMessage("sys"), UserMessage("biceps for beginners")},
		[]ToolDefinition{tool})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Content != "Looking that up." {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_1" || resp.ToolCalls[0].Name != "exercise_lookup" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	var args map[string]string
	if err := json.Unmarshal(resp.ToolCalls[0].Arguments, &args); err != nil || args["muscle"] != "biceps" {
		t.Errorf("unexpected arguments %s (%v)", resp.ToolCalls[0].Arguments, err)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 20 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

// TestAnthropicErrorNoAPIKeyLeak verifies Anthropic errors don't contain API keys
func TestAnthropicErrorNoAPIKeyLeak(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	provider := NewAnthropicProvider(testKey, ModelAnthropicClaudeSonnet4, 100, 0,
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	_, err := provider.Chat(context.Background(), []ChatMessage{UserMessage("test")})
	if err == nil {
		t.Fatal("expected error")
	}

	errStr := err.Error()
	if strings.Contains(errStr, testKey) {
		t.Errorf("Anthropic error message leaked API key: %v", errStr)
	}
	if strings.Contains(errStr, "x-api-key:") || strings.Contains(errStr, "X-Api-Key:") {
		t.Errorf("Anthropic error exposed API key header: %v", errStr)
	}
}

// TestGeminiInitErrorPreserved verifies Gemini returns initialization errors
func TestGeminiInitErrorPreserved(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	provider := NewGeminiProvider("", ModelGeminiFlash2, 100, 0)

	_, err := provider.Chat(context.Background(), []ChatMessage{UserMessage("test")})
	if err == nil {
		t.Fatal("Expected initialization error to be returned, got nil")
	}
	if !strings.Contains(err.Error(), "failed to initialize") {
		t.Errorf("Expected initialization error, got: %v", err)
	}
}

type slowProvider struct{}

func (slowProvider) Name() string  { return "slow" }
func (slowProvider) Model() string { return "slow-1" }
func (slowProvider) Chat(ctx context.Context, _ []ChatMessage) (LLMResponse, error) {
	<-ctx.Done()
	return LLMResponse{}, ctx.Err()
}
func (p slowProvider) ChatWithTools(ctx context.Context, m []ChatMessage, _ []ToolDefinition) (LLMResponse, error) {
	return p.Chat(ctx, m)
}

func TestClientBoundsEachCall(t *testing.T) {
	client := NewClient(slowProvider{}, 20*time.Millisecond)

	start := time.Now()
	_, err := client.ChatWithTools(context.Background(), []ChatMessage{UserMessage("x")}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("call was not bounded by the client timeout")
	}

	// The timeout applies per call, so a second call gets a fresh budget.
	if _, err := client.Chat(context.Background(), []ChatMessage{UserMessage("x")}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// flakyProvider fails its first failures calls with err, then answers.
type flakyProvider struct {
	failures int
	err      error
	calls    int
}

func (p *flakyProvider) Name() string  { return "flaky" }
func (p *flakyProvider) Model() string { return "flaky-1" }
func (p *flakyProvider) Chat(ctx context.Context, m []ChatMessage) (LLMResponse, error) {
	return p.ChatWithTools(ctx, m, nil)
}
func (p *flakyProvider) ChatWithTools(context.Context, []ChatMessage, []ToolDefinition) (LLMResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return LLMResponse{}, p.err
	}
	return LLMResponse{Content: "ok"}, nil
}

var fastRetry = retry.Policy{Retries: 2, Base: time.Millisecond, Max: 2 * time.Millisecond}

func TestClientRetriesUnavailableProvider(t *testing.T) {
	provider := &flakyProvider{failures: 1, err: providerError("flaky", http.StatusTooManyRequests, errors.New("slow down"))}
	client := NewClient(provider, time.Second, WithRetry(fastRetry))

	got, err := client.Chat(context.Background(), []ChatMessage{UserMessage("x")})
	if err != nil {
		t.Fatalf("expected recovery after one outage, got %v", err)
	}
	if got != "ok" || provider.calls != 2 {
		t.Errorf("got %q after %d calls, want \"ok\" after 2", got, provider.calls)
	}
}

func TestClientGivesUpAfterRetryBudget(t *testing.T) {
	provider := &flakyProvider{failures: 10, err: providerError("flaky", http.StatusBadGateway, errors.New("down"))}
	client := NewClient(provider, time.Second, WithRetry(fastRetry))

	_, err := client.ChatWithTools(context.Background(), []ChatMessage{UserMessage("x")}, nil)
	if !IsUnavailable(err) {
		t.Fatalf("expected an unavailable error, got %v", err)
	}
	if provider.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", provider.calls)
	}
}

func TestClientDoesNotRetryRejectedRequest(t *testing.T) {
	provider := &flakyProvider{failures: 1, err: providerError("flaky", http.StatusUnauthorized, errors.New("bad key"))}
	client := NewClient(provider, time.Second, WithRetry(fastRetry))

	if _, err := client.Chat(context.Background(), []ChatMessage{UserMessage("x")}); err == nil {
		t.Fatal("expected the rejection to surface")
	}
	if provider.calls != 1 {
		t.Errorf("expected a single attempt, got %d", provider.calls)
	}
}

func TestClientWithoutRetryTriesOnce(t *testing.T) {
	provider := &flakyProvider{failures: 1, err: providerError("flaky", http.StatusServiceUnavailable, errors.New("down"))}
	client := NewClient(provider, time.Second)

	if _, err := client.Chat(context.Background(), []ChatMessage{UserMessage("x")}); !IsUnavailable(err) {
		t.Fatalf("expected an unavailable error, got %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("expected a single attempt, got %d", provider.calls)
	}
}

func TestClientDescribe(t *testing.T) {
	name, model := NewClient(&flakyProvider{}, 0).Describe()
	if name != "flaky" || model != "flaky-1" {
		t.Errorf("Describe() = %q, %q", name, model)
	}
}

func TestParseProviderType(t *testing.T) {
	tests := map[string]ProviderType{
		"groq":      ProviderGroq,
		" Llama ":   ProviderGroq,
		"OpenAI":    ProviderOpenAI,
		"claude":    ProviderAnthropic,
		"anthropic": ProviderAnthropic,
		"google":    ProviderGemini,
	}
	for in, want := range tests {
		got, err := ParseProviderType(in)
		if err != nil || got != want {
			t.Errorf("ParseProviderType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseProviderType("deepmind"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestBuilderDefaults(t *testing.T) {
	p, err := ProviderGroq.APIKey("k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "groq" || p.Model() != ModelGroqLlama3_70B {
		t.Errorf("got %s/%s", p.Name(), p.Model())
	}

	t.Setenv("OPENAI_API_KEY", "")
	if _, err := ProviderOpenAI.FromEnv(); err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("expected missing env var error, got %v", err)
	}
}

func TestOpenAIServerErrorIsUnavailable(t *testing.T) {
	provider := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})

	_, err := provider.Chat(context.Background(), []ChatMessage{UserMessage("test")})
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestOpenAIUnauthorizedIsNotUnavailable(t *testing.T) {
	provider := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`))
	})

	_, err := provider.Chat(context.Background(), []ChatMessage{UserMessage("test")})
	if err == nil || IsUnavailable(err) {
		t.Fatalf("expected a non-retryable error, got %v", err)
	}
}

func TestAnthropicRateLimitIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	provider := NewAnthropicProvider(testKey, ModelAnthropicClaudeSonnet4, 100, 0,
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	_, err := provider.Chat(context.Background(), []ChatMessage{UserMessage("test")})
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestUnavailableClassification(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name   string
		status int
		err    error
		want   bool
	}{
		{"rate limited", http.StatusTooManyRequests, base, true},
		{"server error", http.StatusBadGateway, base, true},
		{"bad request", http.StatusBadRequest, base, false},
		{"timed out", 0, context.DeadlineExceeded, true},
		{"cancelled", 0, context.Canceled, false},
		{"unknown", 0, base, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := providerError("test", tt.status, tt.err)
			if got := IsUnavailable(err); got != tt.want {
				t.Errorf("IsUnavailable = %v, want %v (%v)", got, tt.want, err)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("cause lost: %v", err)
			}
		})
	}
}

func stepMessages() []ChatMessage {
	calls := []ToolCall{
		{ID: "call_1", Name: "retrieval", Arguments: json.RawMessage(`{"question":"why stretch?"}`)},
		{ID: "call_2", Name: "exercise_lookup", Arguments: json.RawMessage(`{"muscle":"biceps"}`)},
	}
	return []ChatMessage{
		SystemMessage("sys"),
		UserMessage("stretching and biceps"),
		AssistantToolCallMessage("", calls),
		ToolMessage("call_1", "Stretching improves range of motion."),
		ToolMessage("call_2", "EXERCISE 1: Curl"),
	}
}

func TestAnthropicGroupsToolResults(t *testing.T) {
	turns, system := anthropicTurns(stepMessages())

	if system != "sys" {
		t.Errorf("system = %q", system)
	}
	if len(turns) != 3 {
		t.Fatalf("expected user, assistant and one result turn, got %d", len(turns))
	}
	if n := len(turns[1].Content); n != 2 {
		t.Errorf("expected 2 tool_use blocks, got %d", n)
	}
	results := turns[2].Content
	if len(results) != 2 {
		t.Fatalf("expected both results in one turn, got %d blocks", len(results))
	}
	for i, id := range []string{"call_1", "call_2"} {
		if results[i].OfToolResult == nil || results[i].OfToolResult.ToolUseID != id {
			t.Errorf("block %d: expected tool result for %s", i, id)
		}
	}
}

func TestGeminiContentsMatchResultsToCalls(t *testing.T) {
	contents, system := geminiContents(stepMessages())

	if system != "sys" {
		t.Errorf("system = %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	last := contents[2]
	if len(last.Parts) != 2 {
		t.Fatalf("expected both responses in one content, got %d parts", len(last.Parts))
	}
	for i, name := range []string{"retrieval", "exercise_lookup"} {
		fr := last.Parts[i].FunctionResponse
		if fr == nil || fr.Name != name {
			t.Errorf("part %d: expected response named %s, got %+v", i, name, fr)
		}
	}
	if out := last.Parts[1].FunctionResponse.Response["output"]; out != "EXERCISE 1: Curl" {
		t.Errorf("unexpected response payload %v", out)
	}
}

func TestGeminiSchemaKeepsEnumAndRequired(t *testing.T) {
	schema := geminiSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"difficulty": map[string]interface{}{
				"type":        "string",
				"description": "Difficulty level",
				"enum":        []string{"beginner", "intermediate", "expert"},
			},
			"tags": map[string]interface{}{"type": "array"},
		},
		"required": []string{"difficulty"},
	})

	diff := schema.Properties["difficulty"]
	if diff == nil || len(diff.Enum) != 3 || diff.Description != "Difficulty level" {
		t.Errorf("unexpected difficulty schema: %+v", diff)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "difficulty" {
		t.Errorf("unexpected required: %v", schema.Required)
	}
	if tags := schema.Properties["tags"]; tags == nil || tags.Items == nil {
		t.Errorf("array without items should get string items")
	}
}
