package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Vidura-Wijekoon/fitassist/catalog"
	"github.com/Vidura-Wijekoon/fitassist/index"
	"github.com/Vidura-Wijekoon/fitassist/llm"
	"github.com/Vidura-Wijekoon/fitassist/model"
	"github.com/Vidura-Wijekoon/fitassist/tools"
)

// scriptedProvider plays the planner and the synthesizer.
type scriptedProvider struct {
	mu           sync.Mutex
	plan         func(n int, messages []llm.ChatMessage) (llm.LLMResponse, error)
	chat         func(messages []llm.ChatMessage) (llm.LLMResponse, error)
	planCalls    int
	planMessages [][]llm.ChatMessage
	chatMessages [][]llm.ChatMessage
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) ChatWithTools(ctx context.Context, messages []llm.ChatMessage, _ []llm.ToolDefinition) (llm.LLMResponse, error) {
	p.mu.Lock()
	n := p.planCalls
	p.planCalls++
	p.planMessages = append(p.planMessages, append([]llm.ChatMessage(nil), messages...))
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.LLMResponse{}, err
	}
	if p.plan == nil {
		return llm.LLMResponse{}, nil
	}
	return p.plan(n, messages)
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.LLMResponse, error) {
	p.mu.Lock()
	p.chatMessages = append(p.chatMessages, messages)
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.LLMResponse{}, err
	}
	if p.chat != nil {
		return p.chat(messages)
	}
	return echoChat(messages)
}

// echoChat answers retrieval prompts with the first document, and
// synthesis prompts with the prompt itself.
func echoChat(messages []llm.ChatMessage) (llm.LLMResponse, error) {
	system := messages[0].Content
	if _, docs, ok := strings.Cut(system, "==DOCUMENT 1==\n"); ok {
		first, _, _ := strings.Cut(docs, "\n")
		return llm.LLMResponse{Content: "According to the articles: " + first}, nil
	}
	return llm.LLMResponse{Content: messages[len(messages)-1].Content}, nil
}

func call(name, args string) llm.LLMResponse {
	return llm.LLMResponse{ToolCalls: []llm.ToolCall{{ID: "call_" + name, Name: name, Arguments: json.RawMessage(args)}}}
}

// keywordEmbedder maps text onto counts of a few fitness keywords.
type keywordEmbedder struct{}

var keywords = []string{"exercise", "heart", "protein", "sleep", "benefit"}

func (keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := make([]float32, len(keywords)+1)
		vec[len(keywords)] = 0.01
		for j, k := range keywords {
			vec[j] = float32(strings.Count(lower, k))
		}
		out[i] = vec
	}
	return out, nil
}

func newRetrieval(t *testing.T, client *llm.Client) *tools.RetrievalTool {
	t.Helper()
	chunks := []model.Chunk{
		{ID: "a", SourceURI: "https://example.com/benefits", Position: 0, Text: "Regular exercise strengthens the heart and is a benefit for mood."},
		{ID: "b", SourceURI: "https://example.com/protein", Position: 1, Text: "Protein supports muscle repair after training."},
		{ID: "c", SourceURI: "https://example.com/sleep", Position: 2, Text: "Sleep is when recovery happens."},
	}
	idx, err := index.NewBuilder(keywordEmbedder{}, 8, nil).Build(context.Background(), chunks)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return tools.NewRetrievalTool(idx, client, tools.RetrievalConfig{K: 1})
}

func catalogServer(t *testing.T, timeout time.Duration, handler http.HandlerFunc) *catalog.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return catalog.New(catalog.Config{
		APIKey:        "k",
		BaseURL:       srv.URL,
		Timeout:       timeout,
		RatePerSecond: 1000,
		HTTPClient:    srv.Client(),
	})
}

func fastExecutor() *tools.Executor {
	return tools.NewExecutor(tools.ToolConfig{MaxRetries: 3, BaseBackoffMs: 1, MaxBackoffMs: 2})
}

func newRouter(t *testing.T, provider *scriptedProvider, cfg Config, toolList ...tools.Tool) *Router {
	t.Helper()
	registry, err := tools.NewRegistry(toolList...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return New(cfg, llm.NewClient(provider, time.Second), registry)
}

// stubTool counts executions.
type stubTool struct {
	tools.BaseTool
	name  string
	mu    sync.Mutex
	calls []string
	run   func(ctx context.Context) (tools.ToolResult, error)
}

func (s *stubTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{Name: s.name, Description: "stub"}
}

func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, string(args))
	s.mu.Unlock()
	if s.run != nil {
		return s.run(ctx)
	}
	return tools.SuccessResult("stub output"), nil
}

func assertStates(t *testing.T, got []State, want ...State) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestRouteCeilingWithAlwaysCallingPlanner(t *testing.T) {
	provider := &scriptedProvider{
		plan: func(int, []llm.ChatMessage) (llm.LLMResponse, error) {
			return call(tools.RetrievalToolName, `{"question":"again"}`), nil
		},
	}
	tool := &stubTool{name: tools.RetrievalToolName}
	router := newRouter(t, provider, DefaultConfig(), tool)

	resp, err := router.Route(context.Background(), "", "loop forever")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tool.calls) != DefaultMaxToolCalls {
		t.Errorf("expected %d executions, got %d", DefaultMaxToolCalls, len(tool.calls))
	}
	if !resp.LoopExceeded {
		t.Error("expected LoopExceeded")
	}
	if resp.FinalState() != StateDone || resp.Answer == "" {
		t.Errorf("expected Done with an answer, got %v %q", resp.FinalState(), resp.Answer)
	}
	if provider.planCalls != DefaultMaxToolCalls+1 {
		t.Errorf("expected %d planning calls, got %d", DefaultMaxToolCalls+1, provider.planCalls)
	}
}

func TestRouteCeilingDropsCallsWithinBatch(t *testing.T) {
	provider := &scriptedProvider{
		plan: func(int, []llm.ChatMessage) (llm.LLMResponse, error) {
			var resp llm.LLMResponse
			for i := 0; i < 7; i++ {
				resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{ID: fmt.Sprint(i), Name: "stub", Arguments: json.RawMessage(`{}`)})
			}
			return resp, nil
		},
	}
	tool := &stubTool{name: "stub"}
	router := newRouter(t, provider, NewBuilder("t").MaxToolCalls(5).Build(), tool)

	resp, err := router.Route(context.Background(), "", "many")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tool.calls) != 5 || !resp.LoopExceeded || provider.planCalls != 1 {
		t.Errorf("calls=%d loopExceeded=%v planCalls=%d", len(tool.calls), resp.LoopExceeded, provider.planCalls)
	}
}

func TestRouteUnknownToolReachesDone(t *testing.T) {
	provider := &scriptedProvider{
		plan: func(n int, _ []llm.ChatMessage) (llm.LLMResponse, error) {
			if n == 0 {
				return call("weather", `{"city":"Oslo"}`), nil
			}
			return llm.LLMResponse{Content: "I can only help with fitness."}, nil
		},
	}
	router := newRouter(t, provider, DefaultConfig(), &stubTool{name: tools.RetrievalToolName})

	resp, err := router.Route(context.Background(), "", "weather in Oslo?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertStates(t, resp.States, StateAwaitingQuery, StatePlanning, StateExecutingTool, StatePlanning, StateSynthesizing, StateDone)
	if len(resp.ToolResults) != 1 || !errors.Is(resp.ToolResults[0].Err, model.ErrUnknownTool) {
		t.Fatalf("expected an unknown-tool result, got %+v", resp.ToolResults)
	}

	// The failure was fed back to the planner as a tool message.
	second := provider.planMessages[1]
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call_weather" || !strings.Contains(last.Content, "unknown tool") {
		t.Errorf("unexpected tool message: %+v", last)
	}
}

func TestRouteRetrievalScenario(t *testing.T) {
	provider := &scriptedProvider{
		plan: func(n int, _ []llm.ChatMessage) (llm.LLMResponse, error) {
			if n == 0 {
				return call(tools.RetrievalToolName, `{"question":"What are the benefits of regular exercise?"}`), nil
			}
			return llm.LLMResponse{}, nil
		},
	}
	client := llm.NewClient(provider, time.Second)
	registry, _ := tools.NewRegistry(newRetrieval(t, client))
	router := New(DefaultConfig(), client, registry)

	resp, err := router.Route(context.Background(), "", "What are the benefits of regular exercise?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.ToolNames(); len(got) != 1 || got[0] != tools.RetrievalToolName {
		t.Fatalf("expected the retrieval tool, got %v", got)
	}
	if !strings.Contains(resp.ToolResults[0].Content, "strengthens the heart") {
		t.Errorf("tool result not derived from the chunk: %q", resp.ToolResults[0].Content)
	}
	if !strings.Contains(resp.Answer, "strengthens the heart") {
		t.Errorf("answer not derived from the chunk: %q", resp.Answer)
	}
	if resp.FinalState() != StateDone {
		t.Errorf("final state %v", resp.FinalState())
	}
}

func TestRouteBicepsScenario(t *testing.T) {
	cat := catalogServer(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("muscle") != "biceps" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[
			{"name":"Hammer Curl","type":"strength","muscle":"biceps","equipment":"dumbbell","difficulty":"beginner","instructions":"Curl."},
			{"name":"Concentration Curl","type":"strength","muscle":"biceps","equipment":"dumbbell","difficulty":"beginner","instructions":"Sit."}
		]`))
	})
	provider := &scriptedProvider{
		plan: func(n int, _ []llm.ChatMessage) (llm.LLMResponse, error) {
			if n == 0 {
				return call(tools.ExerciseLookupToolName, `{"muscle":"biceps","difficulty":"beginner"}`), nil
			}
			return llm.LLMResponse{}, nil
		},
	}
	router := newRouter(t, provider, DefaultConfig(), tools.NewExerciseLookupTool(cat, fastExecutor(), nil))

	resp, err := router.Route(context.Background(), "", "Show me beginner biceps exercises")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := resp.ToolResults[0].Content
	if strings.Count(content, "EXERCISE ") != 2 {
		t.Errorf("expected 2 exercise blocks, got %q", content)
	}
	for _, name := range []string{"Hammer Curl", "Concentration Curl"} {
		if !strings.Contains(resp.Answer, name) {
			t.Errorf("answer missing %s: %q", name, resp.Answer)
		}
	}
}

func TestRouteCatalogTimeoutScenario(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	cat := catalogServer(t, 20*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		<-r.Context().Done()
	})
	provider := &scriptedProvider{
		plan: func(n int, _ []llm.ChatMessage) (llm.LLMResponse, error) {
			if n == 0 {
				return call(tools.ExerciseLookupToolName, `{"muscle":"chest"}`), nil
			}
			return llm.LLMResponse{}, nil
		},
	}
	router := newRouter(t, provider, DefaultConfig(), tools.NewExerciseLookupTool(cat, fastExecutor(), nil))

	resp, err := router.Route(context.Background(), "", "chest exercises")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinalState() != StateDone {
		t.Fatalf("expected Done, got %v", resp.States)
	}
	if resp.ToolResults[0].Content != tools.NoExercisesMessage {
		t.Errorf("expected the no-results message, got %q", resp.ToolResults[0].Content)
	}
	if !strings.Contains(resp.Answer, "No exercises found") {
		t.Errorf("answer should tell the user nothing was found: %q", resp.Answer)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 4 {
		t.Errorf("expected 1 attempt + 3 retries, got %d", attempts)
	}
}

func TestRouteCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	router := newRouter(t, &scriptedProvider{}, DefaultConfig())

	resp, err := router.Route(ctx, "", "anything")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if resp.FinalState() != StateError || resp.Answer != "" {
		t.Errorf("expected Error with no answer, got %v %q", resp.States, resp.Answer)
	}
}

func TestRouteCancelledDuringTool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tool := &stubTool{name: "stub", run: func(ctx context.Context) (tools.ToolResult, error) {
		cancel()
		return tools.ToolResult{}, ctx.Err()
	}}
	provider := &scriptedProvider{
		plan: func(int, []llm.ChatMessage) (llm.LLMResponse, error) { return call("stub", `{}`), nil },
	}
	router := newRouter(t, provider, DefaultConfig(), tool)

	resp, err := router.Route(ctx, "", "anything")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertStates(t, resp.States, StateAwaitingQuery, StatePlanning, StateExecutingTool, StateError)
	if resp.Answer != "" {
		t.Errorf("no partial answer expected, got %q", resp.Answer)
	}
}

func TestRoutePlanningFailure(t *testing.T) {
	provider := &scriptedProvider{
		plan: func(int, []llm.ChatMessage) (llm.LLMResponse, error) {
			return llm.LLMResponse{}, errors.New("provider down")
		},
	}
	router := newRouter(t, provider, DefaultConfig())

	resp, err := router.Route(context.Background(), "", "anything")
	if err == nil || !strings.Contains(err.Error(), "planning") {
		t.Fatalf("expected a planning error, got %v", err)
	}
	assertStates(t, resp.States, StateAwaitingQuery, StatePlanning, StateError)
}

func TestRouteEmptyQuery(t *testing.T) {
	router := newRouter(t, &scriptedProvider{}, DefaultConfig())
	if _, err := router.Route(context.Background(), "", "   "); !errors.Is(err, model.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestRouteDirectAnswerGoesThroughSynthesis(t *testing.T) {
	provider := &scriptedProvider{
		plan: func(int, []llm.ChatMessage) (llm.LLMResponse, error) {
			return llm.LLMResponse{Content: "Hello! Ask me about fitness."}, nil
		},
	}
	router := newRouter(t, provider, DefaultConfig())

	resp, err := router.Route(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertStates(t, resp.States, StateAwaitingQuery, StatePlanning, StateSynthesizing, StateDone)
	if !strings.Contains(resp.Answer, "Draft answer:\nHello! Ask me about fitness.") {
		t.Errorf("draft not passed to synthesis: %q", resp.Answer)
	}
	if resp.Metadata.LLMCalls != 2 {
		t.Errorf("expected 2 LLM calls, got %d", resp.Metadata.LLMCalls)
	}
}

func TestRouteRecoversMalformedArguments(t *testing.T) {
	tool := &stubTool{name: "stub"}
	provider := &scriptedProvider{
		plan: func(n int, _ []llm.ChatMessage) (llm.LLMResponse, error) {
			if n == 0 {
				return call("stub", "Here you go: {\"muscle\": \"chest\"} hope that helps"), nil
			}
			return llm.LLMResponse{}, nil
		},
	}
	router := newRouter(t, provider, DefaultConfig(), tool)

	if _, err := router.Route(context.Background(), "", "chest"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tool.calls) != 1 || tool.calls[0] != `{"muscle": "chest"}` {
		t.Errorf("arguments not recovered: %v", tool.calls)
	}
}

func TestRouteTextFormToolCall(t *testing.T) {
	tool := &stubTool{name: tools.ExerciseLookupToolName}
	provider := &scriptedProvider{
		plan: func(n int, _ []llm.ChatMessage) (llm.LLMResponse, error) {
			if n == 0 {
				return llm.LLMResponse{Content: "```json\n{\"name\": \"exercise_lookup\", \"arguments\": \"{\\\"muscle\\\": \\\"glutes\\\"}\"}\n```"}, nil
			}
			return llm.LLMResponse{}, nil
		},
	}
	router := newRouter(t, provider, DefaultConfig(), tool)

	resp, err := router.Route(context.Background(), "", "glute exercises")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tool.calls) != 1 || tool.calls[0] != `{"muscle": "glutes"}` {
		t.Errorf("text-form call not executed: %v", tool.calls)
	}
	if len(resp.ToolResults) != 1 {
		t.Errorf("expected one tool result, got %d", len(resp.ToolResults))
	}
}

type stubHistory struct {
	records []model.QueryRecord
	err     error
	limit   int
}

func (h *stubHistory) Recent(_ context.Context, _ string, limit int) ([]model.QueryRecord, error) {
	h.limit = limit
	return h.records, h.err
}

func TestRouteReplaysHistory(t *testing.T) {
	history := &stubHistory{records: []model.QueryRecord{
		{Query: "newest", Response: "r3"},
		{Query: "failed", Response: "sorry", IsError: true},
		{Query: "oldest", Response: "r1"},
	}}
	provider := &scriptedProvider{}
	registry, _ := tools.NewRegistry()
	router := New(DefaultConfig(), llm.NewClient(provider, time.Second), registry, WithHistory(history))

	if _, err := router.Route(context.Background(), "alice", "and now?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if history.limit != DefaultHistoryTurns {
		t.Errorf("limit = %d", history.limit)
	}

	var contents []string
	for _, m := range provider.planMessages[0] {
		contents = append(contents, m.Content)
	}
	got := strings.Join(contents[1:], "|")
	if got != "oldest|r1|newest|r3|and now?" {
		t.Errorf("unexpected conversation: %s", got)
	}
}

func TestRouteHistoryFailureFailsQuery(t *testing.T) {
	for name, readErr := range map[string]error{
		"storage": model.ErrStorage,
		"other":   errors.New("disk gone"),
	} {
		t.Run(name, func(t *testing.T) {
			history := &stubHistory{err: readErr}
			provider := &scriptedProvider{}
			registry, _ := tools.NewRegistry()
			router := New(DefaultConfig(), llm.NewClient(provider, time.Second), registry, WithHistory(history))

			resp, err := router.Route(context.Background(), "alice", "hello")
			if !errors.Is(err, model.ErrStorage) {
				t.Fatalf("expected ErrStorage, got %v", err)
			}
			if got := resp.States[len(resp.States)-1]; got != StateError {
				t.Errorf("final state = %v, want %v", got, StateError)
			}
			if len(provider.planMessages) != 0 {
				t.Error("planner must not run without the user's history")
			}
		})
	}
}

func TestActionUnmarshalSpellings(t *testing.T) {
	tests := map[string]string{
		`{"tool":"retrieval","input":{"question":"q"}}`:          `{"question":"q"}`,
		`{"name":"retrieval","arguments":{"question":"q"}}`:      `{"question":"q"}`,
		`{"name":"retrieval","parameters":{"question":"q"}}`:     `{"question":"q"}`,
		`{"name":"retrieval","arguments":"{\"question\":\"q\"}"}`: `{"question":"q"}`,
	}
	for in, want := range tests {
		var a Action
		if err := json.Unmarshal([]byte(in), &a); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if a.Tool != "retrieval" || string(a.Input) != want {
			t.Errorf("%s: got %+v", in, a)
		}
	}
}
