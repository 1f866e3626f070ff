// Tool router: plan, execute tools, synthesize.
//
// Information Hiding:
// - Planning loop and tool-call ceiling hidden
// - Tool dispatch and argument recovery hidden
// - Conversation assembly for planning and synthesis hidden
// - History replay hidden

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	jsonutil "github.com/Vidura-Wijekoon/fitassist/internal/json"
	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/internal/metrics"
	"github.com/Vidura-Wijekoon/fitassist/llm"
	"github.com/Vidura-Wijekoon/fitassist/model"
	"github.com/Vidura-Wijekoon/fitassist/tools"
)

// HistoryReader supplies a user's most recent queries, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]model.QueryRecord, error)
}

// Router drives one query through Planning, ExecutingTool and Synthesizing.
// It is safe for concurrent use; each call keeps its own conversation.
type Router struct {
	config   Config
	client   *llm.Client
	registry *tools.Registry
	history  HistoryReader
	logger   *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithHistory replays recent history of the user as context.
func WithHistory(h HistoryReader) Option {
	return func(r *Router) { r.history = h }
}

// WithLogger sets the router logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = logger.OrNop(l) }
}

// New creates a router. client bounds every provider call with its timeout.
func New(config Config, client *llm.Client, registry *tools.Registry, opts ...Option) *Router {
	r := &Router{
		config:   config.withDefaults(),
		client:   client,
		registry: registry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the router's name.
func (r *Router) Name() string {
	return r.config.Name
}

// run is the per-query state.
type run struct {
	resp  Response
	start time.Time
}

func (rn *run) enter(s State) {
	rn.resp.States = append(rn.resp.States, s)
}

func (rn *run) usage(u *llm.TokenUsage) {
	rn.resp.Metadata.LLMCalls++
	rn.resp.Metadata.TokenUsage.Add(u)
}

func (rn *run) finish() Response {
	rn.resp.Metadata.ExecutionTimeMs = uint64(time.Since(rn.start).Milliseconds())
	return rn.resp
}

// Route answers query for userID. An empty userID skips history replay;
// a failed history read fails the query with model.ErrStorage.
//
// On failure the response ends in StateError, carries no answer, and the
// error is returned. Tool failures are not routing failures: they are fed
// back to the planner as tool results.
func (r *Router) Route(ctx context.Context, userID, query string) (Response, error) {
	rn := &run{start: time.Now()}
	rn.enter(StateAwaitingQuery)

	log := r.logger.With(zap.String("router", r.config.Name), zap.String("user_id", userID))

	fail := func(err error) (Response, error) {
		rn.enter(StateError)
		rn.resp.Answer = ""
		log.Warn("routing failed", zap.Error(err), zap.Stringers("states", rn.resp.States))
		return rn.finish(), err
	}

	if strings.TrimSpace(query) == "" {
		return fail(model.ErrEmptyQuery)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	past, err := r.pastTurns(ctx, userID)
	if err != nil {
		return fail(err)
	}
	conversation := append([]llm.ChatMessage{llm.SystemMessage(r.config.SystemPrompt)}, past...)
	conversation = append(conversation, llm.UserMessage(query))
	definitions := r.registry.Definitions()

	var draft string
	executed := 0

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		rn.enter(StatePlanning)
		plan, err := r.client.ChatWithTools(ctx, conversation, definitions)
		if err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			return fail(fmt.Errorf("planning: %w", err))
		}
		rn.usage(plan.Usage)

		calls := plan.ToolCalls
		if len(calls) == 0 {
			if call, ok := r.textToolCall(plan.Content); ok {
				calls = []ToolCall{call}
			}
		}
		if len(calls) == 0 {
			draft = plan.Content
			break
		}

		remaining := r.config.MaxToolCalls - executed
		if remaining <= 0 || len(calls) > remaining {
			rn.resp.LoopExceeded = true
			log.Warn("tool call ceiling reached, forcing synthesis",
				zap.Error(model.ErrPlanningLoopExceeded),
				zap.Int("max_tool_calls", r.config.MaxToolCalls),
				zap.Int("dropped", len(calls)-max(remaining, 0)))
			if remaining <= 0 {
				break
			}
			calls = calls[:remaining]
		}

		calls = withIDs(calls)
		conversation = append(conversation, llm.AssistantToolCallMessage(plan.Content, calls))

		for _, call := range calls {
			rn.enter(StateExecutingTool)
			result, invocation := r.executeTool(ctx, call, log)
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
			executed++
			rn.resp.ToolResults = append(rn.resp.ToolResults, result)
			rn.resp.Metadata.Invocations = append(rn.resp.Metadata.Invocations, invocation)
			conversation = append(conversation, llm.ToolMessage(call.ID, result.Text()))
		}

		if rn.resp.LoopExceeded {
			break
		}
	}

	rn.enter(StateSynthesizing)
	answer, err := r.synthesize(ctx, rn, past, query, draft)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		return fail(fmt.Errorf("synthesis: %w", err))
	}

	rn.resp.Answer = answer
	rn.enter(StateDone)
	log.Debug("query routed",
		zap.Strings("tools", rn.resp.ToolNames()),
		zap.Int("llm_calls", rn.resp.Metadata.LLMCalls),
		zap.Bool("loop_exceeded", rn.resp.LoopExceeded))
	return rn.finish(), nil
}

// synthesize asks the model for the final answer from the query and every
// tool result in execution order.
func (r *Router) synthesize(ctx context.Context, rn *run, past []llm.ChatMessage, query, draft string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s", query)

	if len(rn.resp.ToolResults) > 0 {
		sb.WriteString("\n\nTool results:")
		for i, tr := range rn.resp.ToolResults {
			fmt.Fprintf(&sb, "\n\n[%d] %s:\n%s", i+1, tr.ToolName, tr.Text())
		}
	}
	if strings.TrimSpace(draft) != "" {
		fmt.Fprintf(&sb, "\n\nDraft answer:\n%s", draft)
	}
	if rn.resp.LoopExceeded {
		sb.WriteString("\n\nNo more tools can be used. Answer with the information above.")
	}

	messages := append([]llm.ChatMessage{llm.SystemMessage(r.config.SynthesisPrompt)}, past...)
	messages = append(messages, llm.UserMessage(sb.String()))

	resp, err := r.client.ChatWithUsage(ctx, messages)
	if err != nil {
		return "", err
	}
	rn.usage(resp.Usage)

	if answer := strings.TrimSpace(resp.Content); answer != "" {
		return answer, nil
	}
	if answer := strings.TrimSpace(draft); answer != "" {
		return answer, nil
	}
	for i := len(rn.resp.ToolResults) - 1; i >= 0; i-- {
		if tr := rn.resp.ToolResults[i]; !tr.Failed() && strings.TrimSpace(tr.Content) != "" {
			return strings.TrimSpace(tr.Content), nil
		}
	}
	return "", errors.New("model returned an empty answer")
}

// executeTool dispatches call to exactly the named tool.
func (r *Router) executeTool(ctx context.Context, call ToolCall, log *zap.Logger) (model.ToolResult, model.ToolInvocation) {
	start := time.Now()
	invocation := model.ToolInvocation{Name: call.Name, InputSize: len(call.Arguments)}

	done := func(result model.ToolResult, status string) (model.ToolResult, model.ToolInvocation) {
		metrics.ToolCallsTotal.WithLabelValues(call.Name, status).Inc()
		invocation.OutputSize = len(result.Content)
		invocation.DurationMs = uint64(time.Since(start).Milliseconds())
		invocation.Success = !result.Failed()
		return result, invocation
	}

	tool, ok := r.registry.Get(call.Name)
	if !ok {
		log.Warn("planner requested unknown tool",
			zap.String("tool", call.Name),
			zap.Strings("available", r.registry.Names()))
		err := fmt.Errorf("%w: %q (available: %s)", model.ErrUnknownTool, call.Name, strings.Join(r.registry.Names(), ", "))
		return done(model.ToolResult{ToolName: call.Name, Err: err}, "unknown")
	}

	args, err := recoverArgs(call.Arguments)
	if err != nil {
		log.Warn("unusable tool arguments", zap.String("tool", call.Name), zap.Error(err))
		return done(model.ToolResult{ToolName: call.Name, Err: err}, "bad_args")
	}

	res, err := tools.ExecuteOnce(ctx, tool, args)
	if err != nil {
		return done(model.ToolResult{ToolName: call.Name, Err: err}, "error")
	}
	if !res.Success() {
		log.Info("tool failed", zap.String("tool", call.Name), zap.Error(res.Error))
		return done(res.Model(call.Name), "failure")
	}
	return done(res.Model(call.Name), "ok")
}

// recoverArgs returns valid JSON arguments, digging an object out of
// malformed model output when needed.
func recoverArgs(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage("{}"), nil
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	extracted, err := jsonutil.ExtractJSON(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return json.RawMessage(extracted), nil
}

// textToolCall recognises a tool call the planner wrote as plain JSON
// instead of using native tool calling.
func (r *Router) textToolCall(content string) (ToolCall, bool) {
	if !strings.Contains(content, "{") {
		return ToolCall{}, false
	}
	action, err := jsonutil.ExtractJSONFromResponse[Action](content)
	if err != nil || action.Tool == "" || !r.registry.Has(action.Tool) {
		return ToolCall{}, false
	}
	return ToolCall{Name: action.Tool, Arguments: action.Input}, true
}

// withIDs assigns IDs to calls that lack one so tool results can be matched.
func withIDs(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		out[i] = c
	}
	return out
}

// pastTurns replays the user's recent successful queries, oldest first.
// A failed read is a storage failure.
func (r *Router) pastTurns(ctx context.Context, userID string) ([]llm.ChatMessage, error) {
	if r.history == nil || userID == "" || r.config.HistoryTurns == 0 {
		return nil, nil
	}
	records, err := r.history.Recent(ctx, userID, r.config.HistoryTurns)
	if err != nil {
		if errors.Is(err, model.ErrStorage) {
			return nil, fmt.Errorf("replay history: %w", err)
		}
		return nil, fmt.Errorf("replay history: %w: %w", model.ErrStorage, err)
	}

	var messages []llm.ChatMessage
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.IsError {
			continue
		}
		messages = append(messages, llm.UserMessage(rec.Query), llm.AssistantMessage(rec.Response))
	}
	return messages, nil
}
