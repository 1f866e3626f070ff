// Retrieval tool: answers a fitness question from the indexed corpus.
//
// Information Hiding:
// - Context assembly and size bound hidden
// - Grounding prompt hidden
// - Every failure collapses into one fixed message

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/index"
	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/llm"
)

// RetrievalToolName is the name the planner uses for the retrieval tool.
const RetrievalToolName = "retrieval"

// NoInformationMessage is returned whenever the corpus cannot answer.
const NoInformationMessage = "I couldn't find information about that in the fitness articles available to me."

const (
	DefaultRetrievalK      = 3
	DefaultMaxContextChars = 12000
)

const groundingPrompt = `You are a fitness assistant. Answer the user's question using only the context below.
If the context does not contain the answer, say that you don't know. Do not invent facts.

Context:
%s`

// Searcher finds the chunks most similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]index.Result, error)
}

// Answerer produces a reply for a conversation.
type Answerer interface {
	Chat(ctx context.Context, messages []llm.ChatMessage) (string, error)
}

// RetrievalConfig configures a RetrievalTool. Zero values take defaults.
type RetrievalConfig struct {
	K               int
	MaxContextChars int
	Logger          *zap.Logger
}

// RetrievalTool searches the vector index and asks the model to answer from
// the retrieved context only. It never returns an error.
type RetrievalTool struct {
	BaseTool
	searcher Searcher
	answerer Answerer
	k        int
	maxChars int
	logger   *zap.Logger
}

// NewRetrievalTool creates a retrieval tool. With a nil answerer the tool
// returns the formatted context itself.
func NewRetrievalTool(searcher Searcher, answerer Answerer, cfg RetrievalConfig) *RetrievalTool {
	if cfg.K <= 0 {
		cfg.K = DefaultRetrievalK
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	return &RetrievalTool{
		searcher: searcher,
		answerer: answerer,
		k:        index.ClampK(cfg.K),
		maxChars: cfg.MaxContextChars,
		logger:   logger.OrNop(cfg.Logger),
	}
}

type retrievalArgs struct {
	Question string `json:"question"`
	Query    string `json:"query"` // accepted alias
}

// Metadata implements Tool.
func (t *RetrievalTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name: RetrievalToolName,
		Description: "Answers general fitness, health, nutrition and training questions " +
			"from a corpus of reliable fitness articles. Use it for questions like " +
			"\"What are the benefits of regular exercise?\".",
		Parameters: []ToolParameter{
			{Name: "question", ParamType: "string", Description: "The fitness question to answer", Required: true},
		},
	}
}

// Execute implements Tool.
func (t *RetrievalTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a retrievalArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			t.logger.Warn("retrieval: bad arguments", zap.Error(err))
			return SuccessResult(NoInformationMessage), nil
		}
	}
	question := strings.TrimSpace(a.Question)
	if question == "" {
		question = strings.TrimSpace(a.Query)
	}

	return SuccessResult(t.Answer(ctx, question)), nil
}

// Answer runs the retrieval pipeline for one question.
func (t *RetrievalTool) Answer(ctx context.Context, question string) string {
	if question == "" {
		return NoInformationMessage
	}

	results, err := t.searcher.Search(ctx, question, t.k)
	if err != nil {
		t.logger.Warn("retrieval: search failed", zap.Error(err))
		return NoInformationMessage
	}

	docs := FormatContext(results, t.maxChars)
	if docs == "" {
		return NoInformationMessage
	}
	if t.answerer == nil {
		return docs
	}

	reply, err := t.answerer.Chat(ctx, []llm.ChatMessage{
		llm.SystemMessage(fmt.Sprintf(groundingPrompt, docs)),
		llm.UserMessage(question),
	})
	if err != nil {
		t.logger.Warn("retrieval: answer failed", zap.Error(err))
		return NoInformationMessage
	}
	if reply = strings.TrimSpace(reply); reply == "" {
		return NoInformationMessage
	}
	return reply
}

// FormatContext renders results as numbered ==DOCUMENT n== blocks in the
// given order, keeping the total under maxChars. A first block longer than
// the bound is truncated; later blocks that do not fit are dropped.
func FormatContext(results []index.Result, maxChars int) string {
	var sb strings.Builder
	n := 0
	for _, r := range results {
		text := strings.TrimSpace(r.Chunk.Text)
		if text == "" {
			continue
		}
		n++
		sep := ""
		if sb.Len() > 0 {
			sep = "\n\n"
		}
		block := fmt.Sprintf("%s==DOCUMENT %d==\n%s", sep, n, text)
		if sb.Len()+len(block) > maxChars {
			if sb.Len() == 0 {
				sb.WriteString(truncate(block, maxChars))
			}
			break
		}
		sb.WriteString(block)
	}
	return sb.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
