// Package assistant is the entry point for submitting fitness questions.
//
// Information Hiding:
// - Routing, history recording and index lifecycle hidden behind Service
// - Routing failures collapse into one apology answer
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/agent"
	"github.com/Vidura-Wijekoon/fitassist/index"
	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/internal/metrics"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

// DefaultUserID is used when a caller does not identify the user.
const DefaultUserID = "default_user"

// ErrorResponse is the answer recorded when a query cannot be routed.
const ErrorResponse = "I'm sorry, I encountered an error processing your request. Please try again later."

// Answer is the outcome of one submitted query.
type Answer struct {
	Query    string `json:"query"`
	Response string `json:"response"`
	IsError  bool   `json:"is_error,omitempty"`
}

// Router answers one query.
type Router interface {
	Route(ctx context.Context, userID, query string) (agent.Response, error)
}

// History is the per-user query log.
type History interface {
	Append(ctx context.Context, userID, query, response string, isError bool) (model.QueryRecord, error)
	Recent(ctx context.Context, userID string, limit int) ([]model.QueryRecord, error)
	Stats(ctx context.Context, userID string) (model.UsageStats, error)
}

// Service submits queries to the router and records every outcome.
type Service struct {
	router  Router
	history History
	index   *index.Handle
	source  index.ChunkSource
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithIndex attaches the vector index and the corpus it is built from.
func WithIndex(h *index.Handle, source index.ChunkSource) Option {
	return func(s *Service) {
		s.index = h
		s.source = source
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logger.OrNop(l) }
}

// New creates a Service.
func New(router Router, history History, opts ...Option) *Service {
	s := &Service{
		router:  router,
		history: history,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitQuery answers query for userID and records it.
//
// An empty query returns model.ErrEmptyQuery and records nothing. A routing
// failure yields an Answer with IsError set and ErrorResponse as text, recorded
// as an error record. A cancelled ctx or an unreadable history is returned
// without recording. Only a failure to record the answer is returned as an
// error otherwise.
func (s *Service) SubmitQuery(ctx context.Context, userID, query string) (Answer, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return Answer{}, model.ErrEmptyQuery
	}
	if userID == "" {
		userID = DefaultUserID
	}
	log := s.logger.With(zap.String("user_id", userID))

	answer := Answer{Query: query}
	resp, err := s.router.Route(ctx, userID, query)
	switch {
	case err == nil:
		answer.Response = resp.Answer
	case ctx.Err() != nil:
		s.observe(start, "cancelled")
		return Answer{}, ctx.Err()
	case errors.Is(err, model.ErrStorage):
		s.observe(start, "storage_error")
		log.Error("query history unreadable", zap.Error(err))
		return Answer{}, err
	default:
		log.Error("query failed",
			zap.String("query", query),
			zap.Stringers("states", resp.States),
			zap.Error(err))
		answer.Response = ErrorResponse
		answer.IsError = true
	}

	if _, err := s.history.Append(ctx, userID, answer.Query, answer.Response, answer.IsError); err != nil {
		s.observe(start, "storage_error")
		return Answer{}, fmt.Errorf("record query: %w", err)
	}

	status := "ok"
	if answer.IsError {
		status = "error"
	}
	s.observe(start, status)
	log.Info("query answered",
		zap.Bool("is_error", answer.IsError),
		zap.Strings("tools", resp.ToolNames()),
		zap.Bool("loop_exceeded", resp.LoopExceeded),
		zap.Duration("duration", time.Since(start)))
	return answer, nil
}

func (s *Service) observe(start time.Time, status string) {
	metrics.QueryDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// History returns the user's most recent records, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]model.QueryRecord, error) {
	return s.history.Recent(ctx, userID, limit)
}

// Stats summarises the user's history.
func (s *Service) Stats(ctx context.Context, userID string) (model.UsageStats, error) {
	return s.history.Stats(ctx, userID)
}

var errNoIndex = errors.New("no index configured")

// EnsureIndex loads the persisted index or builds one from the corpus.
// Returns the number of indexed chunks.
func (s *Service) EnsureIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, errNoIndex
	}
	idx, err := s.index.EnsureLoaded(ctx, s.source)
	if err != nil {
		return 0, err
	}
	return idx.Len(), nil
}

// Reindex reloads the corpus and rebuilds the index. The previous index
// stays live if anything fails.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, errNoIndex
	}
	chunks, err := s.source(ctx)
	if err != nil {
		return 0, fmt.Errorf("load corpus: %w", err)
	}
	idx, err := s.index.Rebuild(ctx, chunks)
	if err != nil {
		return 0, err
	}
	return idx.Len(), nil
}
