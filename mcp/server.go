// Package mcp exposes the fitness tools over the Model Context Protocol.
//
// Information Hiding:
// - Transport selection hidden behind Run and RunHTTP
// - Tool schemas derived from input structs
package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/catalog"
	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
)

// Version is the MCP server version.
const Version = "0.1.0"

var (
	ErrMissingRetriever = errors.New("retriever is required")
	ErrMissingExercises = errors.New("exercise finder is required")
)

// Retriever answers a fitness question from the article corpus.
type Retriever interface {
	Answer(ctx context.Context, question string) string
}

// ExerciseFinder searches the exercise catalog.
type ExerciseFinder interface {
	Lookup(ctx context.Context, c catalog.Criteria) (string, error)
}

// Server is the MCP server for the fitness tools.
type Server struct {
	retriever Retriever
	exercises ExerciseFinder
	server    *mcp.Server
	logger    *zap.Logger
}

// NewServer creates an MCP server exposing fitness_query and exercise_search.
func NewServer(retriever Retriever, exercises ExerciseFinder, log *zap.Logger) (*Server, error) {
	if retriever == nil {
		return nil, ErrMissingRetriever
	}
	if exercises == nil {
		return nil, ErrMissingExercises
	}

	impl := &mcp.Implementation{
		Name:    "fitassist",
		Version: Version,
	}

	s := &Server{
		retriever: retriever,
		exercises: exercises,
		server:    mcp.NewServer(impl, nil),
		logger:    logger.OrNop(log),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting MCP HTTP server", zap.String("addr", addr))
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
