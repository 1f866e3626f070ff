// Package server exposes the assistant over HTTP.
//
// Information Hiding:
// - Routing and middleware stack hidden
// - Error-to-status mapping hidden
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/assistant"
	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/internal/metrics"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

const (
	defaultHistoryLimit = 10
	maxBodyBytes        = 64 << 10
	shutdownTimeout     = 10 * time.Second
)

// Assistant is the subset of assistant.Service the server needs.
type Assistant interface {
	SubmitQuery(ctx context.Context, userID, query string) (assistant.Answer, error)
	History(ctx context.Context, userID string, limit int) ([]model.QueryRecord, error)
	Stats(ctx context.Context, userID string) (model.UsageStats, error)
	Reindex(ctx context.Context) (int, error)
}

// Server serves the HTTP API.
type Server struct {
	assistant Assistant
	logger    *zap.Logger
	router    chi.Router
}

// New creates a Server and mounts its routes.
func New(a Assistant, log *zap.Logger) *Server {
	s := &Server{assistant: a, logger: logger.OrNop(log)}

	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/history/{userID}", s.handleHistory)
		r.Get("/history/{userID}/stats", s.handleStats)
		r.Post("/index/rebuild", s.handleRebuild)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

type queryRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

type queryResponse struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	answer, err := s.assistant.SubmitQuery(r.Context(), req.UserID, req.Query)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, model.ErrEmptyQuery.Error())
		return
	default:
		logger.FromContext(r.Context()).Error("query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{Query: answer.Query, Response: answer.Response})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	records, err := s.assistant.History(r.Context(), userID, limit)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		logger.FromContext(r.Context()).Error("history read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"records": records,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.assistant.Stats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		logger.FromContext(r.Context()).Error("stats read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	n, err := s.assistant.Reindex(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("index rebuild failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "index rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"chunks": n})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
