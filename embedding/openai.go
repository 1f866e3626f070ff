package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/internal/metrics"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

// OpenAIEmbedder calls the OpenAI embeddings API, or any compatible endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration // per request; zero leaves only the caller's deadline
	Logger     *zap.Logger
}

// NewOpenAIEmbedder creates an OpenAI embedder.
func NewOpenAIEmbedder(cfg Config) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	m := cfg.Model
	if m == "" {
		m = DefaultModel
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(m),
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
		logger:     logger.OrNop(cfg.Logger),
	}
}

// Model returns the configured model name.
func (e *OpenAIEmbedder) Model() string {
	return string(e.model)
}

// Embed embeds texts in a single request.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
		e.logger.Warn("embedding request failed",
			zap.String("model", string(e.model)),
			zap.Int("texts", len(texts)),
			zap.Error(err))
		return nil, classifyError(err)
	}

	if len(resp.Data) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "malformed").Inc()
		return nil, fmt.Errorf("expected %d embeddings, got %d: %w",
			len(texts), len(resp.Data), model.ErrEmbeddingProvider)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "malformed").Inc()
			return nil, fmt.Errorf("unexpected embedding index %d: %w", d.Index, model.ErrEmbeddingProvider)
		}
		out[d.Index] = d.Embedding
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "success").Inc()
	return out, nil
}

// classifyError maps SDK errors onto the model error taxonomy.
// Rate limits, server errors and transport failures are retryable.
func classifyError(err error) error {
	status := 0

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status == 0 || status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("embedding request: %w: %w: %v", model.ErrEmbeddingProvider, model.ErrUpstreamUnavailable, err)
	}
	return fmt.Errorf("embedding request status %d: %w: %v", status, model.ErrEmbeddingProvider, err)
}

var _ Embedder = (*OpenAIEmbedder)(nil)
