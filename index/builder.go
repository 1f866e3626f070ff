package index

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/embedding"
	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/internal/retry"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

// DefaultBatchSize is the number of chunk texts sent per embedding request.
const DefaultBatchSize = 64

// Builder embeds chunks and produces an Index.
type Builder struct {
	embedder  embedding.Embedder
	batchSize int
	policy    retry.Policy
	logger    *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithRetry retries a batch whose embedding request found the provider
// unavailable. Without it each batch is attempted once.
func WithRetry(p retry.Policy) BuilderOption {
	return func(b *Builder) { b.policy = p }
}

// NewBuilder creates a Builder.
func NewBuilder(emb embedding.Embedder, batchSize int, log *zap.Logger, opts ...BuilderOption) *Builder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	b := &Builder{embedder: emb, batchSize: batchSize, logger: logger.OrNop(log)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Embedder returns the embedder used for chunks and queries.
func (b *Builder) Embedder() embedding.Embedder {
	return b.embedder
}

// Build embeds every chunk and returns a new Index. Input chunks are not modified.
// A batch failing with model.ErrUpstreamUnavailable is retried under the
// retry policy; any other provider failure or malformed result fails the
// whole build.
func (b *Builder) Build(ctx context.Context, chunks []model.Chunk) (*Index, error) {
	out := make([]model.Chunk, len(chunks))
	copy(out, chunks)

	dim := 0
	for start := 0; start < len(out); start += b.batchSize {
		end := min(start+b.batchSize, len(out))

		texts := make([]string, 0, end-start)
		for _, c := range out[start:end] {
			texts = append(texts, c.Text)
		}

		var vecs [][]float32
		err := retry.Do(ctx, b.policy, "embed batch", b.logger, isUnavailable, func(ctx context.Context) error {
			var err error
			vecs, err = b.embedder.Embed(ctx, texts)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, model.ErrEmbeddingProvider) {
				return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			return nil, fmt.Errorf("embed batch %d-%d: %w: %w", start, end, model.ErrEmbeddingProvider, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embed batch %d-%d: expected %d vectors, got %d: %w",
				start, end, len(texts), len(vecs), model.ErrEmbeddingProvider)
		}

		for i, v := range vecs {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) == 0 || len(v) != dim {
				return nil, fmt.Errorf("chunk %d: embedding dimension %d, expected %d: %w",
					start+i, len(v), dim, model.ErrEmbeddingProvider)
			}
			out[start+i].Embedding = v
		}

		b.logger.Debug("embedded batch",
			zap.Int("from", start),
			zap.Int("to", end),
			zap.Int("total", len(out)))
	}

	return newIndex(out, b.embedder), nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, model.ErrUpstreamUnavailable)
}
