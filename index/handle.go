package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/internal/metrics"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

// ChunkSource produces the corpus chunks for a rebuild.
type ChunkSource func(ctx context.Context) ([]model.Chunk, error)

// Handle owns the live index. Reads are lock-free; rebuilds are serialised
// and swap the new index in only after it is fully built and persisted.
type Handle struct {
	current atomic.Pointer[Index]
	mu      sync.Mutex

	builder *Builder
	store   *Store
	logger  *zap.Logger
}

// NewHandle creates an empty Handle. store may be nil for an in-memory index.
func NewHandle(builder *Builder, store *Store, log *zap.Logger) *Handle {
	return &Handle{builder: builder, store: store, logger: logger.OrNop(log)}
}

// Current returns the live index, or nil when none is loaded.
func (h *Handle) Current() *Index {
	return h.current.Load()
}

// Search queries the live index. With no index loaded it returns no results.
func (h *Handle) Search(ctx context.Context, query string, k int) ([]Result, error) {
	return h.current.Load().Search(ctx, query, k)
}

// Rebuild builds a new index from chunks, persists it and swaps it in.
// On any failure the previous index stays live.
func (h *Handle) Rebuild(ctx context.Context, chunks []model.Chunk) (*Index, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rebuildLocked(ctx, chunks)
}

// EnsureLoaded makes sure an index is live: it keeps the current one, loads a
// persisted one, or rebuilds from source when nothing is persisted.
func (h *Handle) EnsureLoaded(ctx context.Context, source ChunkSource) (*Index, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if idx := h.current.Load(); idx != nil {
		return idx, nil
	}

	if h.store != nil {
		idx, err := h.store.Load(h.builder.Embedder())
		switch {
		case err == nil:
			h.swap(idx)
			h.logger.Info("loaded persisted index",
				zap.String("path", h.store.Path()),
				zap.Int("chunks", idx.Len()))
			return idx, nil
		case errors.Is(err, model.ErrIndexNotFound):
			h.logger.Info("no persisted index, building", zap.String("path", h.store.Path()))
		default:
			h.logger.Warn("persisted index unreadable, rebuilding",
				zap.String("path", h.store.Path()),
				zap.Error(err))
		}
	}

	chunks, err := source(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	return h.rebuildLocked(ctx, chunks)
}

func (h *Handle) rebuildLocked(ctx context.Context, chunks []model.Chunk) (*Index, error) {
	idx, err := h.builder.Build(ctx, chunks)
	if err != nil {
		h.logger.Error("index build failed, keeping previous index", zap.Error(err))
		return nil, fmt.Errorf("build index: %w", err)
	}

	if h.store != nil {
		if err := h.store.Save(idx); err != nil {
			h.logger.Error("index save failed, keeping previous index",
				zap.String("path", h.store.Path()),
				zap.Error(err))
			return nil, fmt.Errorf("save index: %w", err)
		}
	}

	h.swap(idx)
	h.logger.Info("index rebuilt", zap.Int("chunks", idx.Len()))
	return idx, nil
}

func (h *Handle) swap(idx *Index) {
	h.current.Store(idx)
	metrics.IndexChunks.Set(float64(idx.Len()))
}
