// Package index holds the in-memory vector index over corpus chunks.
package index

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/Vidura-Wijekoon/fitassist/embedding"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

// MaxK bounds the number of results a search returns.
const MaxK = 10

// Result is one search hit.
type Result struct {
	Chunk model.Chunk
	Score float32
}

// Index is an immutable set of chunks with unit-normalised vectors.
// It is safe for concurrent reads.
type Index struct {
	chunks   []model.Chunk
	vectors  [][]float32
	embedder embedding.Embedder
}

func newIndex(chunks []model.Chunk, emb embedding.Embedder) *Index {
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vectors[i] = normalize(c.Embedding)
	}
	return &Index{chunks: chunks, vectors: vectors, embedder: emb}
}

// Len returns the number of chunks.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.chunks)
}

// Chunks returns a copy of the indexed chunks in index order.
func (idx *Index) Chunks() []model.Chunk {
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.chunks)
}

// Search embeds query and returns the k most similar chunks in
// non-increasing score order. k is clamped into [1, MaxK].
// An empty index returns no results without calling the embedder.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if idx.Len() == 0 {
		return []Result{}, nil
	}

	vecs, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 query embedding, got %d: %w", len(vecs), model.ErrEmbeddingProvider)
	}
	return idx.SearchVector(vecs[0], k)
}

// SearchVector ranks chunks against an already embedded query.
func (idx *Index) SearchVector(query []float32, k int) ([]Result, error) {
	if idx.Len() == 0 {
		return []Result{}, nil
	}
	if len(query) != len(idx.vectors[0]) {
		return nil, fmt.Errorf("query dimension %d, index dimension %d: %w",
			len(query), len(idx.vectors[0]), model.ErrEmbeddingProvider)
	}
	k = ClampK(k)

	q := normalize(query)
	type scored struct {
		i     int
		score float32
	}
	all := make([]scored, len(idx.vectors))
	for i, v := range idx.vectors {
		all[i] = scored{i: i, score: dot(q, v)}
	}
	slices.SortFunc(all, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.i, b.i)
	})

	n := min(k, len(all))
	out := make([]Result, n)
	for j := 0; j < n; j++ {
		out[j] = Result{Chunk: idx.chunks[all[j].i], Score: all[j].score}
	}
	return out, nil
}

// ClampK bounds k into [1, MaxK].
func ClampK(k int) int {
	return max(1, min(k, MaxK))
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
