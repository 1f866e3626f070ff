package assistant

import (
	"context"
	"errors"

	"github.com/Vidura-Wijekoon/fitassist/corpus"
	"github.com/Vidura-Wijekoon/fitassist/index"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

// ErrEmptyCorpus is returned when no source could be loaded.
var ErrEmptyCorpus = errors.New("no corpus documents loaded")

// CorpusSource loads sources and splits them into chunks. A corpus with no
// readable source is an error so that a rebuild never replaces a good index
// with an empty one.
func CorpusSource(loader *corpus.Loader, splitter *corpus.Splitter, sources []string) index.ChunkSource {
	return func(ctx context.Context) ([]model.Chunk, error) {
		docs, err := loader.Load(ctx, sources)
		if err != nil {
			return nil, err
		}
		chunks := splitter.SplitAll(docs)
		if len(chunks) == 0 {
			return nil, ErrEmptyCorpus
		}
		return chunks, nil
	}
}
