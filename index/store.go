package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/Vidura-Wijekoon/fitassist/embedding"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

const fileName = "vectorstore.parquet"

// chunkRow is the on-disk form of one chunk.
type chunkRow struct {
	ID        string    `parquet:"id"`
	SourceURI string    `parquet:"source_uri"`
	Position  int64     `parquet:"position"`
	Text      string    `parquet:"text"`
	Embedding []float32 `parquet:"embedding"`
}

// Store persists an Index as a parquet file, one row per chunk, under
// <dir>/<version>/vectorstore.parquet.
type Store struct {
	dir     string
	version string
}

// NewStore creates a Store.
func NewStore(dir, version string) *Store {
	if version == "" {
		version = "v1"
	}
	return &Store{dir: dir, version: version}
}

// Path returns the location of the index file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.version, fileName)
}

// Save writes idx to a temporary file and renames it into place, so a
// reader never observes a partial index.
func (s *Store) Save(idx *Index) error {
	path := s.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w: %w", model.ErrStorage, err)
	}

	rows := make([]chunkRow, 0, idx.Len())
	for _, c := range idx.Chunks() {
		rows = append(rows, chunkRow{
			ID:        c.ID,
			SourceURI: c.SourceURI,
			Position:  int64(c.Position),
			Text:      c.Text,
			Embedding: c.Embedding,
		})
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index: %w: %w", model.ErrStorage, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := parquet.Write(tmp, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w: %w", model.ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync index: %w: %w", model.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w: %w", model.ErrStorage, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename index: %w: %w", model.ErrStorage, err)
	}
	return nil
}

// Load reads the persisted index. Queries against it are embedded with emb.
// Returns model.ErrIndexNotFound when nothing has been saved.
func (s *Store) Load(emb embedding.Embedder) (*Index, error) {
	if _, err := os.Stat(s.Path()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.ErrIndexNotFound
		}
		return nil, fmt.Errorf("stat index: %w: %w", model.ErrStorage, err)
	}

	rows, err := parquet.ReadFile[chunkRow](s.Path())
	if err != nil {
		return nil, fmt.Errorf("read index: %w: %w", model.ErrStorage, err)
	}

	chunks := make([]model.Chunk, len(rows))
	for i, r := range rows {
		chunks[i] = model.Chunk{
			ID:        r.ID,
			SourceURI: r.SourceURI,
			Position:  int(r.Position),
			Text:      r.Text,
			Embedding: r.Embedding,
		}
	}
	return newIndex(chunks, emb), nil
}
