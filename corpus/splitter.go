package corpus

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Vidura-Wijekoon/fitassist/model"
)

const (
	DefaultChunkSize    = 8000
	DefaultChunkOverlap = 500
)

// separators in order of preference. The empty separator means a hard cut.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// chunkNamespace scopes chunk IDs so that the same source and position
// always produce the same ID.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("fitassist/chunk"))

// Splitter cuts documents into overlapping chunks of bounded size.
// Sizes are measured in characters.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter creates a Splitter. Non-positive size falls back to the default;
// an overlap that is negative or not smaller than size is clamped.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Splitter{size: size, overlap: overlap}
}

// Size returns the maximum chunk size.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the overlap between consecutive chunks.
func (s *Splitter) Overlap() int { return s.overlap }

// Split cuts a document's cleaned text into chunks.
func (s *Splitter) Split(doc model.Document) []model.Chunk {
	texts := s.SplitText(doc.CleanedText)
	chunks := make([]model.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, model.Chunk{
			ID:        ChunkID(doc.SourceURI, i),
			SourceURI: doc.SourceURI,
			Position:  i,
			Text:      text,
		})
	}
	return chunks
}

// SplitAll splits every document, keeping document order.
func (s *Splitter) SplitAll(docs []model.Document) []model.Chunk {
	var out []model.Chunk
	for _, d := range docs {
		out = append(out, s.Split(d)...)
	}
	return out
}

// SplitText cuts text into chunks no longer than the splitter size,
// preferring paragraph, then line, sentence and word boundaries.
func (s *Splitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, separators)
}

// ChunkID returns the deterministic ID of the chunk at position in source.
func ChunkID(source string, position int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(source+"#"+strconv.Itoa(position))).String()
}

func (s *Splitter) split(text string, seps []string) []string {
	sep := ""
	var rest []string
	for i, candidate := range seps {
		if candidate == "" {
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return s.hardCut(text)
	}

	var out, fitting []string
	for _, piece := range strings.SplitAfter(text, sep) {
		if piece == "" {
			continue
		}
		if runeLen(piece) <= s.size {
			fitting = append(fitting, piece)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting)...)
			fitting = nil
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting)...)
	}
	return out
}

// merge packs pieces into chunks. When a chunk is emitted, its trailing
// pieces, up to overlap characters, start the next one.
func (s *Splitter) merge(pieces []string) []string {
	var out, cur []string
	total := 0

	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.size && len(cur) > 0 {
			if chunk := strings.TrimSpace(strings.Join(cur, "")); chunk != "" {
				out = append(out, chunk)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= runeLen(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += n
	}

	if chunk := strings.TrimSpace(strings.Join(cur, "")); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	step := s.size - s.overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+s.size, len(runes))
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
