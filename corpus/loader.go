// Document Corpus Loader.
//
// Information Hiding:
// - HTTP fetching and HTML parsing hidden behind Load
// - Same-host crawling and URL deduplication internal
// - Per-source failures logged and skipped

package corpus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxPageBytes        = 10 << 20
	userAgent           = "fitassist-corpus-loader/1.0"
)

// DefaultSources are the fitness articles indexed when no sources are configured.
var DefaultSources = []string{
	"https://www.healthline.com/nutrition/10-benefits-of-exercise",
	"https://www.webmd.com/fitness-exercise/guide/the-basics-of-fitness",
	"https://www.mayoclinic.org/healthy-lifestyle/fitness/in-depth/fitness/art-20048269",
}

// Loader fetches source pages and turns them into cleaned Documents.
type Loader struct {
	client   *http.Client
	maxDepth int
	logger   *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient sets the HTTP client used for fetching.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

// WithMaxDepth sets how deep same-host links are followed.
// Depth 1 loads only the given pages.
func WithMaxDepth(depth int) LoaderOption {
	return func(l *Loader) {
		if depth > 0 {
			l.maxDepth = depth
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger.OrNop(log) }
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		client:   &http.Client{Timeout: defaultFetchTimeout},
		maxDepth: 1,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type pending struct {
	url   string
	depth int
}

// Load fetches every source and returns the cleaned documents in discovery order.
// Sources that cannot be fetched or parsed are logged and skipped.
// An error is returned only when ctx is cancelled.
func (l *Loader) Load(ctx context.Context, sources []string) ([]model.Document, error) {
	seen := make(map[string]bool)
	var docs []model.Document

	for _, src := range sources {
		queue := []pending{{url: src, depth: 1}}
		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			cur := queue[0]
			queue = queue[1:]

			key := normalizeURL(cur.url)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true

			page, err := l.fetch(ctx, cur.url)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				l.logger.Warn("skipping source",
					zap.String("url", cur.url),
					zap.Int("depth", cur.depth),
					zap.Error(err))
				continue
			}

			docs = append(docs, model.Document{
				SourceURI:   cur.url,
				Title:       page.title,
				RawText:     page.raw,
				CleanedText: page.text,
			})
			l.logger.Debug("loaded source",
				zap.String("url", cur.url),
				zap.Int("chars", len(page.text)))

			if cur.depth < l.maxDepth {
				for _, link := range page.links {
					queue = append(queue, pending{url: link, depth: cur.depth + 1})
				}
			}
		}
	}

	return docs, nil
}

func (l *Loader) fetch(ctx context.Context, rawURL string) (*page, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	p, err := extract(string(body), base)
	if err != nil {
		return nil, err
	}
	if p.text == "" {
		return nil, fmt.Errorf("no text content")
	}
	return p, nil
}

// normalizeURL drops the fragment so that anchors on one page dedupe.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
