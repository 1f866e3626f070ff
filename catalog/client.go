// Package catalog is the client for the external exercise catalog API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/internal/metrics"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

const (
	DefaultBaseURL = "https://api.api-ninjas.com"
	DefaultTimeout = 30 * time.Second
	DefaultRate    = 5.0

	maxResponseBytes = 1 << 20
)

// Config holds the catalog client settings.
type Config struct {
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// Client searches the exercise catalog. One request is one attempt; retries
// are left to the caller.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRate
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	burst := max(1, int(cfg.RatePerSecond))

	return &Client{
		http:    cfg.HTTPClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		logger:  logger.OrNop(cfg.Logger),
	}
}

// Search returns the exercises matching c.
//
// Errors wrap model.ErrUpstreamUnavailable for timeouts, transport failures,
// rate limiting and server errors, and model.ErrInvalidCriteria when the
// catalog rejects the filters. A cancelled ctx returns ctx.Err().
func (cl *Client) Search(ctx context.Context, c Criteria) ([]model.ExerciseEntry, error) {
	if err := cl.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("rate limit: %w: %w", model.ErrUpstreamUnavailable, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, cl.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, cl.endpoint(c), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", cl.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := cl.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cl.record("unavailable")
		cl.logger.Warn("catalog request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("catalog request: %w: %v", model.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cl.record("unavailable")
		return nil, fmt.Errorf("read catalog response: %w: %v", model.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		cl.record("invalid")
		return nil, fmt.Errorf("catalog rejected criteria: %s: %w", errorDetail(body), model.ErrInvalidCriteria)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		cl.record("unavailable")
		return nil, fmt.Errorf("catalog status %d: %w", resp.StatusCode, model.ErrUpstreamUnavailable)
	default:
		cl.record("error")
		return nil, fmt.Errorf("catalog status %d: %s", resp.StatusCode, errorDetail(body))
	}

	var entries []model.ExerciseEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		cl.record("unavailable")
		return nil, fmt.Errorf("decode catalog response: %w: %v", model.ErrUpstreamUnavailable, err)
	}

	cl.record("ok")
	cl.logger.Debug("catalog search",
		zap.Any("criteria", c),
		zap.Int("results", len(entries)),
		zap.Duration("elapsed", time.Since(start)))
	return entries, nil
}

func (cl *Client) endpoint(c Criteria) string {
	q := url.Values{}
	for _, kv := range [][2]string{
		{"muscle", c.Muscle},
		{"type", c.Type},
		{"difficulty", c.Difficulty},
		{"name", c.Name},
	} {
		if kv[1] != "" {
			q.Set(kv[0], kv[1])
		}
	}
	u := cl.baseURL + "/v1/exercises"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (cl *Client) record(outcome string) {
	metrics.CatalogAttemptsTotal.WithLabelValues(outcome).Inc()
}

func errorDetail(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrUpstreamUnavailable)
}
