// Package config provides application settings loaded from environment
// variables or a YAML file.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Vidura-Wijekoon/fitassist/catalog"
	"github.com/Vidura-Wijekoon/fitassist/corpus"
	"github.com/Vidura-Wijekoon/fitassist/embedding"
	"github.com/Vidura-Wijekoon/fitassist/index"
	"github.com/Vidura-Wijekoon/fitassist/internal/retry"
	"github.com/Vidura-Wijekoon/fitassist/llm"
)

// Settings holds all application configuration.
type Settings struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Agent     AgentConfig     `yaml:"agent"`
	Storage   StorageConfig   `yaml:"storage"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	APIKey          string  `yaml:"api_key"`
	BaseURL         string  `yaml:"base_url"`
	MaxTokens       uint32  `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	CallTimeoutSecs int     `yaml:"call_timeout_sec"`
	Retries         int     `yaml:"retries"`
}

// EmbeddingConfig holds embedding provider and cache configuration.
type EmbeddingConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	BatchSize int    `yaml:"batch_size"`
	Retries   int    `yaml:"retries"`
	RedisAddr string `yaml:"redis_addr"` // empty disables the cache
}

// CatalogConfig holds exercise catalog configuration.
type CatalogConfig struct {
	APIKey        string  `yaml:"api_key"`
	BaseURL       string  `yaml:"base_url"`
	Retries       int     `yaml:"retries"`
	BackoffMs     int     `yaml:"backoff_ms"`
	RatePerSecond float64 `yaml:"rate_per_sec"`
}

// CorpusConfig holds corpus and chunking configuration.
type CorpusConfig struct {
	Sources      []string `yaml:"sources"`
	MaxDepth     int      `yaml:"max_depth"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Version      string   `yaml:"version"`
}

// AgentConfig holds router configuration.
type AgentConfig struct {
	MaxToolCalls int `yaml:"max_tool_calls"`
	HistoryTurns int `yaml:"history_turns"`
	RetrievalK   int `yaml:"retrieval_k"`
}

// StorageConfig holds the data directory.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // prod selects JSON output
	Level string `yaml:"level"` // debug, info, warn, error
}

// CallTimeout returns the per-call timeout for outbound requests.
func (s Settings) CallTimeout() time.Duration {
	return time.Duration(s.LLM.CallTimeoutSecs) * time.Second
}

// LLMRetry returns the backoff policy for unavailable LLM providers.
func (s Settings) LLMRetry() retry.Policy {
	return upstreamRetry(s.LLM.Retries)
}

// EmbeddingRetry returns the backoff policy for unavailable embedding batches.
func (s Settings) EmbeddingRetry() retry.Policy {
	return upstreamRetry(s.Embedding.Retries)
}

func upstreamRetry(retries int) retry.Policy {
	return retry.Policy{
		Retries: uint32(retries),
		Base:    defaultBackoffMs * time.Millisecond,
		Max:     defaultMaxBackoff,
	}
}

// DBPath returns the history database path.
func (s Settings) DBPath() string {
	return filepath.Join(s.Storage.DataDir, "fitassist.db")
}

// IndexDir returns the root directory for persisted indexes.
func (s Settings) IndexDir() string {
	return filepath.Join(s.Storage.DataDir, "index")
}

// New creates settings for the specified provider, loading values from
// environment variables. An empty provider falls back to LLM_PROVIDER, then
// groq. Returns an error if the provider is unknown or environment variables
// contain invalid values.
func New(provider string) (Settings, error) {
	if provider == "" {
		provider = getEnv("LLM_PROVIDER", llm.ProviderGroq.String())
	}
	pt, err := llm.ParseProviderType(provider)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	s.LLM.Provider = pt.String()
	s.LLM.Model = os.Getenv(modelEnv(pt))
	s.LLM.APIKey = os.Getenv(pt.EnvVar())
	s.LLM.BaseURL = os.Getenv("LLM_BASE_URL")

	s.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	s.Embedding.Model = os.Getenv("EMBEDDING_MODEL")
	s.Embedding.BaseURL = os.Getenv("EMBEDDING_BASE_URL")
	s.Embedding.RedisAddr = os.Getenv("REDIS_ADDR")

	s.Catalog.APIKey = os.Getenv("EXERCISES_API_KEY")
	s.Catalog.BaseURL = os.Getenv("EXERCISES_BASE_URL")

	if v := os.Getenv("CORPUS_SOURCES"); v != "" {
		s.Corpus.Sources = splitList(v)
	}
	s.Corpus.Version = os.Getenv("CORPUS_VERSION")
	s.Storage.DataDir = os.Getenv("DATA_DIR")
	s.HTTP.Addr = os.Getenv("HTTP_ADDR")
	s.Logging.Env = os.Getenv("ENV")
	s.Logging.Level = os.Getenv("LOG_LEVEL")

	ints := []struct {
		key string
		dst *int
	}{
		{"CALL_TIMEOUT_SECS", &s.LLM.CallTimeoutSecs},
		{"LLM_RETRIES", &s.LLM.Retries},
		{"EMBEDDING_BATCH_SIZE", &s.Embedding.BatchSize},
		{"EMBEDDING_RETRIES", &s.Embedding.Retries},
		{"CATALOG_RETRIES", &s.Catalog.Retries},
		{"CATALOG_BACKOFF_MS", &s.Catalog.BackoffMs},
		{"CORPUS_MAX_DEPTH", &s.Corpus.MaxDepth},
		{"CHUNK_SIZE", &s.Corpus.ChunkSize},
		{"CHUNK_OVERLAP", &s.Corpus.ChunkOverlap},
		{"MAX_TOOL_CALLS", &s.Agent.MaxToolCalls},
		{"RETRIEVAL_K", &s.Agent.RetrievalK},
	}
	for _, e := range ints {
		if *e.dst, err = getEnvInt(e.key, 0); err != nil {
			return Settings{}, err
		}
	}

	if s.Agent.HistoryTurns, err = getEnvInt("HISTORY_TURNS", defaultHistoryTurns); err != nil {
		return Settings{}, err
	}
	if s.LLM.MaxTokens, err = getEnvUint32("LLM_MAX_TOKENS", 0); err != nil {
		return Settings{}, err
	}
	if s.LLM.Temperature, err = getEnvFloat64("LLM_TEMPERATURE", 0); err != nil {
		return Settings{}, err
	}
	if s.Catalog.RatePerSecond, err = getEnvFloat64("CATALOG_RATE_PER_SEC", 0); err != nil {
		return Settings{}, err
	}

	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid config: %w", err)
	}
	return s, nil
}

const (
	defaultHistoryTurns = 3
	defaultCallTimeout  = 30
	defaultRetrievalK   = 3
	defaultMaxToolCalls = 5
	defaultRetries      = 3
	defaultBackoffMs    = 500
	defaultMaxBackoff   = 5 * time.Second
	defaultDataDir      = ".fitassist"
	defaultVersion      = "v1"
	defaultHTTPAddr     = ":5000"
	defaultEnv          = "local"
)

// ApplyDefaults fills empty fields with default values. HistoryTurns is left
// alone: zero disables history replay.
func (s *Settings) ApplyDefaults() {
	if s.LLM.Provider == "" {
		s.LLM.Provider = llm.ProviderGroq.String()
	}
	if pt, err := llm.ParseProviderType(s.LLM.Provider); err == nil {
		s.LLM.Provider = pt.String()
		if s.LLM.Model == "" {
			s.LLM.Model = pt.DefaultModel()
		}
	}
	if s.LLM.CallTimeoutSecs <= 0 {
		s.LLM.CallTimeoutSecs = defaultCallTimeout
	}
	if s.LLM.Retries <= 0 {
		s.LLM.Retries = defaultRetries
	}
	if s.Embedding.Retries <= 0 {
		s.Embedding.Retries = defaultRetries
	}
	if s.Embedding.Model == "" {
		s.Embedding.Model = embedding.DefaultModel
	}
	if s.Embedding.BatchSize <= 0 {
		s.Embedding.BatchSize = index.DefaultBatchSize
	}
	if s.Catalog.BaseURL == "" {
		s.Catalog.BaseURL = catalog.DefaultBaseURL
	}
	if s.Catalog.Retries <= 0 {
		s.Catalog.Retries = defaultRetries
	}
	if s.Catalog.BackoffMs <= 0 {
		s.Catalog.BackoffMs = defaultBackoffMs
	}
	if s.Catalog.RatePerSecond <= 0 {
		s.Catalog.RatePerSecond = catalog.DefaultRate
	}
	if len(s.Corpus.Sources) == 0 {
		s.Corpus.Sources = append([]string(nil), corpus.DefaultSources...)
	}
	if s.Corpus.MaxDepth <= 0 {
		s.Corpus.MaxDepth = 1
	}
	if s.Corpus.ChunkSize <= 0 {
		s.Corpus.ChunkSize = corpus.DefaultChunkSize
	}
	if s.Corpus.ChunkOverlap <= 0 {
		s.Corpus.ChunkOverlap = corpus.DefaultChunkOverlap
	}
	if s.Corpus.Version == "" {
		s.Corpus.Version = defaultVersion
	}
	if s.Agent.MaxToolCalls <= 0 {
		s.Agent.MaxToolCalls = defaultMaxToolCalls
	}
	if s.Agent.RetrievalK <= 0 {
		s.Agent.RetrievalK = defaultRetrievalK
	}
	if s.Storage.DataDir == "" {
		s.Storage.DataDir = defaultDataDir
	}
	if s.HTTP.Addr == "" {
		s.HTTP.Addr = defaultHTTPAddr
	}
	if s.Logging.Env == "" {
		s.Logging.Env = defaultEnv
	}
}

// Validate checks the configuration for correctness. Credentials are not
// required here: commands that need them fail when the client is built.
func (s *Settings) Validate() error {
	if _, err := llm.ParseProviderType(s.LLM.Provider); err != nil {
		return fmt.Errorf("llm.provider: %w", err)
	}
	if s.Corpus.ChunkOverlap >= s.Corpus.ChunkSize {
		return fmt.Errorf("corpus.chunk_overlap (%d) must be smaller than corpus.chunk_size (%d)",
			s.Corpus.ChunkOverlap, s.Corpus.ChunkSize)
	}
	if s.Agent.RetrievalK > index.MaxK {
		return fmt.Errorf("agent.retrieval_k must be at most %d, got %d", index.MaxK, s.Agent.RetrievalK)
	}
	if s.Agent.HistoryTurns < 0 {
		return fmt.Errorf("agent.history_turns must not be negative, got %d", s.Agent.HistoryTurns)
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %v", s.LLM.Temperature)
	}
	return nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	pt, err := llm.ParseProviderType(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(pt.EnvVar())
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", pt.EnvVar())
	}
	return key, nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	return []string{
		llm.ProviderGroq.String(),
		llm.ProviderOpenAI.String(),
		llm.ProviderAnthropic.String(),
		llm.ProviderGemini.String(),
	}
}

func modelEnv(pt llm.ProviderType) string {
	return strings.ToUpper(pt.String()) + "_MODEL"
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Environment variable helpers with proper error handling

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}
