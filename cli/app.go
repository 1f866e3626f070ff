// Component wiring for CLI commands.
//
// Information Hiding:
// - Provider, embedder and cache construction hidden
// - Tool and router assembly hidden
// - Resource cleanup collected behind Close

package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/agent"
	"github.com/Vidura-Wijekoon/fitassist/assistant"
	"github.com/Vidura-Wijekoon/fitassist/catalog"
	"github.com/Vidura-Wijekoon/fitassist/config"
	"github.com/Vidura-Wijekoon/fitassist/corpus"
	"github.com/Vidura-Wijekoon/fitassist/embedding"
	"github.com/Vidura-Wijekoon/fitassist/index"
	"github.com/Vidura-Wijekoon/fitassist/internal/embcache"
	"github.com/Vidura-Wijekoon/fitassist/internal/metrics"
	"github.com/Vidura-Wijekoon/fitassist/llm"
	"github.com/Vidura-Wijekoon/fitassist/storage"
	"github.com/Vidura-Wijekoon/fitassist/tools"
)

const embeddingCacheTTL = 30 * 24 * time.Hour

// App holds the wired components for one CLI invocation.
type App struct {
	Settings  config.Settings
	Service   *assistant.Service
	History   *storage.History
	Index     *index.Handle
	Retrieval *tools.RetrievalTool
	Exercises *tools.ExerciseLookupTool
	Registry  *tools.Registry

	logger  *zap.Logger
	closers []func() error
}

// Close releases every opened resource in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// NewApp wires the full assistant: LLM, embedder, index, catalog, tools,
// router and history.
func NewApp(ctx context.Context, settings config.Settings, log *zap.Logger) (*App, error) {
	a := &App{Settings: settings, logger: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	provider, err := createProvider(settings)
	if err != nil {
		return nil, err
	}
	client := llm.NewClient(provider, settings.CallTimeout(),
		llm.WithRetry(settings.LLMRetry()),
		llm.WithClientLogger(log))
	name, model := client.Describe()
	log.Info("llm client ready", zap.String("provider", name), zap.String("model", model))

	if err := a.openIndex(ctx); err != nil {
		return nil, err
	}
	if err := a.openHistory(); err != nil {
		return nil, err
	}

	catalogClient := catalog.New(catalog.Config{
		APIKey:        settings.Catalog.APIKey,
		BaseURL:       settings.Catalog.BaseURL,
		Timeout:       settings.CallTimeout(),
		RatePerSecond: settings.Catalog.RatePerSecond,
		Logger:        log,
	})
	executor := tools.NewExecutor(
		tools.ToolConfig{
			MaxRetries:    uint32(settings.Catalog.Retries),
			BaseBackoffMs: uint64(settings.Catalog.BackoffMs),
		},
		tools.WithRetryable(catalog.IsRetryable),
		tools.WithExecutorLogger(log),
	)

	a.Retrieval = tools.NewRetrievalTool(a.Index, client, tools.RetrievalConfig{
		K:      settings.Agent.RetrievalK,
		Logger: log,
	})
	a.Exercises = tools.NewExerciseLookupTool(catalogClient, executor, log)

	a.Registry, err = tools.NewRegistry(a.Retrieval, a.Exercises)
	if err != nil {
		return nil, err
	}

	routerConfig := agent.NewBuilder("fitness-router").
		MaxToolCalls(settings.Agent.MaxToolCalls).
		HistoryTurns(settings.Agent.HistoryTurns).
		Build()
	router := agent.New(routerConfig, client, a.Registry,
		agent.WithHistory(a.History),
		agent.WithLogger(log))

	a.Service = assistant.New(router, a.History,
		assistant.WithIndex(a.Index, a.corpusSource()),
		assistant.WithLogger(log))

	ok = true
	return a, nil
}

// NewIndexApp wires only what index builds need: no LLM credentials.
func NewIndexApp(ctx context.Context, settings config.Settings, log *zap.Logger) (*App, error) {
	a := &App{Settings: settings, logger: log}
	if err := a.openIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewHistoryApp opens only the history store.
func NewHistoryApp(settings config.Settings, log *zap.Logger) (*App, error) {
	a := &App{Settings: settings, logger: log}
	if err := a.openHistory(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openIndex(ctx context.Context) error {
	emb, err := a.newEmbedder(ctx)
	if err != nil {
		return err
	}
	builder := index.NewBuilder(emb, a.Settings.Embedding.BatchSize, a.logger,
		index.WithRetry(a.Settings.EmbeddingRetry()))
	store := index.NewStore(a.Settings.IndexDir(), a.Settings.Corpus.Version)
	a.Index = index.NewHandle(builder, store, a.logger)
	return nil
}

func (a *App) openHistory() error {
	store, err := storage.OpenSqlite(a.Settings.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.History = storage.NewHistory(store, storage.WithHistoryLogger(a.logger))
	a.closers = append(a.closers, a.History.Close)
	return nil
}

// newEmbedder builds the OpenAI embedder, wrapped in the Redis cache when
// an address is configured. An unreachable Redis disables the cache.
func (a *App) newEmbedder(ctx context.Context) (embedding.Embedder, error) {
	cfg := a.Settings.Embedding
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set (required for embeddings)")
	}
	base := embedding.NewOpenAIEmbedder(embedding.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: a.Settings.CallTimeout(),
		Logger:  a.logger,
	})
	if cfg.RedisAddr == "" {
		return base, nil
	}

	store, err := embcache.NewRedisStore(cfg.RedisAddr, embeddingCacheTTL)
	if err != nil {
		a.logger.Warn("embedding cache disabled", zap.Error(err))
		return base, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		a.logger.Warn("embedding cache unreachable, continuing without it",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err))
		return base, nil
	}
	a.closers = append(a.closers, func() error { store.Close(); return nil })

	return embcache.New(base, store, base.Model(), metrics.EmbeddingCacheTotal, a.logger), nil
}

func (a *App) corpusSource() index.ChunkSource {
	loader := corpus.NewLoader(
		corpus.WithMaxDepth(a.Settings.Corpus.MaxDepth),
		corpus.WithLogger(a.logger),
	)
	splitter := corpus.NewSplitter(a.Settings.Corpus.ChunkSize, a.Settings.Corpus.ChunkOverlap)
	return assistant.CorpusSource(loader, splitter, a.Settings.Corpus.Sources)
}

// createProvider builds the configured LLM provider. A key from the config
// file wins over the environment.
func createProvider(settings config.Settings) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	apiKey := settings.LLM.APIKey
	if apiKey == "" {
		if apiKey, err = config.APIKeyFor(settings.LLM.Provider); err != nil {
			return nil, err
		}
	}

	return providerType.
		Model(settings.LLM.Model).
		BaseURL(settings.LLM.BaseURL).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		APIKey(apiKey)
}
