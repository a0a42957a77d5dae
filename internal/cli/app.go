package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ragweb/config"
	"ragweb/internal/adapter/analyzer"
	"ragweb/internal/adapter/cache"
	"ragweb/internal/adapter/chunker"
	"ragweb/internal/adapter/embedding"
	"ragweb/internal/adapter/fetch"
	"ragweb/internal/adapter/llm"
	"ragweb/internal/adapter/memstore"
	"ragweb/internal/adapter/queue"
	"ragweb/internal/adapter/retriever"
	"ragweb/internal/adapter/store"
	"ragweb/internal/metrics"
	"ragweb/internal/port"
	"ragweb/internal/usecase"
)

// app holds the adapters one command invocation works with. Everything is
// built from config so the server, the worker and the one-shot commands
// share a single wiring.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tokenizer *analyzer.Tokenizer
	store     port.MetadataStore
	index     *store.BoltVectorIndex
	queue     port.JobQueue
	embedder  port.Embedder
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.New(),
		tokenizer: analyzer.NewTokenizer(),
		index:     store.NewBoltVectorIndex(cfg.Index.Path, cfg.Embedding.Dimension, cfg.Index.SearchTimeout),
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = st
	if sqlStore, ok := st.(*store.SQLStore); ok {
		if err := checkIndexConfig(ctx, sqlStore, cfg, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	q, err := openQueue(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.queue = q

	emb, err := embedding.New(cfg.Embedding, a.tokenizer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.embedder = emb

	return a, nil
}

// openStore opens the metadata store and brings its schema up to date.
func openStore(ctx context.Context, cfg *config.Config) (port.MetadataStore, error) {
	if cfg.Database.Driver == "memory" {
		return memstore.NewMemoryStore(), nil
	}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	if _, err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return st, nil
}

// checkIndexConfig records the index configuration on first use and warns
// when it has since changed, because vectors built under different chunking
// or embedding settings are not comparable.
func checkIndexConfig(ctx context.Context, st *store.SQLStore, cfg *config.Config, logger *slog.Logger) error {
	result, err := st.CheckMigration(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to check index configuration: %w", err)
	}
	if result.NeedsRebuild {
		logger.Warn("stored data does not match the current configuration; run 'ragweb migrate' for details",
			"reason", result.Reason)
		return nil
	}
	return st.RecordConfig(ctx, cfg)
}

func openQueue(cfg *config.Config) (port.JobQueue, error) {
	if cfg.Queue.Driver == "memory" {
		return queue.NewMemoryQueue(), nil
	}
	q, err := queue.NewBoltQueue(cfg.Queue.Path, queue.BoltOptions{
		Name:              queue.DefaultName,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		PollInterval:      cfg.Queue.PollInterval,
		LockTimeout:       cfg.Queue.LockTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	return q, nil
}

// inProcessOnly reports whether jobs published here can only be consumed by
// this process.
func (a *app) inProcessOnly() bool {
	return a.cfg.Queue.Driver == "memory" || a.cfg.Database.Driver == "memory"
}

func (a *app) ingestUseCase() *usecase.IngestUseCase {
	return usecase.NewIngestUseCase(a.store, a.queue, a.logger)
}

func (a *app) pipeline() (*usecase.IngestPipeline, error) {
	policy, err := fetch.NewURLPolicy(a.cfg.Ingest.URLIncludes, a.cfg.Ingest.URLExcludes)
	if err != nil {
		return nil, fmt.Errorf("invalid url policy: %w", err)
	}
	chk, err := chunker.NewTokenChunker(a.cfg.Ingest.ChunkTokens, a.cfg.Ingest.ChunkOverlap, a.tokenizer)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	fetcher := fetch.NewHTTPFetcher(fetch.Options{
		Timeout:        a.cfg.Ingest.FetchTimeout,
		Attempts:       a.cfg.Ingest.FetchAttempts,
		BackoffInitial: a.cfg.Ingest.BackoffInitial,
		BackoffMax:     a.cfg.Ingest.BackoffMax,
		RequestsPerSec: a.cfg.Ingest.RequestsPerSec,
		MaxBodyBytes:   a.cfg.Ingest.MaxBodyBytes,
		UserAgent:      a.cfg.Ingest.UserAgent,
		Policy:         policy,
		Logger:         a.logger,
	})

	return usecase.NewIngestPipeline(usecase.PipelineDeps{
		Store:        a.store,
		Index:        a.index,
		Fetcher:      fetcher,
		Chunker:      chk,
		Embedder:     a.embedder,
		MinTextChars: a.cfg.Ingest.MinTextChars,
		Logger:       a.logger,
		Metrics:      a.metrics,
	}), nil
}

func (a *app) consumer() (*usecase.Consumer, error) {
	p, err := a.pipeline()
	if err != nil {
		return nil, err
	}
	return usecase.NewConsumer(a.queue, p, a.store, a.logger, a.metrics), nil
}

func (a *app) retrieveUseCase() *usecase.RetrieveUseCase {
	queryCache := cache.NewQueryCache(a.cfg.Retrieve.QueryCacheSize, a.cfg.Retrieve.QueryCacheTTL)
	return usecase.NewRetrieveUseCase(
		cache.NewCachedEmbedder(a.embedder, queryCache),
		a.index,
		a.store,
		a.cfg.Retrieve.MinScoreThreshold,
	)
}

func (a *app) packer() *usecase.ContextPacker {
	return usecase.NewContextPacker(a.tokenizer, a.cfg.LLM.ContextTokens, a.cfg.LLM.MaxContextChunks)
}

// generator uses the configured model when enabled. A model that cannot be
// constructed, for example because its key is missing, degrades to
// extractive answers instead of failing startup.
func (a *app) generator() *llm.Generator {
	if !a.cfg.LLM.Enabled {
		return llm.NewGenerator(nil, a.logger)
	}
	model, err := llm.NewOpenAIGenerator(a.cfg.LLM.APIKeyEnv, a.cfg.LLM.Model, a.cfg.LLM.BaseURL,
		a.cfg.LLM.Temperature, a.cfg.LLM.Timeout)
	if err != nil {
		a.logger.Warn("llm unavailable, answers will use excerpts", "model", a.cfg.LLM.Model, "error", err)
		return llm.NewGenerator(nil, a.logger)
	}
	return llm.NewGenerator(model, a.logger)
}

func (a *app) queryService() *usecase.QueryService {
	svc := usecase.NewQueryService(a.retrieveUseCase(), a.packer(), a.generator(), a.logger, a.metrics)
	if a.cfg.Retrieve.MMRLambda > 0 {
		svc.WithReranker(retriever.NewMMRReranker(a.cfg.Retrieve.MMRLambda, a.cfg.Retrieve.DedupJaccard, a.tokenizer))
	}
	return svc
}

func (a *app) Close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
