// Package app builds the process-wide components once and hands them to the
// CLI and HTTP adapters.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tejnc/threat-intel-pipeline/internal/config"
	"github.com/tejnc/threat-intel-pipeline/internal/embedding"
	"github.com/tejnc/threat-intel-pipeline/internal/graph"
	"github.com/tejnc/threat-intel-pipeline/internal/indicator"
	"github.com/tejnc/threat-intel-pipeline/internal/ingest"
	"github.com/tejnc/threat-intel-pipeline/internal/intent"
	"github.com/tejnc/threat-intel-pipeline/internal/keyword"
	"github.com/tejnc/threat-intel-pipeline/internal/query"
	"github.com/tejnc/threat-intel-pipeline/internal/search"
)

// App holds the shared store, embedder and indexes and the services built on them.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      graph.Store
	Embedder   embedding.Embedder
	Keyword    keyword.KeywordIndex
	Indicators *indicator.Extractor
	Search     *search.Engine
	Query      *query.Library
	Pipeline   *ingest.Pipeline
	Intents    *intent.Dispatcher
}

// Option overrides a component New would otherwise build from config.
type Option func(*App)

// WithStore uses store instead of opening the configured backend.
func WithStore(store graph.Store) Option {
	return func(a *App) { a.Store = store }
}

// WithEmbedder uses e instead of the default hashing embedder.
func WithEmbedder(e embedding.Embedder) Option {
	return func(a *App) { a.Embedder = e }
}

// WithKeywordIndex uses idx instead of the configured Bleve index.
func WithKeywordIndex(idx keyword.KeywordIndex) Option {
	return func(a *App) { a.Keyword = idx }
}

// New opens the store, initializes its schema and wires every service.
// On error, whatever was already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.Store == nil {
		a.Store, err = graph.Open(ctx, cfg.Backend())
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
		}
	}
	if err = a.Store.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if a.Embedder == nil {
		a.Embedder = embedding.NewCachedEmbedder(embedding.NewHashEmbedder(cfg.Embedding.Dimensions), cfg.Embedding.CacheSize)
	}
	if a.Embedder.Dimensions() != a.Store.Dimensions() {
		logger.Warn("embedder and vector index dimensions differ; new chunks will not be searchable",
			zap.Int("embedder", a.Embedder.Dimensions()),
			zap.Int("index", a.Store.Dimensions()))
	}
	if a.Keyword == nil {
		if a.Keyword, err = openKeywordIndex(cfg); err != nil {
			return nil, err
		}
	}

	a.Indicators = indicator.NewExtractor()
	a.Search = search.NewEngine(a.Store, a.Embedder, a.Keyword,
		search.WithLogger(logger),
		search.WithLimits(cfg.Search.DefaultK, cfg.Search.MaxK),
		search.WithKeywordOptions(&keyword.SearchOptions{
			PhraseBoost:  cfg.Search.PhraseBoost,
			FuzzyEnabled: cfg.Search.FuzzyEnabled,
		}),
	)
	a.Query = query.New(a.Store,
		query.WithLogger(logger),
		query.WithMaxHops(cfg.Query.MaxHops),
		query.WithNetworkPathLimit(cfg.Query.NetworkPathLimit),
		query.WithClusterLimit(cfg.Query.ClusterLimit),
	)
	a.Pipeline = ingest.NewPipeline(a.Store, a.Embedder,
		ingest.WithLogger(logger),
		ingest.WithKeywordIndex(a.Keyword),
		ingest.WithIndicatorExtractor(a.Indicators),
		ingest.WithChunking(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithExtensions(cfg.Ingest.Extensions),
	)
	a.Intents = intent.NewDispatcher(a.Search, a.Query, logger)
	logger.Debug("app initialized",
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("dimensions", a.Store.Dimensions()))
	return a, nil
}

// openKeywordIndex keeps the memory backend fully in memory.
func openKeywordIndex(cfg *config.Config) (keyword.KeywordIndex, error) {
	path := cfg.Storage.BleveIndexPath
	if cfg.Storage.Backend == graph.BackendMemory {
		path = ""
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}
	idx, err := keyword.NewBleveIndex(path)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Close releases the keyword index, embedder and store.
func (a *App) Close() error {
	var errs []error
	if a.Keyword != nil {
		errs = append(errs, a.Keyword.Close())
	}
	if a.Embedder != nil {
		errs = append(errs, a.Embedder.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
