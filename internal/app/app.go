// Package app assembles the catalog, CSV engine, model clients and pipeline from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/config"
	"github.com/malbeclabs/civicdata/internal/csvsource"
	"github.com/malbeclabs/civicdata/internal/duck"
	"github.com/malbeclabs/civicdata/internal/embed"
	"github.com/malbeclabs/civicdata/internal/llm"
	"github.com/malbeclabs/civicdata/internal/pipeline"
)

// Catalog is the configured dataset store. Writer is nil for file-backed catalogs.
type Catalog struct {
	Store  catalog.Store
	Writer catalog.Writer

	postgres *catalog.PostgresStore
	cache    *catalog.CachedStore
}

// OpenCatalog connects to Postgres when a URL is configured and loads the YAML catalog file
// otherwise. Lookups are cached when CacheTTL is positive.
func OpenCatalog(ctx context.Context, log *slog.Logger, cfg config.Config) (*Catalog, error) {
	c := &Catalog{}
	switch {
	case cfg.PostgresURL != "":
		pg, err := catalog.NewPostgresStore(ctx, catalog.PostgresConfig{
			Logger:     log,
			URL:        cfg.PostgresURL,
			Dimensions: cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres catalog: %w", err)
		}
		c.postgres = pg
		c.Store = pg
		c.Writer = pg
	case cfg.CatalogFile != "":
		datasets, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		mem, err := catalog.NewMemoryStore(datasets)
		if err != nil {
			return nil, err
		}
		log.Info("app: loaded catalog file", "path", cfg.CatalogFile, "datasets", len(datasets))
		c.Store = mem
	default:
		return nil, errors.New("either postgres url or catalog file is required")
	}

	if cfg.CacheTTL > 0 {
		cached, err := catalog.NewCachedStore(catalog.CachedStoreConfig{Store: c.Store, TTL: cfg.CacheTTL})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.cache = cached
		c.Store = cached
	}
	return c, nil
}

// Ping checks the catalog backend. File catalogs are always ready.
func (c *Catalog) Ping(ctx context.Context) error {
	if c.postgres == nil {
		return nil
	}
	return c.postgres.Ping(ctx)
}

func (c *Catalog) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
	if c.postgres != nil {
		c.postgres.Close()
	}
}

// NewFetcher builds the CSV fetcher with an S3 client configured from S3_*/AWS_* variables.
func NewFetcher(ctx context.Context, log *slog.Logger, cfg config.Config) (*csvsource.Fetcher, error) {
	s3cfg, err := csvsource.LoadS3ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	s3Client, err := csvsource.NewS3Client(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return csvsource.New(csvsource.Config{
		Logger:         log,
		S3:             s3Client,
		StorageBaseURL: cfg.StorageBaseURL,
		TempDir:        cfg.TempDir,
		MaxBytes:       cfg.MaxCSVBytes,
	})
}

func NewEmbedder(log *slog.Logger, cfg config.Config) (*embed.VoyageClient, error) {
	return embed.NewVoyageClient(embed.VoyageConfig{
		Logger:     log,
		APIKey:     cfg.VoyageAPIKey,
		Model:      cfg.VoyageModel,
		BaseURL:    cfg.VoyageBaseURL,
		Dimensions: cfg.EmbeddingDimensions,
	})
}

func NewLLM(log *slog.Logger, cfg config.Config) (*llm.AnthropicClient, error) {
	return llm.NewAnthropicClient(llm.AnthropicConfig{
		Logger:  log,
		APIKey:  cfg.AnthropicAPIKey,
		BaseURL: cfg.AnthropicBaseURL,
		Model:   anthropic.Model(cfg.AnthropicModel),
	})
}

// App is everything needed to answer questions. Construct once per process.
type App struct {
	Catalog  *Catalog
	Fetcher  *csvsource.Fetcher
	Engine   *duck.Engine
	Embedder *embed.VoyageClient
	LLM      *llm.AnthropicClient
	Pipeline *pipeline.Pipeline
}

func New(ctx context.Context, log *slog.Logger, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateModels(); err != nil {
		return nil, err
	}

	fetcher, err := NewFetcher(ctx, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv fetcher: %w", err)
	}
	engine, err := duck.New(duck.Config{
		Logger:      log,
		Fetcher:     fetcher,
		MemoryLimit: cfg.DuckMemoryLimit,
		Threads:     cfg.DuckThreads,
		MaxRows:     cfg.MaxRows,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb engine: %w", err)
	}
	embedder, err := NewEmbedder(log, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	model, err := NewLLM(log, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	cat, err := OpenCatalog(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(pipeline.Config{
		Logger:   log,
		Store:    cat.Store,
		Embedder: embedder,
		LLM:      model,
		Loader: pipeline.DuckLoader(engine, duck.LoadOptions{
			IgnoreErrors: cfg.IgnoreErrors,
			SampleSize:   cfg.SampleSize,
		}),
		RetrieveLimit:     cfg.RetrieveLimit,
		Threshold:         cfg.SimilarityThreshold(),
		DistinctThreshold: cfg.DistinctThreshold,
		MaxExamples:       cfg.MaxExamples,
	})
	if err != nil {
		cat.Close()
		return nil, err
	}

	return &App{
		Catalog:  cat,
		Fetcher:  fetcher,
		Engine:   engine,
		Embedder: embedder,
		LLM:      model,
		Pipeline: p,
	}, nil
}

func (a *App) Close() {
	a.Pipeline.Close()
	a.Catalog.Close()
}
