package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const (
	defaultPostgresMaxConns   = 10
	defaultConnectMaxElapsed  = 30 * time.Second
	defaultEmbeddingDimension = 1024
)

type PostgresConfig struct {
	Logger *slog.Logger
	URL    string

	// Dimensions is the embedding vector width used when creating the table.
	Dimensions int
	MaxConns   int32

	// ConnectTimeout bounds the start-up connect and ping retries.
	ConnectTimeout time.Duration
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.URL == "" {
		return errors.New("postgres url is required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultEmbeddingDimension
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultPostgresMaxConns
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectMaxElapsed
	}
	return nil
}

// PostgresStore serves the catalog from a pgvector-enabled Postgres table.
type PostgresStore struct {
	log  *slog.Logger
	cfg  PostgresConfig
	pool *pgxpool.Pool
}

// NewPostgresStore connects, retrying with exponential backoff until ConnectTimeout, and
// ensures the datasets table exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate postgres config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	attempt := 0
	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		if attempt > 0 {
			cfg.Logger.Warn("catalog: failed to connect to postgres, retrying", "attempt", attempt)
		}
		attempt++
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresStore{log: cfg.Logger, cfg: cfg, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS datasets (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL DEFAULT '',
				enhanced_title TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				source_url TEXT NOT NULL DEFAULT '',
				csv_location TEXT NOT NULL,
				title_embedding vector(%[1]d),
				description_embedding vector(%[1]d),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, s.cfg.Dimensions),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	s.log.Debug("catalog: postgres migrations completed")
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const summaryColumns = `id, title, enhanced_title, description, source_url, csv_location`

func (s *PostgresStore) Search(ctx context.Context, embedding []float32, threshold *float64, limit int) ([]Summary, error) {
	if len(embedding) == 0 {
		return nil, errors.New("empty query embedding")
	}
	if limit <= 0 {
		limit = 100
	}
	floor := -1.0
	if threshold != nil {
		floor = *threshold
	}

	rows, err := s.pool.Query(ctx, `
		WITH scored AS (
			SELECT `+summaryColumns+`,
				GREATEST(
					COALESCE(1 - (description_embedding <=> $1::vector), -1),
					COALESCE(1 - (title_embedding <=> $1::vector), -1)
				) AS similarity
			FROM datasets
			WHERE description_embedding IS NOT NULL OR title_embedding IS NOT NULL
		)
		SELECT `+summaryColumns+`, similarity
		FROM scored
		WHERE similarity >= $2
		ORDER BY similarity DESC
		LIMIT $3
	`, pgvector.NewVector(embedding).String(), floor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search datasets: %w", err)
	}
	return collectSummaries(rows, true)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+summaryColumns+` FROM datasets ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return collectSummaries(rows, false)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Summary, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+summaryColumns+` FROM datasets WHERE id = $1`, id)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get dataset: %w", err)
	}
	out, err := collectSummaries(rows, false)
	if err != nil {
		return Summary{}, err
	}
	if len(out) == 0 {
		return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out[0], nil
}

func (s *PostgresStore) Upsert(ctx context.Context, d Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO datasets (id, title, enhanced_title, description, source_url, csv_location, title_embedding, description_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8::vector)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			enhanced_title = EXCLUDED.enhanced_title,
			description = EXCLUDED.description,
			source_url = EXCLUDED.source_url,
			csv_location = EXCLUDED.csv_location,
			title_embedding = EXCLUDED.title_embedding,
			description_embedding = EXCLUDED.description_embedding,
			updated_at = NOW()
	`, d.ID, d.Title, d.EnhancedTitle, d.Description, d.SourceURL, d.CSVLocation,
		vectorParam(d.TitleEmbedding), vectorParam(d.DescriptionEmbedding))
	if err != nil {
		return fmt.Errorf("failed to upsert dataset %s: %w", d.ID, err)
	}
	return nil
}

func vectorParam(v []float32) *string {
	if len(v) == 0 {
		return nil
	}
	s := pgvector.NewVector(v).String()
	return &s
}

func collectSummaries(rows pgx.Rows, withSimilarity bool) ([]Summary, error) {
	defer rows.Close()
	out := []Summary{}
	for rows.Next() {
		var sum Summary
		dest := []any{&sum.ID, &sum.Title, &sum.EnhancedTitle, &sum.Description, &sum.SourceURL, &sum.CSVLocation}
		if withSimilarity {
			dest = append(dest, &sum.Similarity)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read datasets: %w", err)
	}
	return out, nil
}
