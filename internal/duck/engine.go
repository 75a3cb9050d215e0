// Package duck loads CSV sources into session-scoped, in-memory DuckDB databases.
package duck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/malbeclabs/civicdata/internal/csvsource"
	"github.com/malbeclabs/civicdata/internal/metrics"
)

// TableName is the name every session table is created under.
const TableName = "dataset"

const defaultMaxRows = 10_000

// Fetcher materializes a CSV location as a local file.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (*csvsource.File, error)
}

type Config struct {
	Logger  *slog.Logger
	Fetcher Fetcher

	// MemoryLimit and Threads are applied to every session database, e.g. "1GB" and 2.
	MemoryLimit string
	Threads     int

	// MaxRows caps the rows returned by Run. Zero uses the default.
	MaxRows int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if cfg.Threads < 0 {
		return errors.New("threads must be non-negative")
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return nil
}

type Engine struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate duck config: %w", err)
	}
	return &Engine{log: cfg.Logger, cfg: cfg}, nil
}

type LoadOptions struct {
	// IgnoreErrors skips rows that fail to parse instead of failing the load.
	IgnoreErrors bool
	// SampleSize is the number of rows sniffed for type detection. Zero or negative scans
	// the whole file.
	SampleSize int
}

// LoadCSV creates a fresh in-memory database holding the CSV at location as TableName.
// The returned Table owns the database and must be closed.
func (e *Engine) LoadCSV(ctx context.Context, location string, opts LoadOptions) (*Table, error) {
	file, err := e.cfg.Fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", e.dsn())
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	t := &Table{
		log:      e.log,
		db:       db,
		file:     file,
		location: file.Location,
		maxRows:  e.cfg.MaxRows,
	}

	if _, err := db.ExecContext(ctx, createTableSQL(file.Path, opts)); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("failed to read csv %s: %w", file.Location, err)
	}

	// Generated SQL runs against this database, so cut off file and network access once the
	// table exists.
	for _, stmt := range []string{
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("failed to restrict session database: %w", err)
		}
	}

	schema, err := t.Describe(ctx)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	if len(schema) == 0 {
		_ = t.Close()
		return nil, fmt.Errorf("csv %s produced no columns", file.Location)
	}

	metrics.CSVBytesLoaded.Add(float64(file.Size))
	e.log.Debug("duck: loaded csv", "location", file.Location, "bytes", file.Size, "columns", len(schema))
	return t, nil
}

func (e *Engine) dsn() string {
	params := url.Values{}
	if e.cfg.MemoryLimit != "" {
		params.Set("memory_limit", e.cfg.MemoryLimit)
	}
	if e.cfg.Threads > 0 {
		params.Set("threads", strconv.Itoa(e.cfg.Threads))
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

func createTableSQL(path string, opts LoadOptions) string {
	sampleSize := opts.SampleSize
	if sampleSize <= 0 {
		sampleSize = -1
	}
	return fmt.Sprintf(
		"CREATE TABLE %s AS SELECT * FROM read_csv(%s, auto_detect = true, header = true, null_padding = true, sample_size = %d, ignore_errors = %t)",
		QuoteIdent(TableName), quoteLiteral(path), sampleSize, opts.IgnoreErrors,
	)
}

// QuoteIdent quotes a column or table name for DuckDB.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
