// Package config holds the settings shared by the civicdata commands. Values come from flags,
// then CIVICDATA_* environment variables for flags left unset, then defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/civicdata/internal/pipeline"
	flag "github.com/spf13/pflag"
)

const (
	EnvPrefix = "CIVICDATA_"

	defaultListenAddr        = "0.0.0.0:3020"
	defaultMCPListenAddr     = "0.0.0.0:3021"
	defaultReadHeaderTimeout = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultRequestTimeout    = 2 * time.Minute
	defaultCacheTTL          = 5 * time.Minute
	defaultDimensions        = 1024
	defaultMaxRows           = 10_000
	defaultMaxCSVBytes       = 512 << 20
	defaultVoyageModel       = "voyage-3"
)

// envAliases maps conventional variable names onto flags.
var envAliases = map[string]string{
	"ANTHROPIC_API_KEY": "anthropic-api-key",
	"VOYAGE_API_KEY":    "voyage-api-key",
	"DATABASE_URL":      "postgres-url",
}

type Config struct {
	Verbose     bool
	MetricsAddr string

	ListenAddr        string
	MCPListenAddr     string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	AllowedOrigins    []string
	AllowedTokens     []string

	// Catalog is read from Postgres when PostgresURL is set, otherwise from CatalogFile.
	CatalogFile         string
	PostgresURL         string
	EmbeddingDimensions int
	CacheTTL            time.Duration

	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicModel   string
	VoyageAPIKey     string
	VoyageBaseURL    string
	VoyageModel      string

	StorageBaseURL  string
	TempDir         string
	MaxCSVBytes     int64
	DuckMemoryLimit string
	DuckThreads     int
	MaxRows         int
	IgnoreErrors    bool
	SampleSize      int

	RetrieveLimit int
	// Threshold is the minimum retrieval similarity. Values at or below -1 apply no floor.
	Threshold         float64
	DistinctThreshold int
	MaxExamples       int
}

func Default() Config {
	return Config{
		ListenAddr:          defaultListenAddr,
		MCPListenAddr:       defaultMCPListenAddr,
		ReadHeaderTimeout:   defaultReadHeaderTimeout,
		ShutdownTimeout:     defaultShutdownTimeout,
		RequestTimeout:      defaultRequestTimeout,
		EmbeddingDimensions: defaultDimensions,
		CacheTTL:            defaultCacheTTL,
		VoyageModel:         defaultVoyageModel,
		MaxCSVBytes:         defaultMaxCSVBytes,
		MaxRows:             defaultMaxRows,
		IgnoreErrors:        true,
		RetrieveLimit:       pipeline.DefaultRetrieveLimit,
		Threshold:           -1,
		DistinctThreshold:   pipeline.DefaultDistinctThreshold,
		MaxExamples:         pipeline.DefaultMaxExamples,
	}
}

// RegisterFlags binds c to fs using c's current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "enable verbose (debug) logging")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "address to listen on for prometheus metrics (empty to disable)")

	fs.StringVar(&c.ListenAddr, "listen-addr", c.ListenAddr, "HTTP API listen address")
	fs.StringVar(&c.MCPListenAddr, "mcp-listen-addr", c.MCPListenAddr, "MCP server listen address")
	fs.DurationVar(&c.ReadHeaderTimeout, "read-header-timeout", c.ReadHeaderTimeout, "HTTP read header timeout")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "server shutdown timeout")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "deadline for answering one question")
	fs.StringSliceVar(&c.AllowedOrigins, "allowed-origins", c.AllowedOrigins, "CORS origins allowed to call the API")
	fs.StringSliceVar(&c.AllowedTokens, "allowed-tokens", c.AllowedTokens, "bearer tokens accepted by the servers (empty disables auth)")

	fs.StringVar(&c.CatalogFile, "catalog-file", c.CatalogFile, "YAML catalog file used when no postgres url is set")
	fs.StringVar(&c.PostgresURL, "postgres-url", c.PostgresURL, "postgres connection string for the dataset catalog")
	fs.IntVar(&c.EmbeddingDimensions, "embedding-dimensions", c.EmbeddingDimensions, "embedding vector length")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", c.CacheTTL, "catalog lookup cache TTL (0 disables)")

	fs.StringVar(&c.AnthropicAPIKey, "anthropic-api-key", c.AnthropicAPIKey, "Anthropic API key")
	fs.StringVar(&c.AnthropicBaseURL, "anthropic-base-url", c.AnthropicBaseURL, "Anthropic API base URL override")
	fs.StringVar(&c.AnthropicModel, "anthropic-model", c.AnthropicModel, "Anthropic model")
	fs.StringVar(&c.VoyageAPIKey, "voyage-api-key", c.VoyageAPIKey, "Voyage AI API key")
	fs.StringVar(&c.VoyageBaseURL, "voyage-base-url", c.VoyageBaseURL, "Voyage AI API base URL override")
	fs.StringVar(&c.VoyageModel, "voyage-model", c.VoyageModel, "Voyage AI embedding model")

	fs.StringVar(&c.StorageBaseURL, "storage-base-url", c.StorageBaseURL, "base URL that storage-path CSV locations resolve against")
	fs.StringVar(&c.TempDir, "temp-dir", c.TempDir, "directory for downloaded CSV files")
	fs.Int64Var(&c.MaxCSVBytes, "max-csv-bytes", c.MaxCSVBytes, "largest CSV download accepted")
	fs.StringVar(&c.DuckMemoryLimit, "duckdb-memory-limit", c.DuckMemoryLimit, "memory limit per session database, e.g. 1GB")
	fs.IntVar(&c.DuckThreads, "duckdb-threads", c.DuckThreads, "threads per session database (0 for engine default)")
	fs.IntVar(&c.MaxRows, "max-rows", c.MaxRows, "rows returned per answer before truncation")
	fs.BoolVar(&c.IgnoreErrors, "csv-ignore-errors", c.IgnoreErrors, "skip CSV rows that fail to parse")
	fs.IntVar(&c.SampleSize, "csv-sample-size", c.SampleSize, "rows sniffed for CSV type detection (0 scans the whole file)")

	fs.IntVar(&c.RetrieveLimit, "retrieve-limit", c.RetrieveLimit, "candidate datasets retrieved per question")
	fs.Float64Var(&c.Threshold, "threshold", c.Threshold, "minimum retrieval similarity (-1 for no floor)")
	fs.IntVar(&c.DistinctThreshold, "distinct-threshold", c.DistinctThreshold, "distinct count above which column examples are sampled")
	fs.IntVar(&c.MaxExamples, "max-examples", c.MaxExamples, "examples drawn from high-cardinality columns")
}

// ApplyEnv sets every flag not given on the command line from its environment variable, if any.
func ApplyEnv(fs *flag.FlagSet, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	set := func(f *flag.Flag, key string) {
		if f.Changed {
			return
		}
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}
	fs.VisitAll(func(f *flag.Flag) {
		set(f, EnvKey(f.Name))
	})
	for key, name := range envAliases {
		if f := fs.Lookup(name); f != nil {
			set(f, key)
		}
	}
	return errors.Join(errs...)
}

// EnvKey returns the environment variable for a flag name.
func EnvKey(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// LoadDotEnv loads variables from the given files, or .env when none are given. Missing files are
// ignored and variables already in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.PostgresURL == "" && c.CatalogFile == "" {
		return errors.New("either postgres url or catalog file is required")
	}
	if c.EmbeddingDimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	if c.RetrieveLimit <= 0 {
		return errors.New("retrieve limit must be positive")
	}
	if c.Threshold > 1 {
		return fmt.Errorf("threshold must be at most 1, got %v", c.Threshold)
	}
	if c.DistinctThreshold <= 0 || c.MaxExamples <= 0 {
		return errors.New("distinct threshold and max examples must be positive")
	}
	if c.MaxExamples > c.DistinctThreshold {
		return fmt.Errorf("max examples (%d) must not exceed distinct threshold (%d)", c.MaxExamples, c.DistinctThreshold)
	}
	if c.MaxRows <= 0 {
		return errors.New("max rows must be positive")
	}
	if c.DuckThreads < 0 {
		return errors.New("duckdb threads must not be negative")
	}
	return nil
}

// ValidateModels checks the credentials needed to answer questions.
func (c *Config) ValidateModels() error {
	if c.AnthropicAPIKey == "" {
		return errors.New("anthropic api key is required (set ANTHROPIC_API_KEY)")
	}
	if c.VoyageAPIKey == "" {
		return errors.New("voyage api key is required (set VOYAGE_API_KEY)")
	}
	return nil
}

// SimilarityThreshold returns the retrieval floor, or nil for none.
func (c *Config) SimilarityThreshold() *float64 {
	if c.Threshold <= -1 {
		return nil
	}
	t := c.Threshold
	return &t
}
