package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/pipeline"
)

const (
	defaultReadHeaderTimeout = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultRequestTimeout    = 2 * time.Minute
	defaultSearchLimit       = 15
	maxSearchLimit           = 100
)

// Answerer is the question pipeline as used by the API.
type Answerer interface {
	Answer(ctx context.Context, question string, opts ...pipeline.Option) (*pipeline.Answer, error)
	AnswerWithDataset(ctx context.Context, question, datasetID string, opts ...pipeline.Option) (*pipeline.Answer, error)
	Search(ctx context.Context, query string, opts pipeline.RetrieveOptions) (*pipeline.Ranking, error)
}

type Config struct {
	Logger   *slog.Logger
	Listener net.Listener
	Pipeline Answerer
	Store    catalog.Store

	// Ready reports whether backing services are reachable. Optional.
	Ready func(ctx context.Context) error

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	// RequestTimeout bounds one answer request.
	RequestTimeout time.Duration

	AllowedOrigins []string
	// AllowedTokens are bearer tokens accepted on /api routes. Empty disables authentication.
	AllowedTokens []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pipeline == nil {
		return errors.New("pipeline is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return nil
}
