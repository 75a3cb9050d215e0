package mcpserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/malbeclabs/civicdata/internal/pipeline"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
	defaultRequestTimeout    = 2 * time.Minute
)

// Pipeline is the question pipeline as used by the tools.
type Pipeline interface {
	Answer(ctx context.Context, question string, opts ...pipeline.Option) (*pipeline.Answer, error)
	AnswerWithDataset(ctx context.Context, question, datasetID string, opts ...pipeline.Option) (*pipeline.Answer, error)
	Search(ctx context.Context, query string, opts pipeline.RetrieveOptions) (*pipeline.Ranking, error)
}

type Config struct {
	Logger   *slog.Logger
	Pipeline Pipeline

	// Ready reports whether backing services are reachable. Optional.
	Ready func(ctx context.Context) error

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	AllowedTokens     []string // Bearer tokens allowed for MCP endpoint authentication
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pipeline == nil {
		return errors.New("pipeline is required")
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return nil
}
