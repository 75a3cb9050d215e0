package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/malbeclabs/civicdata/internal/embed"
)

const defaultIngestConcurrency = 4

// TitleEnhancer produces a clearer title for a dataset whose published title is terse.
type TitleEnhancer interface {
	EnhanceTitle(ctx context.Context, d Dataset) (string, error)
}

type IngesterConfig struct {
	Logger   *slog.Logger
	Embedder embed.Embedder
	Writer   Writer

	// Enhancer is optional; when set it fills EnhancedTitle for datasets that lack one.
	Enhancer    TitleEnhancer
	Concurrency int
	// Reembed recomputes embeddings that are already present.
	Reembed bool
}

func (cfg *IngesterConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Embedder == nil {
		return errors.New("embedder is required")
	}
	if cfg.Writer == nil {
		return errors.New("writer is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultIngestConcurrency
	}
	return nil
}

// Ingester embeds dataset metadata in document mode and writes it to the catalog.
type Ingester struct {
	log  *slog.Logger
	cfg  IngesterConfig
	pool pond.ResultPool[Dataset]
}

func NewIngester(cfg IngesterConfig) (*Ingester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate ingester config: %w", err)
	}
	return &Ingester{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[Dataset](cfg.Concurrency),
	}, nil
}

// Close waits for in-flight work and stops the worker pool.
func (i *Ingester) Close() {
	i.pool.StopAndWait()
}

// Ingest processes datasets concurrently and returns them with embeddings filled in, in input
// order. The first failure cancels the context of queued and running work.
func (i *Ingester) Ingest(ctx context.Context, datasets []Dataset) ([]Dataset, error) {
	group := i.pool.NewGroupContext(ctx)
	gctx := group.Context()
	for _, d := range datasets {
		group.SubmitErr(func() (Dataset, error) {
			return i.ingestOne(gctx, d)
		})
	}
	out, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to ingest datasets: %w", err)
	}
	i.log.Info("catalog: ingest complete", "datasets", len(out))
	return out, nil
}

func (i *Ingester) ingestOne(ctx context.Context, d Dataset) (Dataset, error) {
	if err := d.Validate(); err != nil {
		return Dataset{}, err
	}

	if d.EnhancedTitle == "" && i.cfg.Enhancer != nil {
		title, err := i.cfg.Enhancer.EnhanceTitle(ctx, d)
		if err != nil {
			i.log.Warn("catalog: failed to enhance title, keeping original", "id", d.ID, "error", err)
		} else {
			d.EnhancedTitle = strings.TrimSpace(title)
		}
	}

	if i.cfg.Reembed || len(d.TitleEmbedding) == 0 {
		vec, err := i.cfg.Embedder.Embed(ctx, titleText(d), embed.ModeDocument)
		if err != nil {
			return Dataset{}, fmt.Errorf("dataset %s: failed to embed title: %w", d.ID, err)
		}
		d.TitleEmbedding = vec
	}
	if i.cfg.Reembed || len(d.DescriptionEmbedding) == 0 {
		vec, err := i.cfg.Embedder.Embed(ctx, descriptionText(d), embed.ModeDocument)
		if err != nil {
			return Dataset{}, fmt.Errorf("dataset %s: failed to embed description: %w", d.ID, err)
		}
		d.DescriptionEmbedding = vec
	}

	if err := i.cfg.Writer.Upsert(ctx, d); err != nil {
		return Dataset{}, err
	}
	i.log.Debug("catalog: ingested dataset", "id", d.ID)
	return d, nil
}

func titleText(d Dataset) string {
	if d.EnhancedTitle != "" && d.EnhancedTitle != d.Title {
		return d.Title + "\n" + d.EnhancedTitle
	}
	return d.Title
}

func descriptionText(d Dataset) string {
	if d.Description == "" {
		return titleText(d)
	}
	return d.Description
}
