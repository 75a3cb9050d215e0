package pipeline

import (
	"context"

	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/embed"
)

// RetrieveOptions override the configured retrieval limit and threshold for one search.
type RetrieveOptions struct {
	Limit     int
	Threshold *float64
}

// retrieve embeds question in query mode and returns the nearest datasets, best first.
func (p *Pipeline) retrieve(ctx context.Context, question string, opts RetrieveOptions) ([]catalog.Summary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = p.cfg.RetrieveLimit
	}
	threshold := opts.Threshold
	if threshold == nil {
		threshold = p.cfg.Threshold
	}

	vec, err := p.cfg.Embedder.Embed(ctx, question, embed.ModeQuery)
	if err != nil {
		return nil, &RetrievalError{Stage: StageRetrieving, Err: err}
	}
	results, err := p.cfg.Store.Search(ctx, vec, threshold, limit)
	if err != nil {
		return nil, &RetrievalError{Stage: StageRetrieving, Err: err}
	}
	p.log.Debug("pipeline: retrieved candidates", "count", len(results), "limit", limit)
	return results, nil
}
