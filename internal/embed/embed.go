// Package embed turns text into vectors for dataset similarity search.
package embed

import (
	"context"
	"fmt"
)

// Mode selects the embedding space side. Queries and indexed documents must be embedded with
// the matching modes of the same model.
type Mode string

const (
	ModeQuery    Mode = "query"
	ModeDocument Mode = "document"
)

func (m Mode) Validate() error {
	switch m {
	case ModeQuery, ModeDocument:
		return nil
	}
	return fmt.Errorf("invalid embedding mode %q", string(m))
}

type Embedder interface {
	Embed(ctx context.Context, text string, mode Mode) ([]float32, error)
}

// BatchEmbedder embeds several texts in one request.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
}
