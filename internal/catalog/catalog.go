// Package catalog is the read-mostly store of dataset metadata and embeddings.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var ErrNotFound = errors.New("dataset not found")

// Dataset is one civic CSV table and its descriptive metadata.
type Dataset struct {
	ID                   string    `yaml:"id" json:"id"`
	Title                string    `yaml:"title" json:"title"`
	EnhancedTitle        string    `yaml:"enhanced_title,omitempty" json:"enhanced_title,omitempty"`
	Description          string    `yaml:"description" json:"description"`
	SourceURL            string    `yaml:"source_url" json:"source_url"`
	CSVLocation          string    `yaml:"csv_location" json:"csv_location"`
	TitleEmbedding       []float32 `yaml:"title_embedding,omitempty" json:"-"`
	DescriptionEmbedding []float32 `yaml:"description_embedding,omitempty" json:"-"`
}

func (d Dataset) Validate() error {
	if d.ID == "" {
		return errors.New("dataset id is required")
	}
	if d.CSVLocation == "" {
		return fmt.Errorf("dataset %s: csv location is required", d.ID)
	}
	if len(d.TitleEmbedding) > 0 && len(d.DescriptionEmbedding) > 0 && len(d.TitleEmbedding) != len(d.DescriptionEmbedding) {
		return fmt.Errorf("dataset %s: title and description embeddings differ in length", d.ID)
	}
	return nil
}

// Summary returns the user-facing view of d, without embeddings.
func (d Dataset) Summary() Summary {
	return Summary{
		ID:            d.ID,
		Title:         d.Title,
		EnhancedTitle: d.EnhancedTitle,
		Description:   d.Description,
		SourceURL:     d.SourceURL,
		CSVLocation:   d.CSVLocation,
	}
}

// Summary is a dataset as returned by lookups. Similarity is set by Search only.
type Summary struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	EnhancedTitle string  `json:"enhanced_title,omitempty"`
	Description   string  `json:"description"`
	SourceURL     string  `json:"source_url"`
	CSVLocation   string  `json:"csv_location"`
	Similarity    float64 `json:"similarity,omitempty"`
}

// DisplayTitle prefers the enhanced title.
func (s Summary) DisplayTitle() string {
	if s.EnhancedTitle != "" {
		return s.EnhancedTitle
	}
	return s.Title
}

// Store is the dataset catalog as consumed by the question pipeline. Implementations are safe for
// concurrent use.
type Store interface {
	// Search returns up to limit datasets ordered by descending cosine similarity to embedding.
	// A nil threshold applies no similarity floor.
	Search(ctx context.Context, embedding []float32, threshold *float64, limit int) ([]Summary, error)
	ListAll(ctx context.Context) ([]Summary, error)
	Get(ctx context.Context, id string) (Summary, error)
}

// Writer persists datasets produced by ingestion.
type Writer interface {
	Upsert(ctx context.Context, d Dataset) error
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when either is empty,
// zero or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
