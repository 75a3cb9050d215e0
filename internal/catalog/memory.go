package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryStore keeps the catalog in process. Search scores each dataset by the better of its title
// and description similarity.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets []Dataset
	byID     map[string]int
}

func NewMemoryStore(datasets []Dataset) (*MemoryStore, error) {
	s := &MemoryStore{byID: make(map[string]int, len(datasets))}
	for _, d := range datasets {
		if err := s.Upsert(context.Background(), d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) Upsert(_ context.Context, d Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.byID[d.ID]; ok {
		s.datasets[i] = d
		return nil
	}
	s.byID[d.ID] = len(s.datasets)
	s.datasets = append(s.datasets, d)
	return nil
}

func (s *MemoryStore) Search(_ context.Context, embedding []float32, threshold *float64, limit int) ([]Summary, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Summary, 0, len(s.datasets))
	for _, d := range s.datasets {
		if len(d.TitleEmbedding) == 0 && len(d.DescriptionEmbedding) == 0 {
			continue
		}
		sim := max(CosineSimilarity(embedding, d.DescriptionEmbedding), CosineSimilarity(embedding, d.TitleEmbedding))
		if threshold != nil && sim < *threshold {
			continue
		}
		sum := d.Summary()
		sum.Similarity = sim
		matches = append(matches, sum)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemoryStore) ListAll(context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, len(s.datasets))
	for i, d := range s.datasets {
		out[i] = d.Summary()
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.datasets[i].Summary(), nil
}

type catalogFile struct {
	Datasets []Dataset `yaml:"datasets"`
}

// LoadFile reads a YAML catalog of the form {datasets: [...]}.
func LoadFile(path string) ([]Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Datasets))
	for _, d := range f.Datasets {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("catalog %s: duplicate dataset id %s", path, d.ID)
		}
		seen[d.ID] = true
	}
	return f.Datasets, nil
}

// WriteFile writes datasets, embeddings included, as a YAML catalog.
func WriteFile(path string, datasets []Dataset) error {
	data, err := yaml.Marshal(catalogFile{Datasets: datasets})
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
