package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultCacheTTL = 5 * time.Minute
	listAllCacheKey = "\x00all"
)

type CachedStoreConfig struct {
	Store Store
	TTL   time.Duration
}

func (cfg *CachedStoreConfig) Validate() error {
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	return nil
}

// CachedStore memoizes Get and ListAll for TTL. Search always goes to the underlying store since
// each question carries its own embedding. Hits do not extend an entry's lifetime.
type CachedStore struct {
	cfg      CachedStoreConfig
	datasets *ttlcache.Cache[string, Summary]
	lists    *ttlcache.Cache[string, []Summary]

	closeOnce sync.Once
}

// NewCachedStore starts background eviction of expired entries; Close stops it.
func NewCachedStore(cfg CachedStoreConfig) (*CachedStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &CachedStore{
		cfg: cfg,
		datasets: ttlcache.New(
			ttlcache.WithTTL[string, Summary](cfg.TTL),
			ttlcache.WithDisableTouchOnHit[string, Summary](),
		),
		lists: ttlcache.New(
			ttlcache.WithTTL[string, []Summary](cfg.TTL),
			ttlcache.WithDisableTouchOnHit[string, []Summary](),
		),
	}
	go s.datasets.Start()
	go s.lists.Start()
	return s, nil
}

func (s *CachedStore) Search(ctx context.Context, embedding []float32, threshold *float64, limit int) ([]Summary, error) {
	return s.cfg.Store.Search(ctx, embedding, threshold, limit)
}

func (s *CachedStore) Get(ctx context.Context, id string) (Summary, error) {
	if item := s.datasets.Get(id); item != nil {
		return item.Value(), nil
	}
	sum, err := s.cfg.Store.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	s.datasets.Set(id, sum, ttlcache.DefaultTTL)
	return sum, nil
}

func (s *CachedStore) ListAll(ctx context.Context) ([]Summary, error) {
	if item := s.lists.Get(listAllCacheKey); item != nil {
		return append([]Summary(nil), item.Value()...), nil
	}
	all, err := s.cfg.Store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	s.lists.Set(listAllCacheKey, append([]Summary(nil), all...), ttlcache.DefaultTTL)
	return all, nil
}

// Invalidate drops every cached entry.
func (s *CachedStore) Invalidate() {
	s.datasets.DeleteAll()
	s.lists.DeleteAll()
}

// Close stops background eviction. The underlying store is not closed.
func (s *CachedStore) Close() {
	s.closeOnce.Do(func() {
		s.datasets.Stop()
		s.lists.Stop()
	})
}
