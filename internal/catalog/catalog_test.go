package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/malbeclabs/civicdata/internal/embed"
	"github.com/malbeclabs/civicdata/internal/logger"
	"github.com/stretchr/testify/require"
)

func testDatasets() []Dataset {
	return []Dataset{
		{
			ID:                   "accidents",
			Title:                "Traffic Crashes",
			EnhancedTitle:        "Traffic Crashes Resulting in Injury",
			Description:          "Crashes reported by SFPD",
			SourceURL:            "https://data.example.org/d/accidents",
			CSVLocation:          "csv/accidents.csv",
			TitleEmbedding:       []float32{1, 0, 0},
			DescriptionEmbedding: []float32{0.9, 0.1, 0},
		},
		{
			ID:                   "trees",
			Title:                "Street Tree List",
			Description:          "Trees maintained by the city",
			CSVLocation:          "csv/trees.csv",
			TitleEmbedding:       []float32{0, 1, 0},
			DescriptionEmbedding: []float32{0, 1, 0},
		},
		{
			ID:                   "permits",
			Title:                "Building Permits",
			Description:          "Permits filed",
			CSVLocation:          "csv/permits.csv",
			TitleEmbedding:       []float32{0.5, 0.5, 0},
			DescriptionEmbedding: []float32{0, 0, 1},
		},
		{
			ID:          "unindexed",
			Title:       "Not embedded yet",
			CSVLocation: "csv/unindexed.csv",
		},
	}
}

func ptr[T any](v T) *T { return &v }

func TestCatalog_CosineSimilarity(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	require.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	require.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	require.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestCatalog_MemoryStore_Search(t *testing.T) {
	t.Parallel()

	store, err := NewMemoryStore(testDatasets())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("orders by similarity and skips unembedded", func(t *testing.T) {
		t.Parallel()
		got, err := store.Search(ctx, []float32{1, 0, 0}, nil, 15)
		require.NoError(t, err)
		ids := make([]string, len(got))
		for i, s := range got {
			ids[i] = s.ID
		}
		require.Equal(t, []string{"accidents", "permits", "trees"}, ids)
		require.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	})

	t.Run("threshold and limit", func(t *testing.T) {
		t.Parallel()
		got, err := store.Search(ctx, []float32{1, 0, 0}, ptr(0.5), 15)
		require.NoError(t, err)
		require.Len(t, got, 2)

		got, err = store.Search(ctx, []float32{1, 0, 0}, nil, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = store.Search(ctx, []float32{1, 0, 0}, ptr(1.5), 15)
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("empty embedding", func(t *testing.T) {
		t.Parallel()
		_, err := store.Search(ctx, nil, nil, 15)
		require.Error(t, err)
	})
}

func TestCatalog_MemoryStore_GetAndList(t *testing.T) {
	t.Parallel()

	store, err := NewMemoryStore(testDatasets())
	require.NoError(t, err)
	ctx := context.Background()

	got, err := store.Get(ctx, "accidents")
	require.NoError(t, err)
	require.Equal(t, "Traffic Crashes Resulting in Injury", got.DisplayTitle())

	_, err = store.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	require.NoError(t, store.Upsert(ctx, Dataset{ID: "trees", Title: "Trees v2", CSVLocation: "csv/trees.csv"}))
	got, err = store.Get(ctx, "trees")
	require.NoError(t, err)
	require.Equal(t, "Trees v2", got.Title)

	require.Error(t, store.Upsert(ctx, Dataset{ID: "x"}))
}

func TestCatalog_File_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, WriteFile(path, testDatasets()))

	got, err := LoadFile(path)
	require.NoError(t, err)
	if diff := cmp.Diff(testDatasets(), got); diff != "" {
		t.Fatalf("catalog mismatch (-want +got):\n%s", diff)
	}

	dup := append(testDatasets(), testDatasets()[0])
	require.NoError(t, WriteFile(path, dup))
	_, err = LoadFile(path)
	require.ErrorContains(t, err, "duplicate dataset id")
}

type countingStore struct {
	Store
	gets  atomic.Int32
	lists atomic.Int32
}

func (c *countingStore) Get(ctx context.Context, id string) (Summary, error) {
	c.gets.Add(1)
	return c.Store.Get(ctx, id)
}

func (c *countingStore) ListAll(ctx context.Context) ([]Summary, error) {
	c.lists.Add(1)
	return c.Store.ListAll(ctx)
}

func TestCatalog_CachedStore(t *testing.T) {
	t.Parallel()

	mem, err := NewMemoryStore(testDatasets())
	require.NoError(t, err)
	inner := &countingStore{Store: mem}

	cached, err := NewCachedStore(CachedStoreConfig{Store: inner, TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(cached.Close)
	ctx := context.Background()

	for range 3 {
		_, err := cached.Get(ctx, "accidents")
		require.NoError(t, err)
		_, err = cached.ListAll(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), inner.gets.Load())
	require.Equal(t, int32(1), inner.lists.Load())

	_, err = cached.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = cached.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, int32(3), inner.gets.Load())

	cached.Invalidate()
	_, err = cached.ListAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), inner.lists.Load())
}

func TestCatalog_CachedStore_Expiry(t *testing.T) {
	t.Parallel()

	mem, err := NewMemoryStore(testDatasets())
	require.NoError(t, err)
	inner := &countingStore{Store: mem}

	cached, err := NewCachedStore(CachedStoreConfig{Store: inner, TTL: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(cached.Close)
	ctx := context.Background()

	_, err = cached.Get(ctx, "accidents")
	require.NoError(t, err)
	require.Equal(t, 1, cached.datasets.Len())

	// Expired entries are evicted in the background without being touched.
	require.Eventually(t, func() bool {
		return cached.datasets.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	_, err = cached.Get(ctx, "accidents")
	require.NoError(t, err)
	require.Equal(t, int32(2), inner.gets.Load())

	cached.Close()
	cached.Close()
}

type fakeEmbedder struct {
	mu    sync.Mutex
	modes []embed.Mode
	fail  string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, mode embed.Mode) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, mode)
	if f.fail != "" && text == f.fail {
		return nil, errors.New("embedding service unavailable")
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeEnhancer struct{}

func (fakeEnhancer) EnhanceTitle(_ context.Context, d Dataset) (string, error) {
	return " " + d.Title + " (enhanced) ", nil
}

func TestCatalog_Ingester(t *testing.T) {
	t.Parallel()

	t.Run("embeds in document mode and writes", func(t *testing.T) {
		t.Parallel()
		store, err := NewMemoryStore(nil)
		require.NoError(t, err)
		emb := &fakeEmbedder{}
		ing, err := NewIngester(IngesterConfig{Logger: logger.Discard(), Embedder: emb, Writer: store, Enhancer: fakeEnhancer{}})
		require.NoError(t, err)

		in := []Dataset{
			{ID: "a", Title: "Alpha", Description: "first", CSVLocation: "csv/a.csv"},
			{ID: "b", Title: "Beta", CSVLocation: "csv/b.csv", EnhancedTitle: "Beta Dataset"},
		}
		out, err := ing.Ingest(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, out, 2)
		require.Equal(t, "a", out[0].ID)
		require.Equal(t, "Alpha (enhanced)", out[0].EnhancedTitle)
		require.Equal(t, "Beta Dataset", out[1].EnhancedTitle)
		require.NotEmpty(t, out[0].TitleEmbedding)
		require.NotEmpty(t, out[1].DescriptionEmbedding)

		for _, m := range emb.modes {
			require.Equal(t, embed.ModeDocument, m)
		}
		require.Len(t, emb.modes, 4)

		got, err := store.Search(context.Background(), []float32{1, 1}, nil, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
	})

	t.Run("keeps existing embeddings", func(t *testing.T) {
		t.Parallel()
		store, err := NewMemoryStore(nil)
		require.NoError(t, err)
		emb := &fakeEmbedder{}
		ing, err := NewIngester(IngesterConfig{Logger: logger.Discard(), Embedder: emb, Writer: store})
		require.NoError(t, err)

		_, err = ing.Ingest(context.Background(), testDatasets()[:1])
		require.NoError(t, err)
		require.Empty(t, emb.modes)
	})

	t.Run("embedding failure aborts", func(t *testing.T) {
		t.Parallel()
		store, err := NewMemoryStore(nil)
		require.NoError(t, err)
		ing, err := NewIngester(IngesterConfig{Logger: logger.Discard(), Embedder: &fakeEmbedder{fail: "Alpha"}, Writer: store})
		require.NoError(t, err)

		_, err = ing.Ingest(context.Background(), []Dataset{{ID: "a", Title: "Alpha", CSVLocation: "csv/a.csv"}})
		require.ErrorContains(t, err, "embedding service unavailable")
	})

	t.Run("failure cancels running work", func(t *testing.T) {
		t.Parallel()
		store, err := NewMemoryStore(nil)
		require.NoError(t, err)
		emb := &blockingEmbedder{fail: "Alpha", started: make(chan struct{}), cancelled: make(chan struct{})}
		ing, err := NewIngester(IngesterConfig{Logger: logger.Discard(), Embedder: emb, Writer: store, Concurrency: 2})
		require.NoError(t, err)
		t.Cleanup(ing.Close)

		_, err = ing.Ingest(context.Background(), []Dataset{
			{ID: "a", Title: "Alpha", CSVLocation: "csv/a.csv"},
			{ID: "b", Title: "Beta", CSVLocation: "csv/b.csv"},
		})
		require.ErrorContains(t, err, "embedding service unavailable")

		select {
		case <-emb.cancelled:
		case <-time.After(5 * time.Second):
			t.Fatal("running embed call was not cancelled")
		}
	})
}

// blockingEmbedder fails for one text once every other call has started; the other calls block
// until their context is done.
type blockingEmbedder struct {
	fail      string
	started   chan struct{}
	cancelled chan struct{}
}

func (b *blockingEmbedder) Embed(ctx context.Context, text string, _ embed.Mode) ([]float32, error) {
	if text == b.fail {
		select {
		case <-b.started:
		case <-time.After(5 * time.Second):
		}
		return nil, errors.New("embedding service unavailable")
	}
	close(b.started)
	<-ctx.Done()
	close(b.cancelled)
	return nil, ctx.Err()
}
