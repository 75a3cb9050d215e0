package catalog

import (
	"context"
	"testing"

	"github.com/malbeclabs/civicdata/internal/logger"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestCatalog_PostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("civicdata"),
		postgres.WithUsername("civicdata"),
		postgres.WithPassword("civicdata"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to cleanup postgres container: %v", err)
		}
	}()

	url, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewPostgresStore(ctx, PostgresConfig{Logger: logger.Discard(), URL: url, Dimensions: 3})
	require.NoError(t, err)
	defer store.Close()

	for _, d := range testDatasets() {
		require.NoError(t, store.Upsert(ctx, d))
	}

	got, err := store.Search(ctx, []float32{1, 0, 0}, nil, 15)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	require.Equal(t, []string{"accidents", "permits", "trees"}, ids)
	require.InDelta(t, 1.0, got[0].Similarity, 1e-6)

	got, err = store.Search(ctx, []float32{1, 0, 0}, ptr(0.5), 15)
	require.NoError(t, err)
	require.Len(t, got, 2)

	sum, err := store.Get(ctx, "accidents")
	require.NoError(t, err)
	require.Equal(t, "csv/accidents.csv", sum.CSVLocation)
	require.Zero(t, sum.Similarity)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	// Re-running migrations against an existing table is a no-op.
	again, err := NewPostgresStore(ctx, PostgresConfig{Logger: logger.Discard(), URL: url, Dimensions: 3})
	require.NoError(t, err)
	again.Close()
}
