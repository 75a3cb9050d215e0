package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/config"
)

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, catalog.WriteFile(path, []catalog.Dataset{{
		ID:                   "accidents",
		Title:                "Traffic Crashes",
		CSVLocation:          "csv/accidents.csv",
		TitleEmbedding:       []float32{1, 0},
		DescriptionEmbedding: []float32{1, 0},
	}}))
	return path
}

func TestApp_OpenCatalog_File(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.CatalogFile = writeCatalog(t)

	cat, err := OpenCatalog(context.Background(), log, cfg)
	require.NoError(t, err)
	defer cat.Close()

	assert.Nil(t, cat.Writer)
	require.NoError(t, cat.Ping(context.Background()))
	_, cached := cat.Store.(*catalog.CachedStore)
	assert.True(t, cached)

	d, err := cat.Store.Get(context.Background(), "accidents")
	require.NoError(t, err)
	assert.Equal(t, "Traffic Crashes", d.Title)
}

func TestApp_OpenCatalog_NoCache(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.CatalogFile = writeCatalog(t)
	cfg.CacheTTL = 0

	cat, err := OpenCatalog(context.Background(), log, cfg)
	require.NoError(t, err)
	defer cat.Close()
	_, mem := cat.Store.(*catalog.MemoryStore)
	assert.True(t, mem)
}

func TestApp_OpenCatalog_Errors(t *testing.T) {
	t.Parallel()

	_, err := OpenCatalog(context.Background(), log, config.Default())
	require.ErrorContains(t, err, "either postgres url or catalog file is required")

	cfg := config.Default()
	cfg.CatalogFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = OpenCatalog(context.Background(), log, cfg)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestApp_New_RequiresModelKeys(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.CatalogFile = writeCatalog(t)
	_, err := New(context.Background(), log, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}
