package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/malbeclabs/civicdata/internal/csvsource"
	"github.com/malbeclabs/civicdata/internal/duck"
	"github.com/malbeclabs/civicdata/internal/logger"
	"github.com/stretchr/testify/require"
)

// cardinalityCSV has columns whose distinct counts straddle the default threshold.
func cardinalityCSV() string {
	var sb strings.Builder
	sb.WriteString("id,code50,code51,flag,note\n")
	for i := 0; i < 200; i++ {
		note := ""
		if i%2 == 0 {
			note = fmt.Sprintf("n%d", i%3)
		}
		fmt.Fprintf(&sb, "%d,c%02d,k%02d,%s,%s\n", i, i%50, i%51, []string{"red", "blue"}[i%2], note)
	}
	return sb.String()
}

func loadTable(t *testing.T, content string) Table {
	t.Helper()
	log := logger.Discard()
	fetcher, err := csvsource.New(csvsource.Config{Logger: log, TempDir: t.TempDir()})
	require.NoError(t, err)
	engine, err := duck.New(duck.Config{Logger: log, Fetcher: fetcher, Threads: 1})
	require.NoError(t, err)
	table, err := DuckLoader(engine, duck.LoadOptions{}).Load(context.Background(), writeCSV(t, "data.csv", content))
	require.NoError(t, err)
	t.Cleanup(func() { _ = table.Close() })
	return table
}

func TestPipeline_Sample(t *testing.T) {
	t.Parallel()

	table := loadTable(t, cardinalityCSV())
	schema, err := table.Describe(context.Background())
	require.NoError(t, err)
	env := newTestEnv(t, nil, newScriptedLLM())

	columns := []string{"note", "id", "code50", "code51", "flag"}
	examples, err := env.pipeline.sample(context.Background(), table, schema, columns)
	require.NoError(t, err)
	require.Len(t, examples, len(columns))

	byColumn := map[string]ColumnExamples{}
	for i, ex := range examples {
		require.Equal(t, columns[i], ex.Column, "examples are in column order")
		byColumn[ex.Column] = ex
	}

	// At or below the threshold every distinct value is listed.
	require.Equal(t, int64(50), byColumn["code50"].DistinctCount)
	require.Len(t, byColumn["code50"].Values, 50)
	require.False(t, byColumn["code50"].Sampled)
	require.Equal(t, "c00", byColumn["code50"].Values[0])

	require.Equal(t, []string{"blue", "red"}, byColumn["flag"].Values)
	require.Equal(t, []string{"n0", "n1", "n2"}, byColumn["note"].Values, "nulls are excluded")

	// Above the threshold exactly the example cap is drawn.
	require.Equal(t, int64(51), byColumn["code51"].DistinctCount)
	require.Len(t, byColumn["code51"].Values, DefaultMaxExamples)
	require.True(t, byColumn["code51"].Sampled)
	require.Equal(t, int64(200), byColumn["id"].DistinctCount)
	require.Len(t, byColumn["id"].Values, DefaultMaxExamples)

	distinct := map[string]bool{}
	for _, v := range byColumn["id"].Values {
		require.False(t, distinct[v])
		distinct[v] = true
	}

	again, err := env.pipeline.sample(context.Background(), table, schema, []string{"id"})
	require.NoError(t, err)
	require.Equal(t, byColumn["id"].Values, again[0].Values, "sampling is stable")
}

func TestPipeline_Sample_UnknownColumn(t *testing.T) {
	t.Parallel()

	table := loadTable(t, "a,b\n1,2\n")
	schema, err := table.Describe(context.Background())
	require.NoError(t, err)
	env := newTestEnv(t, nil, newScriptedLLM())

	_, err = env.pipeline.sample(context.Background(), table, schema, []string{"a", "zzz"})
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, StageSampling, ee.Stage)
}

// blockingTable fails CountDistinct for one column once every other column has started; the others
// block until their context is done.
type blockingTable struct {
	Table
	fail      string
	started   chan struct{}
	cancelled chan struct{}
}

func (b *blockingTable) CountDistinct(ctx context.Context, column string) (int64, error) {
	if column == b.fail {
		select {
		case <-b.started:
		case <-time.After(5 * time.Second):
		}
		return 0, errors.New("count failed")
	}
	close(b.started)
	<-ctx.Done()
	close(b.cancelled)
	return 0, ctx.Err()
}

func TestPipeline_Sample_FailureCancelsRunningColumns(t *testing.T) {
	t.Parallel()

	inner := loadTable(t, "a,b\n1,2\n")
	schema, err := inner.Describe(context.Background())
	require.NoError(t, err)
	table := &blockingTable{Table: inner, fail: "a", started: make(chan struct{}), cancelled: make(chan struct{})}
	env := newTestEnv(t, nil, newScriptedLLM())

	_, err = env.pipeline.sample(context.Background(), table, schema, []string{"a", "b"})
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, StageSampling, ee.Stage)
	require.ErrorContains(t, err, "count failed")

	select {
	case <-table.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("running column sample was not cancelled")
	}
}

func TestPipeline_ColumnExamples_Format(t *testing.T) {
	t.Parallel()

	ex := ColumnExamples{Column: "neighborhood", Type: "VARCHAR", DistinctCount: 2, Values: []string{"Mission", `Bayview "Hunters Point"`}}
	require.Equal(t, `- neighborhood (VARCHAR), 2 distinct: "Mission", "Bayview \"Hunters Point\""`, ex.Format())

	ex = ColumnExamples{Column: "id", Type: "BIGINT", DistinctCount: 200, Values: []string{"1", "2"}, Sampled: true}
	require.Equal(t, `- id (BIGINT), 200 distinct, sample of 2: "1", "2"`, ex.Format())
}
