package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/logger"
	"github.com/malbeclabs/civicdata/internal/pipeline"
	"github.com/malbeclabs/civicdata/internal/value"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu        sync.Mutex
	answer    *pipeline.Answer
	err       error
	ranking   *pipeline.Ranking
	datasetID string
	searchOpt pipeline.RetrieveOptions
}

func (f *fakePipeline) Answer(_ context.Context, _ string, _ ...pipeline.Option) (*pipeline.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answer, f.err
}

func (f *fakePipeline) AnswerWithDataset(_ context.Context, _, datasetID string, _ ...pipeline.Option) (*pipeline.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datasetID = datasetID
	return f.answer, f.err
}

func (f *fakePipeline) Search(_ context.Context, _ string, opts pipeline.RetrieveOptions) (*pipeline.Ranking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchOpt = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.ranking, nil
}

func testAnswer() *pipeline.Answer {
	return &pipeline.Answer{
		ID:       "run-1",
		Question: "how many accidents happened in 2023",
		SQL:      "SELECT COUNT(*) AS accidents FROM dataset",
		Columns:  []string{"accidents"},
		Rows:     []value.Row{{"accidents": value.Int(3)}},
		Dataset: pipeline.Provenance{
			ID:            "accidents",
			Title:         "Traffic Crashes",
			EnhancedTitle: "Traffic Crashes Reported to Police",
			SourceURL:     "https://data.example.org/d/accidents",
		},
		Reasoning: "incident_date gives the year",
	}
}

func testConfig(p Pipeline) Config {
	return Config{
		Logger:   logger.Discard(),
		Pipeline: p,
		Version:  "test",
	}
}

func TestMCPServer_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{Pipeline: &fakePipeline{}}
	require.ErrorContains(t, cfg.Validate(), "logger is required")

	cfg = Config{Logger: logger.Discard()}
	require.ErrorContains(t, cfg.Validate(), "pipeline is required")

	cfg = testConfig(&fakePipeline{})
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
}

func TestMCPServer_RegisterTools(t *testing.T) {
	t.Parallel()

	server := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "test"}, nil)
	require.NoError(t, RegisterSearchTool(logger.Discard(), server, &fakePipeline{}))
	require.NoError(t, RegisterAnswerTool(logger.Discard(), server, &fakePipeline{}, 0))
}

func TestMCPServer_HandleSearch(t *testing.T) {
	t.Parallel()

	t.Run("ranked datasets", func(t *testing.T) {
		t.Parallel()
		p := &fakePipeline{ranking: &pipeline.Ranking{
			Datasets: []catalog.Summary{
				{ID: "trees", Title: "Street Trees", Similarity: 0.8},
				{ID: "accidents", Title: "Traffic Crashes", EnhancedTitle: "Crashes by Date", Similarity: 0.7},
			},
			Reasoning: "trees first",
		}}
		threshold := 0.5
		out, err := handleSearch(context.Background(), p, SearchInput{Query: " trees ", Limit: 5, Threshold: &threshold})
		require.NoError(t, err)
		require.Len(t, out.Datasets, 2)
		assert.Equal(t, "trees", out.Datasets[0].ID)
		assert.Equal(t, "Crashes by Date", out.Datasets[1].Title)
		assert.Equal(t, "trees first", out.Reasoning)
		assert.Equal(t, 5, p.searchOpt.Limit)
		require.NotNil(t, p.searchOpt.Threshold)
		assert.InDelta(t, 0.5, *p.searchOpt.Threshold, 1e-9)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		p := &fakePipeline{ranking: &pipeline.Ranking{}}
		_, err := handleSearch(context.Background(), p, SearchInput{Query: "  "})
		require.ErrorContains(t, err, "query is required")
		_, err = handleSearch(context.Background(), p, SearchInput{Query: "x", Limit: 101})
		require.ErrorContains(t, err, "limit")
		bad := 1.5
		_, err = handleSearch(context.Background(), p, SearchInput{Query: "x", Threshold: &bad})
		require.ErrorContains(t, err, "threshold")
	})

	t.Run("pipeline error", func(t *testing.T) {
		t.Parallel()
		p := &fakePipeline{err: errors.New("embedding service down")}
		_, err := handleSearch(context.Background(), p, SearchInput{Query: "x"})
		require.ErrorContains(t, err, "embedding service down")
	})
}

func TestMCPServer_Truncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a quick...", truncate("a quick brown fox", 10))
	assert.Equal(t, "abcde...", truncate("abcdefghij", 5))
}

func TestMCPServer_HandleAnswer(t *testing.T) {
	t.Parallel()

	t.Run("answered", func(t *testing.T) {
		t.Parallel()
		p := &fakePipeline{answer: testAnswer()}
		out, err := handleAnswer(context.Background(), p, AnswerInput{Question: "how many accidents happened in 2023"})
		require.NoError(t, err)
		assert.True(t, out.Answered)
		assert.Equal(t, []string{"accidents"}, out.Columns)
		require.Len(t, out.Rows, 1)
		assert.Equal(t, "3", out.Rows[0]["accidents"])
		assert.Equal(t, 1, out.Count)
		assert.Equal(t, "accidents", out.DatasetID)
		assert.Equal(t, "Traffic Crashes Reported to Police", out.DatasetTitle)
		assert.Equal(t, "https://data.example.org/d/accidents", out.DatasetSource)
	})

	t.Run("pinned dataset", func(t *testing.T) {
		t.Parallel()
		p := &fakePipeline{answer: testAnswer()}
		_, err := handleAnswer(context.Background(), p, AnswerInput{Question: "q", DatasetID: "accidents"})
		require.NoError(t, err)
		assert.Equal(t, "accidents", p.datasetID)
	})

	t.Run("unanswerable is not a tool error", func(t *testing.T) {
		t.Parallel()
		p := &fakePipeline{err: &pipeline.UnanswerableError{
			Stage:     pipeline.StageFilteringRelevance,
			DatasetID: "trees",
			Reasoning: "the dataset has no salary information",
		}}
		out, err := handleAnswer(context.Background(), p, AnswerInput{Question: "average salary"})
		require.NoError(t, err)
		assert.False(t, out.Answered)
		assert.Equal(t, "the dataset has no salary information", out.Reasoning)
		assert.Equal(t, "trees", out.DatasetID)
		assert.Empty(t, out.Rows)
		assert.NotNil(t, out.Rows)
	})

	t.Run("failure", func(t *testing.T) {
		t.Parallel()
		p := &fakePipeline{err: &pipeline.ExecutionError{Stage: pipeline.StageExecuting, SQL: "SELECT nope", Err: errors.New("binder error")}}
		_, err := handleAnswer(context.Background(), p, AnswerInput{Question: "q"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "binder error")
		var ee *pipeline.ExecutionError
		assert.ErrorAs(t, err, &ee)
	})

	t.Run("empty question", func(t *testing.T) {
		t.Parallel()
		_, err := handleAnswer(context.Background(), &fakePipeline{}, AnswerInput{Question: " "})
		require.ErrorContains(t, err, "question is required")
	})
}

func TestMCPServer_RowValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "9223372036854775807", rowValue(value.Int(math.MaxInt64)))
	assert.Equal(t, "-9223372036854775808", rowValue(value.Int(math.MinInt64)))
	assert.Equal(t, 1.5, rowValue(value.Float(1.5)))
	assert.Equal(t, "x", rowValue(value.Text("x")))
	assert.Nil(t, rowValue(value.Null()))
	assert.Equal(t,
		[]any{"9007199254740993", map[string]any{"n": "9007199254740995", "ok": true}},
		rowValue(value.List(
			value.Int(9007199254740993),
			value.Struct(value.Field{Name: "n", Value: value.Int(9007199254740995)}, value.Field{Name: "ok", Value: value.Bool(true)}),
		)),
	)
	assert.Equal(t, "NaN", rowValue(value.Float(math.NaN())))
	_, err := json.Marshal(AnswerRow{"x": rowValue(value.Float(math.Inf(1)))})
	require.NoError(t, err)
}

func TestMCPServer_InMemorySession(t *testing.T) {
	t.Parallel()

	p := &fakePipeline{answer: testAnswer()}
	s, err := New(testConfig(p))
	require.NoError(t, err)

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{searchToolName, answerToolName}, names)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      answerToolName,
		Arguments: map[string]any{"question": "how many accidents happened in 2023"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	var out AnswerOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, out.Answered)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "accidents", out.DatasetID)
}

func TestMCPServer_InMemorySession_LargeIntegers(t *testing.T) {
	t.Parallel()

	answer := testAnswer()
	answer.Columns = []string{"above_double", "max"}
	answer.Rows = []value.Row{{
		"above_double": value.Int(9007199254740993),
		"max":          value.Int(math.MaxInt64),
	}}
	s, err := New(testConfig(&fakePipeline{answer: answer}))
	require.NoError(t, err)

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      answerToolName,
		Arguments: map[string]any{"question": "largest ids"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	var out AnswerOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "9007199254740993", out.Rows[0]["above_double"])
	assert.Equal(t, "9223372036854775807", out.Rows[0]["max"])

	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"9007199254740993"`)
	assert.Contains(t, text.Text, `"9223372036854775807"`)
}

func TestMCPServer_HealthAndAuth(t *testing.T) {
	t.Parallel()

	cfg := testConfig(&fakePipeline{})
	cfg.AllowedTokens = []string{"secret"}
	cfg.Ready = func(context.Context) error { return errors.New("postgres unreachable") }
	s, err := New(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMCPServer_Run_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(&fakePipeline{})
	cfg.ListenAddr = "127.0.0.1:0"
	s, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, nil) }()
	cancel()
	require.NoError(t, <-done)
}
