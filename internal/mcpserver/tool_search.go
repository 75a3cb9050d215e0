package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/malbeclabs/civicdata/internal/metrics"
	"github.com/malbeclabs/civicdata/internal/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const searchToolName = "search_datasets"

type SearchInput struct {
	Query     string   `json:"query" jsonschema:"what the user wants to know, in plain language"`
	Limit     int      `json:"limit,omitempty" jsonschema:"maximum datasets to return, default 15"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"minimum cosine similarity between -1 and 1"`
}

type DatasetSummary struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	SourceURL   string  `json:"source_url"`
	Similarity  float64 `json:"similarity"`
}

type SearchOutput struct {
	Datasets  []DatasetSummary `json:"datasets"`
	Reasoning string           `json:"reasoning"`
}

func RegisterSearchTool(log *slog.Logger, server *mcp.Server, p Pipeline) error {
	req, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s input schema: %w", searchToolName, err)
	}
	res, err := jsonschema.For[SearchOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s output schema: %w", searchToolName, err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: searchToolName,
		Description: `Find civic datasets relevant to a question, ranked best first.
Use the returned ids with "answer_question" to pick a specific dataset.`,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling search", "query", in.Query)

		out, err := handleSearch(ctx, p, in)
		observeTool(searchToolName, startTime, err)
		if err != nil {
			return nil, SearchOutput{}, err
		}
		return nil, out, nil
	})
	return nil
}

func handleSearch(ctx context.Context, p Pipeline, in SearchInput) (SearchOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return SearchOutput{}, fmt.Errorf("query is required")
	}
	if in.Limit < 0 || in.Limit > 100 {
		return SearchOutput{}, fmt.Errorf("limit must be between 1 and 100")
	}
	if in.Threshold != nil && (*in.Threshold < -1 || *in.Threshold > 1) {
		return SearchOutput{}, fmt.Errorf("threshold must be between -1 and 1")
	}

	ranking, err := p.Search(ctx, query, pipeline.RetrieveOptions{Limit: in.Limit, Threshold: in.Threshold})
	if err != nil {
		return SearchOutput{}, fmt.Errorf("failed to search datasets: %w", err)
	}
	out := SearchOutput{Datasets: make([]DatasetSummary, 0, len(ranking.Datasets)), Reasoning: ranking.Reasoning}
	for _, d := range ranking.Datasets {
		out.Datasets = append(out.Datasets, DatasetSummary{
			ID:          d.ID,
			Title:       d.DisplayTitle(),
			Description: truncate(d.Description, 300),
			SourceURL:   d.SourceURL,
			Similarity:  d.Similarity,
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := strings.LastIndex(s[:n], " ")
	if cut <= 0 {
		cut = n
	}
	return s[:cut] + "..."
}

func observeTool(name string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
	metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
