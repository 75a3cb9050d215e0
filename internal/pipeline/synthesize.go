package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/malbeclabs/civicdata/internal/duck"
	"github.com/malbeclabs/civicdata/internal/llm"
	"github.com/malbeclabs/civicdata/internal/metrics"
)

type synthesisInput struct {
	Question string
	Schema   duck.Schema
	Decision RelevanceDecision
	Examples []ColumnExamples
	Today    time.Time
}

type synthResult struct {
	SQL string `json:"sql" jsonschema:"a single DuckDB SELECT statement over the table named dataset"`
}

const synthesizeRequestName = "write_sql"

func (p *Pipeline) synthesize(ctx context.Context, in synthesisInput) (string, error) {
	res, err := llm.GenerateObject[synthResult](ctx, p.cfg.LLM, llm.Request{
		Name:        synthesizeRequestName,
		Description: "Return the SQL query that answers the question.",
		System:      p.prompts.Synthesize,
		Prompt:      synthesizePrompt(in),
	})
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues("synthesize", "error").Inc()
		return "", &SynthesisError{Stage: StageSynthesizing, Err: err}
	}
	metrics.LLMCallsTotal.WithLabelValues("synthesize", "success").Inc()

	sql := cleanSQL(res.SQL)
	if sql == "" {
		return "", &SynthesisError{Stage: StageSynthesizing, Err: errors.New("model returned empty sql")}
	}
	return sql, nil
}

func synthesizePrompt(in synthesisInput) string {
	var sb strings.Builder
	sb.WriteString("Table `dataset` schema:\n")
	sb.WriteString(in.Schema.Format())

	sb.WriteString("\nRelevant columns: ")
	sb.WriteString(strings.Join(in.Decision.Columns, ", "))
	if in.Decision.Reasoning != "" {
		sb.WriteString("\nWhy: ")
		sb.WriteString(in.Decision.Reasoning)
	}

	sb.WriteString("\n\nExample values:\n")
	for _, ex := range in.Examples {
		sb.WriteString(ex.Format())
		sb.WriteString("\n")
	}

	sb.WriteString("\nCurrent date: ")
	sb.WriteString(in.Today.Format(time.DateOnly))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(in.Question)
	sb.WriteString("\n")
	return sb.String()
}

var sqlFence = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")

// cleanSQL strips a markdown fence and trailing semicolons from model output.
func cleanSQL(sql string) string {
	if m := sqlFence.FindStringSubmatch(sql); m != nil {
		sql = m[1]
	}
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}
