package pipeline

import (
	"context"
	"strings"

	"github.com/malbeclabs/civicdata/internal/duck"
	"github.com/malbeclabs/civicdata/internal/llm"
	"github.com/malbeclabs/civicdata/internal/metrics"
)

// RelevanceDecision says whether the table can answer the question and which of its columns are
// needed. Columns are canonical schema names; when CanAnswer is false Columns is empty.
type RelevanceDecision struct {
	CanAnswer bool     `json:"can_answer"`
	Columns   []string `json:"columns"`
	Reasoning string   `json:"reasoning"`
}

type relevanceResult struct {
	CanAnswer bool     `json:"canAnswer" jsonschema:"true only if the table holds every field the question needs"`
	Columns   []string `json:"columns" jsonschema:"column names exactly as listed, empty when canAnswer is false"`
	Reasoning string   `json:"reasoning" jsonschema:"one or two sentences explaining the decision to the user"`
}

const relevanceRequestName = "select_columns"

func (p *Pipeline) filterRelevance(ctx context.Context, question string, schema duck.Schema) (RelevanceDecision, error) {
	res, err := llm.GenerateObject[relevanceResult](ctx, p.cfg.LLM, llm.Request{
		Name:        relevanceRequestName,
		Description: "Decide whether the table can answer the question and list the columns needed.",
		System:      p.prompts.Relevance,
		Prompt:      relevancePrompt(question, schema),
	})
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues("relevance", "error").Inc()
		return RelevanceDecision{}, &SynthesisError{Stage: StageFilteringRelevance, Err: err}
	}
	metrics.LLMCallsTotal.WithLabelValues("relevance", "success").Inc()

	decision := RelevanceDecision{
		CanAnswer: res.CanAnswer,
		Columns:   []string{},
		Reasoning: strings.TrimSpace(res.Reasoning),
	}
	if !decision.CanAnswer {
		return decision, nil
	}

	columns, unknown := canonicalColumns(schema, res.Columns)
	if len(unknown) > 0 {
		p.log.Warn("pipeline: relevance named unknown columns", "columns", unknown)
	}
	if len(columns) == 0 {
		decision.CanAnswer = false
		if decision.Reasoning == "" {
			decision.Reasoning = "None of the columns needed to answer this question exist in the dataset."
		}
		return decision, nil
	}
	decision.Columns = columns
	return decision, nil
}

// canonicalColumns maps names to the schema's spelling, dropping duplicates and names the schema
// does not have.
func canonicalColumns(schema duck.Schema, names []string) (columns, unknown []string) {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		col, ok := schema.Lookup(strings.TrimSpace(name))
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if seen[col.Name] {
			continue
		}
		seen[col.Name] = true
		columns = append(columns, col.Name)
	}
	return columns, unknown
}

func relevancePrompt(question string, schema duck.Schema) string {
	var sb strings.Builder
	sb.WriteString("Columns of table `dataset`:\n")
	sb.WriteString(schema.Format())
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	return sb.String()
}
