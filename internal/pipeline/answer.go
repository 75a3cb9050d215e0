package pipeline

import (
	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/duck"
	"github.com/malbeclabs/civicdata/internal/value"
)

// Provenance identifies the dataset an answer was computed from.
type Provenance struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	EnhancedTitle string `json:"enhanced_title,omitempty"`
	SourceURL     string `json:"source_url"`
}

// Answer is the result of one question. Row values keep their engine types through JSON.
type Answer struct {
	ID        string      `json:"id"`
	Question  string      `json:"question"`
	SQL       string      `json:"sql"`
	Columns   []string    `json:"columns"`
	Rows      []value.Row `json:"rows"`
	Truncated bool        `json:"truncated,omitempty"`
	Dataset   Provenance  `json:"dataset"`

	// Reasoning is the relevance filter's explanation of the columns used.
	Reasoning        string            `json:"reasoning,omitempty"`
	RankingReasoning string            `json:"ranking_reasoning,omitempty"`
	Alternatives     []catalog.Summary `json:"alternatives,omitempty"`
}

func assemble(id, question, sql string, dataset catalog.Summary, decision RelevanceDecision, result *duck.Result) *Answer {
	rows := result.Rows
	if rows == nil {
		rows = []value.Row{}
	}
	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}
	return &Answer{
		ID:        id,
		Question:  question,
		SQL:       sql,
		Columns:   columns,
		Rows:      rows,
		Truncated: result.Truncated,
		Dataset: Provenance{
			ID:            dataset.ID,
			Title:         dataset.Title,
			EnhancedTitle: dataset.EnhancedTitle,
			SourceURL:     dataset.SourceURL,
		},
		Reasoning: decision.Reasoning,
	}
}
