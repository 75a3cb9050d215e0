package pipeline

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/civicdata/internal/pipeline/prompts"
)

// Prompts holds the system prompts for each model call, loaded from embedded files.
type Prompts struct {
	Rank       string
	Relevance  string
	Synthesize string // includes the dialect rules and checklist
}

func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Rank, err = loadPrompt("RANK.md"); err != nil {
		return nil, fmt.Errorf("failed to load RANK: %w", err)
	}
	if p.Relevance, err = loadPrompt("RELEVANCE.md"); err != nil {
		return nil, fmt.Errorf("failed to load RELEVANCE: %w", err)
	}
	if p.Synthesize, err = loadPrompt("SYNTHESIZE.md"); err != nil {
		return nil, fmt.Errorf("failed to load SYNTHESIZE: %w", err)
	}
	dialect, err := loadPrompt("DUCKDB_DIALECT.md")
	if err != nil {
		return nil, fmt.Errorf("failed to load DUCKDB_DIALECT: %w", err)
	}
	checklist, err := loadPrompt("SQL_CHECKLIST.md")
	if err != nil {
		return nil, fmt.Errorf("failed to load SQL_CHECKLIST: %w", err)
	}

	p.Synthesize = strings.Replace(p.Synthesize, "{{DIALECT_RULES}}", dialect, 1)
	p.Synthesize = strings.Replace(p.Synthesize, "{{CHECKLIST}}", checklist, 1)

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
