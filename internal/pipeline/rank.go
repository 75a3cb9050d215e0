package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/llm"
	"github.com/malbeclabs/civicdata/internal/metrics"
)

// Ranking is the candidate list reordered best first. The ranking is always a permutation of the
// retrieved candidates; FellBack is set when retrieval order was kept because the model's order
// was unusable.
type Ranking struct {
	Datasets  []catalog.Summary `json:"datasets"`
	Reasoning string            `json:"reasoning,omitempty"`
	FellBack  bool              `json:"fell_back,omitempty"`
}

type rankResult struct {
	Order     []int  `json:"order" jsonschema:"every candidate index exactly once, most useful first"`
	Reasoning string `json:"reasoning" jsonschema:"why the first dataset was chosen"`
}

const rankRequestName = "rank_datasets"

// rank reorders candidates by usefulness for question. It never fails: an unusable model answer
// falls back to retrieval order.
func (p *Pipeline) rank(ctx context.Context, question string, candidates []catalog.Summary) Ranking {
	if len(candidates) <= 1 {
		return Ranking{Datasets: candidates}
	}

	res, err := llm.GenerateObject[rankResult](ctx, p.cfg.LLM, llm.Request{
		Name:        rankRequestName,
		Description: "Order the candidate datasets from most to least useful for the question.",
		System:      p.prompts.Rank,
		Prompt:      rankPrompt(question, candidates),
	})
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues("rank", "error").Inc()
		p.log.Warn("pipeline: ranking failed, keeping retrieval order", "error", err)
		return fallbackRanking(candidates)
	}
	metrics.LLMCallsTotal.WithLabelValues("rank", "success").Inc()

	if !validPermutation(res.Order, len(candidates)) {
		p.log.Warn("pipeline: ranking is not a permutation, keeping retrieval order", "order", res.Order, "candidates", len(candidates))
		return fallbackRanking(candidates)
	}
	return Ranking{
		Datasets:  applyOrder(candidates, res.Order),
		Reasoning: res.Reasoning,
	}
}

func fallbackRanking(candidates []catalog.Summary) Ranking {
	metrics.RankerFallbacksTotal.Inc()
	return Ranking{Datasets: candidates, FellBack: true}
}

// validPermutation reports whether order contains each of 0..n-1 exactly once.
func validPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, i := range order {
		if i < 0 || i >= n || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}

func applyOrder(candidates []catalog.Summary, order []int) []catalog.Summary {
	out := make([]catalog.Summary, len(order))
	for pos, i := range order {
		out[pos] = candidates[i]
	}
	return out
}

func rankPrompt(question string, candidates []catalog.Summary) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nCandidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i, c.DisplayTitle())
		if c.Description != "" {
			sb.WriteString(strings.TrimSpace(c.Description))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
