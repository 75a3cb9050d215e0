package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/civicdata/internal/duck"
)

// ColumnExamples is the example set for one column. Values holds every distinct non-null value
// when DistinctCount is at most the distinct threshold, and a fixed-size sample otherwise.
type ColumnExamples struct {
	Column        string   `json:"column"`
	Type          string   `json:"type"`
	DistinctCount int64    `json:"distinct_count"`
	Values        []string `json:"values"`
	Sampled       bool     `json:"sampled"`
}

// Format renders the example block included in the synthesis prompt.
func (c ColumnExamples) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- %s (%s), %d distinct", c.Column, c.Type, c.DistinctCount)
	if c.Sampled {
		fmt.Fprintf(&sb, ", sample of %d", len(c.Values))
	}
	sb.WriteString(": ")
	quoted := make([]string, len(c.Values))
	for i, v := range c.Values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	sb.WriteString(strings.Join(quoted, ", "))
	return sb.String()
}

// sample builds example sets for columns concurrently and returns them in column order.
func (p *Pipeline) sample(ctx context.Context, table Table, schema duck.Schema, columns []string) ([]ColumnExamples, error) {
	cols := make([]duck.Column, 0, len(columns))
	for _, name := range columns {
		col, ok := schema.Lookup(name)
		if !ok {
			return nil, &ExecutionError{Stage: StageSampling, Err: fmt.Errorf("column %q not in schema", name)}
		}
		cols = append(cols, col)
	}

	group := p.samplePool.NewGroupContext(ctx)
	gctx := group.Context()
	for _, col := range cols {
		group.SubmitErr(func() (ColumnExamples, error) {
			return p.sampleColumn(gctx, table, col)
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, &ExecutionError{Stage: StageSampling, Err: err}
	}

	byColumn := make(map[string]ColumnExamples, len(results))
	for _, r := range results {
		byColumn[r.Column] = r
	}
	out := make([]ColumnExamples, 0, len(cols))
	for _, col := range cols {
		if ex, ok := byColumn[col.Name]; ok {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (p *Pipeline) sampleColumn(ctx context.Context, table Table, col duck.Column) (ColumnExamples, error) {
	n, err := table.CountDistinct(ctx, col.Name)
	if err != nil {
		return ColumnExamples{}, err
	}
	ex := ColumnExamples{Column: col.Name, Type: col.Type, DistinctCount: n}
	if n > int64(p.cfg.DistinctThreshold) {
		ex.Sampled = true
		ex.Values, err = table.SampleDistinct(ctx, col.Name, p.cfg.MaxExamples)
	} else {
		ex.Values, err = table.DistinctValues(ctx, col.Name)
	}
	if err != nil {
		return ColumnExamples{}, err
	}
	return ex, nil
}
