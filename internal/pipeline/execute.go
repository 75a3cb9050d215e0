package pipeline

import (
	"context"

	"github.com/malbeclabs/civicdata/internal/duck"
)

// execute runs sql once against the session table.
func (p *Pipeline) execute(ctx context.Context, table Table, sql string) (*duck.Result, error) {
	res, err := table.Run(ctx, sql)
	if err != nil {
		return nil, &ExecutionError{Stage: StageExecuting, SQL: sql, Err: err}
	}
	p.log.Debug("pipeline: executed query", "rows", len(res.Rows), "truncated", res.Truncated)
	return res, nil
}
