package pipeline

import (
	"context"
	"errors"

	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/duck"
)

// inspect loads the dataset's CSV into a session table and reads its schema. On success the
// caller owns the table.
func (p *Pipeline) inspect(ctx context.Context, dataset catalog.Summary) (Table, duck.Schema, error) {
	location := dataset.CSVLocation
	if location == "" {
		return nil, nil, &LoadError{Stage: StageSchemaLoading, Location: location, Err: errors.New("dataset has no csv location")}
	}

	table, err := p.cfg.Loader.Load(ctx, location)
	if err != nil {
		return nil, nil, &LoadError{Stage: StageSchemaLoading, Location: location, Err: err}
	}
	schema, err := table.Describe(ctx)
	if err != nil {
		_ = table.Close()
		return nil, nil, &LoadError{Stage: StageSchemaLoading, Location: location, Err: err}
	}
	if len(schema) == 0 {
		_ = table.Close()
		return nil, nil, &LoadError{Stage: StageSchemaLoading, Location: location, Err: errors.New("table has no columns")}
	}
	p.log.Debug("pipeline: loaded table", "location", location, "columns", len(schema))
	return table, schema, nil
}
