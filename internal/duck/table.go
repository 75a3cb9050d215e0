package duck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/malbeclabs/civicdata/internal/csvsource"
	"github.com/malbeclabs/civicdata/internal/value"
)

// Table is a session table loaded from one CSV source. Safe for concurrent reads.
type Table struct {
	log      *slog.Logger
	db       *sql.DB
	file     *csvsource.File
	location string
	maxRows  int

	closeOnce sync.Once
	closeErr  error
}

// Result holds the rows produced by Run in engine order.
type Result struct {
	Columns   []string
	Rows      []value.Row
	Truncated bool
}

func (t *Table) Location() string { return t.location }

func (t *Table) Describe(ctx context.Context) (Schema, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = ?
		ORDER BY ordinal_position
	`, TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	defer rows.Close()

	var schema Schema
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		schema = append(schema, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	return schema, nil
}

// Run executes query once and converts every cell to a value.Value. Only a single read-only
// statement is accepted; anything else fails with ErrNotReadOnly without being executed.
func (t *Table) Run(ctx context.Context, query string) (*Result, error) {
	conn, err := t.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if err := checkReadOnly(ctx, conn, query); err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columns := uniqueNames(names)
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}
	dbTypes := make([]string, len(types))
	for i, ct := range types {
		dbTypes[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	res := &Result{Columns: columns, Rows: []value.Row{}}
	for rows.Next() {
		if len(res.Rows) >= t.maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(value.Row, len(columns))
		for i, col := range columns {
			row[col] = columnValue(vals[i], dbTypes[i])
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if res.Truncated {
		t.log.Warn("duck: result truncated", "location", t.location, "maxRows", t.maxRows)
	}
	return res, nil
}

// CountDistinct returns the number of distinct non-null values in column.
func (t *Table) CountDistinct(ctx context.Context, column string) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", QuoteIdent(column), QuoteIdent(TableName))
	if err := t.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count distinct values of %s: %w", column, err)
	}
	return n, nil
}

// DistinctValues returns every distinct non-null value of column in sort order, rendered as text.
func (t *Table) DistinctValues(ctx context.Context, column string) ([]string, error) {
	return t.distinct(ctx, column, "o", -1)
}

// SampleDistinct returns n distinct non-null values of column. The choice is spread across the
// column by hash and is stable between runs.
func (t *Table) SampleDistinct(ctx context.Context, column string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	return t.distinct(ctx, column, "hash(o), o", n)
}

func (t *Table) distinct(ctx context.Context, column, orderBy string, limit int) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT CAST(o AS VARCHAR) FROM (SELECT DISTINCT %s AS o FROM %s WHERE %s IS NOT NULL) ORDER BY %s",
		QuoteIdent(column), QuoteIdent(TableName), QuoteIdent(column), orderBy,
	)
	if limit >= 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to sample values of %s: %w", column, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan value of %s: %w", column, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close releases the database and any downloaded source file. Safe to call more than once.
func (t *Table) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = errors.Join(t.db.Close(), t.file.Close())
	})
	return t.closeErr
}

// columnValue converts a scanned cell using the column's engine type where the Go scan type
// alone is ambiguous.
func columnValue(x any, dbType string) value.Value {
	if x == nil {
		return value.Null()
	}
	switch dbType {
	case "UUID":
		switch v := x.(type) {
		case []byte:
			if id, err := uuid.FromBytes(v); err == nil {
				return value.Text(id.String())
			}
		case fmt.Stringer:
			return value.Text(v.String())
		}
	case "TIME":
		if ts, ok := x.(time.Time); ok {
			return value.Text(ts.Format("15:04:05.999999"))
		}
	case "TIMETZ":
		if ts, ok := x.(time.Time); ok {
			return value.Text(ts.Format("15:04:05.999999-07:00"))
		}
	}
	return toValue(x)
}

func toValue(x any) value.Value {
	switch v := x.(type) {
	case duckdb.Decimal:
		return decimalValue(v)
	case duckdb.Interval:
		return value.Text(fmt.Sprintf("%d months %d days %d microseconds", v.Months, v.Days, v.Micros))
	case duckdb.Map:
		fields := make([]value.Field, 0, len(v))
		for k, item := range v {
			fields = append(fields, value.Field{Name: fmt.Sprint(k), Value: toValue(item)})
		}
		sortFields(fields)
		return value.Struct(fields...)
	case []any:
		items := make([]value.Value, len(v))
		for i, item := range v {
			items[i] = toValue(item)
		}
		return value.List(items...)
	case map[string]any:
		fields := make([]value.Field, 0, len(v))
		for k, item := range v {
			fields = append(fields, value.Field{Name: k, Value: toValue(item)})
		}
		sortFields(fields)
		return value.Struct(fields...)
	default:
		return value.FromAny(x)
	}
}

// decimalValue keeps a decimal as a float only when the float prints back to the same number.
// Otherwise the exact decimal text is returned.
func decimalValue(d duckdb.Decimal) value.Value {
	if d.Value == nil {
		return value.Null()
	}
	if d.Scale == 0 {
		return value.FromAny(d.Value)
	}
	exact := formatDecimal(d.Value, int(d.Scale))
	f := d.Float64()
	if strconv.FormatFloat(f, 'f', -1, 64) == trimDecimal(exact) {
		return value.Float(f)
	}
	return value.Text(exact)
}

func formatDecimal(unscaled *big.Int, scale int) string {
	digits := new(big.Int).Abs(unscaled).String()
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale
	s := digits[:point] + "." + digits[point:]
	if unscaled.Sign() < 0 {
		s = "-" + s
	}
	return s
}

func trimDecimal(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func uniqueNames(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		n := seen[name]
		seen[name] = n + 1
		if n == 0 {
			out[i] = name
			continue
		}
		candidate := fmt.Sprintf("%s_%d", name, n)
		for seen[candidate] > 0 {
			n++
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		seen[candidate] = 1
		out[i] = candidate
	}
	return out
}
