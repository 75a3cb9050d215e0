package duck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/duckdb/duckdb-go/v2"
)

// ErrNotReadOnly is returned by Run for anything other than a single SELECT statement.
var ErrNotReadOnly = errors.New("only a single read-only query is allowed")

// checkReadOnly rejects multi-statement text, then prepares the query and checks the statement
// type the engine reports. Preparing one statement does not execute it.
func checkReadOnly(ctx context.Context, conn *sql.Conn, query string) error {
	if hasMultipleStatements(query) {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	return conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		s, err := c.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer s.Close()
		stmt, ok := s.(*duckdb.Stmt)
		if !ok {
			return fmt.Errorf("unexpected driver statement %T", s)
		}
		typ, err := stmt.StatementType()
		if err != nil {
			return fmt.Errorf("failed to get statement type: %w", err)
		}
		if typ != duckdb.STATEMENT_TYPE_SELECT {
			return fmt.Errorf("%w: statement type %d", ErrNotReadOnly, typ)
		}
		return nil
	})
}

// hasMultipleStatements reports whether a semicolon outside quotes and comments is followed by
// anything other than whitespace, comments, or more semicolons.
func hasMultipleStatements(query string) bool {
	seen := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"':
			end := strings.IndexByte(query[i+1:], c)
			if end < 0 {
				return seen
			}
			if seen {
				return true
			}
			i += end + 1
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				return false
			}
			i += end
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 3
		case c == ';':
			seen = true
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		default:
			if seen {
				return true
			}
		}
	}
	return false
}
