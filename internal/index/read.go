package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cairndb/cairn/internal/errs"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// Get returns the entry with the given oid, Short projection included.
func (s *Store) Get(ctx context.Context, oid int64) (Entry, error) {
	return getTx(ctx, s.db, oid)
}

func getTx(ctx context.Context, q querier, oid int64) (Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryShortColumns+` FROM EntryShort WHERE oid=?`, oid)
	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return Entry{}, errs.NotFound(fmt.Sprintf("oid %d", oid))
		}
		return Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// GetByUID returns the entry with the given permanent identifier.
func (s *Store) GetByUID(ctx context.Context, uid string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryShortColumns+` FROM EntryShort WHERE uid=?`, uid)
	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return Entry{}, errs.NotFound("uid " + uid)
		}
		return Entry{}, fmt.Errorf("get entry by uid: %w", err)
	}
	return e, nil
}

// Query runs a read-only projection and returns one map per row, keyed by
// column name. Only SELECT statements are accepted and only a single
// statement per call; all values must be bound through params, never
// interpolated. Mutation never goes through here.
func (s *Store) Query(ctx context.Context, statement string, params map[string]any) ([]map[string]any, error) {
	if err := checkReadOnly(statement); err != nil {
		return nil, err
	}

	args := make([]any, 0, len(params))
	for k, v := range params {
		args = append(args, sql.Named(k, v))
	}
	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query: columns: %w", err)
	}

	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				m[c] = string(b)
			} else {
				m[c] = vals[i]
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: iterate: %w", err)
	}
	return out, nil
}

// checkReadOnly rejects anything but a single SELECT statement. The guard
// is a gatekeeper, not a parser: the statement is forwarded verbatim once
// its read intent is established.
func checkReadOnly(statement string) error {
	trimmed := strings.TrimSpace(statement)
	if !strings.HasPrefix(strings.ToLower(trimmed), "select ") {
		return fmt.Errorf("query must be a SELECT statement")
	}
	if i := strings.IndexByte(trimmed, ';'); i >= 0 && strings.TrimSpace(trimmed[i+1:]) != "" {
		return fmt.Errorf("query must be a single statement")
	}
	return nil
}

// statColumns is the allowlist of grouping projections for Stats.
var statColumns = map[string]bool{"cat": true, "access": true}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// StatRow is one group of the Stats report.
type StatRow struct {
	Group map[string]string `json:"group"`
	Count int64             `json:"count"`
}

// Stats counts entries grouped by the given column projections, used for
// instance-management reporting. Groupings must come from the allowlist
// (cat, access); with no groupings a single total row is returned.
func (s *Store) Stats(ctx context.Context, groupings ...string) ([]StatRow, error) {
	for _, g := range groupings {
		if !identPattern.MatchString(g) || !statColumns[g] {
			return nil, fmt.Errorf("unsupported stats grouping %q", g)
		}
	}

	query := "SELECT COUNT(*) FROM Entry"
	if len(groupings) > 0 {
		cols := strings.Join(groupings, ", ")
		query = fmt.Sprintf(
			"SELECT %s, COUNT(*) FROM Entry GROUP BY %s ORDER BY %s",
			cols, cols, cols)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	out := []StatRow{}
	for rows.Next() {
		vals := make([]sql.NullString, len(groupings))
		ptrs := make([]any, 0, len(groupings)+1)
		for i := range vals {
			ptrs = append(ptrs, &vals[i])
		}
		var count int64
		ptrs = append(ptrs, &count)
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("stats: scan: %w", err)
		}
		group := make(map[string]string, len(groupings))
		for i, g := range groupings {
			group[g] = vals[i].String
		}
		out = append(out, StatRow{Group: group, Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: iterate: %w", err)
	}
	return out, nil
}

// Dump returns every entry in oid order together with the instance
// release. The listing feeds the shadow/real transfer protocol: it is the
// unit that upgrade procedures mutate and Load re-ingests.
func (s *Store) Dump(ctx context.Context) ([]Entry, int, error) {
	release, err := s.Release(ctx)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+entryShortColumns+` FROM EntryShort ORDER BY oid ASC`)
	if err != nil {
		return nil, 0, fmt.Errorf("dump: %w", err)
	}
	defer rows.Close()

	listing := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("dump: scan: %w", err)
		}
		listing = append(listing, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("dump: iterate: %w", err)
	}
	return listing, release, nil
}
