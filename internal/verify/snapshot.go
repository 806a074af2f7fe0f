package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/schema"
)

const columnsQuery = `
	SELECT column_name,
	       data_type,
	       coalesce(character_maximum_length, -1),
	       coalesce(numeric_precision, -1),
	       coalesce(numeric_scale, -1),
	       is_nullable,
	       is_identity,
	       coalesce(column_default, '')
	FROM information_schema.columns
	WHERE table_schema = current_schema() AND table_name = $1`

const indexesQuery = `
	SELECT indexname, indexdef
	FROM pg_indexes
	WHERE schemaname = current_schema() AND tablename = $1`

// NOT NULL constraints are covered by the column definitions.
const constraintsQuery = `
	SELECT con.conname, pg_get_constraintdef(con.oid)
	FROM pg_constraint con
	JOIN pg_class rel ON rel.oid = con.conrelid
	JOIN pg_namespace nsp ON nsp.oid = rel.relnamespace
	WHERE nsp.nspname = current_schema() AND rel.relname = $1
	  AND con.contype IN ('p', 'f', 'u', 'c')`

// TableSnapshot is the comparable state of one table. Column ordinal
// positions are not part of it: PostgreSQL cannot move a re-added column back
// into place.
type TableSnapshot struct {
	Exists      bool
	Columns     map[string]string
	Indexes     map[string]string
	Constraints map[string]string
	RowCount    int64
	Digest      string
}

// Snapshot is the state of a set of tables in the current schema.
type Snapshot struct {
	Tables map[string]*TableSnapshot
}

// TakeSnapshot captures columns, indexes, constraints and an order-independent
// digest of the data of each table.
func TakeSnapshot(ctx context.Context, q backends.Querier, tables []string) (*Snapshot, error) {
	snap := &Snapshot{Tables: make(map[string]*TableSnapshot, len(tables))}
	for _, table := range tables {
		ts, err := snapshotTable(ctx, q, table)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", table, err)
		}
		snap.Tables[table] = ts
	}
	return snap, nil
}

func snapshotTable(ctx context.Context, q backends.Querier, table string) (*TableSnapshot, error) {
	ts := &TableSnapshot{
		Columns:     make(map[string]string),
		Indexes:     make(map[string]string),
		Constraints: make(map[string]string),
	}

	rows, err := q.QueryContext(ctx, columnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	for rows.Next() {
		var name, dataType, nullable, identity, def string
		var length, precision, scale int64
		if err := rows.Scan(&name, &dataType, &length, &precision, &scale, &nullable, &identity, &def); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		ts.Columns[name] = fmt.Sprintf("%s len=%d prec=%d scale=%d nullable=%s identity=%s default=%q",
			dataType, length, precision, scale, nullable, identity, def)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	if len(ts.Columns) == 0 {
		return ts, nil
	}
	ts.Exists = true

	if err := readPairs(ctx, q, indexesQuery, table, ts.Indexes); err != nil {
		return nil, fmt.Errorf("failed to read indexes: %w", err)
	}
	if err := readPairs(ctx, q, constraintsQuery, table, ts.Constraints); err != nil {
		return nil, fmt.Errorf("failed to read constraints: %w", err)
	}

	names := make([]string, 0, len(ts.Columns))
	for name := range ts.Columns {
		names = append(names, name)
	}
	if err := q.QueryRowContext(ctx, DigestQuery(table, names)).Scan(&ts.RowCount, &ts.Digest); err != nil {
		return nil, fmt.Errorf("failed to digest data: %w", err)
	}
	return ts, nil
}

// DigestQuery returns a query yielding the row count and an md5 digest of the
// table contents that ignores row order. Columns are concatenated in name
// order so the digest does not depend on column positions.
func DigestQuery(table string, columns []string) string {
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	parts := make([]string, len(sorted))
	for i, c := range sorted {
		parts[i] = fmt.Sprintf("coalesce(%s::text, '<null>')", schema.QuoteIdentifier(c))
	}
	return fmt.Sprintf(
		`SELECT count(*), coalesce(md5(string_agg(h, '' ORDER BY h)), '') FROM (SELECT md5(concat_ws('|', %s)) AS h FROM %s) t`,
		strings.Join(parts, ", "), schema.QuoteIdentifier(table))
}

func readPairs(ctx context.Context, q backends.Querier, query, table string, into map[string]string) error {
	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return err
		}
		into[k] = v
	}
	return closeRows(rows)
}

type rowsCloser interface {
	Err() error
	Close() error
}

func closeRows(rows rowsCloser) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// Diff lists every difference between s and other, sorted. An empty result
// means the two snapshots describe the same tables and data.
func (s *Snapshot) Diff(other *Snapshot) []string {
	var diffs []string
	for _, table := range unionKeys(tableKeys(s), tableKeys(other)) {
		a, b := s.Tables[table], other.Tables[table]
		switch {
		case a == nil || !a.Exists:
			if b != nil && b.Exists {
				diffs = append(diffs, fmt.Sprintf("%s: table appeared", table))
			}
			continue
		case b == nil || !b.Exists:
			diffs = append(diffs, fmt.Sprintf("%s: table disappeared", table))
			continue
		}
		diffs = append(diffs, diffMaps(table, "column", a.Columns, b.Columns)...)
		diffs = append(diffs, diffMaps(table, "index", a.Indexes, b.Indexes)...)
		diffs = append(diffs, diffMaps(table, "constraint", a.Constraints, b.Constraints)...)
		if a.RowCount != b.RowCount {
			diffs = append(diffs, fmt.Sprintf("%s: row count %d != %d", table, a.RowCount, b.RowCount))
		} else if a.Digest != b.Digest {
			diffs = append(diffs, fmt.Sprintf("%s: data digest %s != %s", table, a.Digest, b.Digest))
		}
	}
	return diffs
}

func diffMaps(table, kind string, a, b map[string]string) []string {
	var diffs []string
	for _, k := range unionKeys(mapKeys(a), mapKeys(b)) {
		av, aok := a[k]
		bv, bok := b[k]
		switch {
		case !bok:
			diffs = append(diffs, fmt.Sprintf("%s: %s %s missing", table, kind, k))
		case !aok:
			diffs = append(diffs, fmt.Sprintf("%s: %s %s added", table, kind, k))
		case av != bv:
			diffs = append(diffs, fmt.Sprintf("%s: %s %s changed: %s -> %s", table, kind, k, av, bv))
		}
	}
	return diffs
}

func tableKeys(s *Snapshot) []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.Tables))
	for k := range s.Tables {
		keys = append(keys, k)
	}
	return keys
}

func mapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func unionKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, k := range append(a, b...) {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
