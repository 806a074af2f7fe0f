// Package verify reads profit-sharing tables back and checks the properties a
// migration must preserve.
package verify

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/fiscal"
	"github.com/demoulas/profitsharing-migrator/internal/schema"
)

// WeekEndingMismatch is a calendar row whose ACC_WKEND2_N disagrees with ACC_WKEND_N.
type WeekEndingMismatch struct {
	WeekEnding int
	Stored     sql.NullInt64
	Expected   int
	Err        error
}

func (m WeekEndingMismatch) String() string {
	if m.Err != nil {
		return fmt.Sprintf("ACC_WKEND_N=%d: %v", m.WeekEnding, m.Err)
	}
	stored := "NULL"
	if m.Stored.Valid {
		stored = fmt.Sprint(m.Stored.Int64)
	}
	return fmt.Sprintf("ACC_WKEND_N=%d: ACC_WKEND2_N=%s, want %d", m.WeekEnding, stored, m.Expected)
}

// WeekEndingMismatches returns every CALDAR_RECORD row where ACC_WKEND2_N is
// not the YYYYMMDD expansion of ACC_WKEND_N.
func WeekEndingMismatches(ctx context.Context, q backends.Querier) ([]WeekEndingMismatch, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT "ACC_WKEND_N"::integer, "ACC_WKEND2_N" FROM "CALDAR_RECORD" ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to read week endings: %w", err)
	}
	defer rows.Close()

	var out []WeekEndingMismatch
	for rows.Next() {
		var short int
		var stored sql.NullInt64
		if err := rows.Scan(&short, &stored); err != nil {
			return nil, fmt.Errorf("failed to scan week ending: %w", err)
		}
		expected, err := fiscal.ExpandYYMMDD(short)
		switch {
		case err != nil:
			out = append(out, WeekEndingMismatch{WeekEnding: short, Stored: stored, Err: err})
		case !stored.Valid || stored.Int64 != int64(expected):
			out = append(out, WeekEndingMismatch{WeekEnding: short, Stored: stored, Expected: expected})
		}
	}
	return out, rows.Err()
}

// UnexpandableWeekEndings returns the YYMMDD values in column of CALDAR_RECORD
// that do not expand to a real date.
func UnexpandableWeekEndings(ctx context.Context, q backends.Querier, column string) ([]int, error) {
	query := fmt.Sprintf(`SELECT %[1]s::integer FROM "CALDAR_RECORD" WHERE %[1]s IS NOT NULL ORDER BY 1`,
		schema.QuoteIdentifier(column))
	values, err := intColumn(ctx, q, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", column, err)
	}
	var bad []int
	for _, v := range values {
		if _, err := fiscal.ExpandYYMMDD(v); err != nil {
			bad = append(bad, v)
		}
	}
	return bad, nil
}

// ProfitCodeIDs returns the sorted key values of PROFIT_CODE read from column
// (CODE before the surrogate key exists, ID after).
func ProfitCodeIDs(ctx context.Context, q backends.Querier, column string) ([]int, error) {
	query := fmt.Sprintf(`SELECT %s::integer FROM "PROFIT_CODE" ORDER BY 1`, schema.QuoteIdentifier(column))
	ids, err := intColumn(ctx, q, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read profit codes: %w", err)
	}
	return ids, nil
}

// ProfitDetailHistogram counts PROFIT_DETAIL rows per profit code read from column.
func ProfitDetailHistogram(ctx context.Context, q backends.Querier, column string) (map[int]int64, error) {
	query := fmt.Sprintf(`SELECT %[1]s::integer, count(*) FROM "PROFIT_DETAIL" GROUP BY %[1]s`,
		schema.QuoteIdentifier(column))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read profit detail histogram: %w", err)
	}
	defer rows.Close()

	hist := make(map[int]int64)
	for rows.Next() {
		var code int
		var n int64
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("failed to scan histogram row: %w", err)
		}
		hist[code] = n
	}
	return hist, rows.Err()
}

// SortedKeys returns the keys of a histogram in ascending order.
func SortedKeys(hist map[int]int64) []int {
	keys := make([]int, 0, len(hist))
	for k := range hist {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func intColumn(ctx context.Context, q backends.Querier, query string) ([]int, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UncompactableDates returns the dates in column of CALDAR_RECORD, as
// YYYYMMDD, that fall outside the two-digit-year window.
func UncompactableDates(ctx context.Context, q backends.Querier, column string) ([]int, error) {
	query := fmt.Sprintf(`SELECT to_char(%[1]s, 'YYYYMMDD')::integer FROM "CALDAR_RECORD" WHERE %[1]s IS NOT NULL ORDER BY 1`,
		schema.QuoteIdentifier(column))
	values, err := intColumn(ctx, q, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", column, err)
	}
	var bad []int
	for _, v := range values {
		if _, err := fiscal.CompactYYYYMMDD(v); err != nil {
			bad = append(bad, v)
		}
	}
	return bad, nil
}
