package verify

import (
	"context"
	"fmt"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
)

// Report is the outcome of Check on one schema.
type Report struct {
	// Restructured is true once CALDAR_RECORD carries ACC_WKEND2_N.
	Restructured bool
	ProfitCodes  []int
	Histogram    map[int]int64
	Problems     []string
}

// OK reports whether Check found nothing to fix.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

// ColumnExists reports whether table has column in the current schema.
func ColumnExists(ctx context.Context, q backends.Querier, table, column string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2)`,
		table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s.%s: %w", table, column, err)
	}
	return exists, nil
}

// Check audits the profit-sharing tables in whichever shape they are in. Before
// the restructure it lists week endings Up could not expand; after it, rows
// whose ACC_WKEND2_N is wrong and dates Down could not compact. In both shapes
// it reports PROFIT_DETAIL rows pointing at a missing profit code.
func Check(ctx context.Context, q backends.Querier) (*Report, error) {
	restructured, err := ColumnExists(ctx, q, "CALDAR_RECORD", "ACC_WKEND2_N")
	if err != nil {
		return nil, err
	}
	r := &Report{Restructured: restructured}

	codeColumn, detailColumn := "CODE", "PROFIT_CODE"
	if restructured {
		codeColumn, detailColumn = "ID", "PROFIT_CODE_ID"

		mismatches, err := WeekEndingMismatches(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, m := range mismatches {
			r.Problems = append(r.Problems, m.String())
		}
		bad, err := UncompactableDates(ctx, q, "ACC_APWKEND")
		if err != nil {
			return nil, err
		}
		for _, v := range bad {
			r.Problems = append(r.Problems, fmt.Sprintf("ACC_APWKEND=%d cannot be stored as YYMMDD", v))
		}
	} else {
		for _, column := range []string{"ACC_WKEND_N", "ACC_APWKEND"} {
			bad, err := UnexpandableWeekEndings(ctx, q, column)
			if err != nil {
				return nil, err
			}
			for _, v := range bad {
				r.Problems = append(r.Problems, fmt.Sprintf("%s=%06d is not a valid YYMMDD date", column, v))
			}
		}
	}

	if r.ProfitCodes, err = ProfitCodeIDs(ctx, q, codeColumn); err != nil {
		return nil, err
	}
	if r.Histogram, err = ProfitDetailHistogram(ctx, q, detailColumn); err != nil {
		return nil, err
	}
	known := make(map[int]bool, len(r.ProfitCodes))
	for _, id := range r.ProfitCodes {
		known[id] = true
	}
	for _, code := range SortedKeys(r.Histogram) {
		if !known[code] {
			r.Problems = append(r.Problems, fmt.Sprintf("%d PROFIT_DETAIL row(s) reference missing profit code %d", r.Histogram[code], code))
		}
	}
	return r, nil
}
