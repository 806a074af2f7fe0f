package profitsharing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/demoulas/profitsharing-migrator/internal/verify"
	"github.com/demoulas/profitsharing-migrator/migrations"
)

// ErrGuard marks a failed restructure assertion.
var ErrGuard = errors.New("profit-sharing guard")

// restructureGuard checks the restructure in both directions. Before records
// the profit codes and PROFIT_DETAIL histogram that After compares against.
type restructureGuard struct {
	mapping *Mapping

	codes     []int
	histogram map[int]int64
}

func newRestructureGuard(mapping *Mapping) migrations.Guard {
	return &restructureGuard{mapping: mapping}
}

func (g *restructureGuard) Before(ctx context.Context, q migrations.Querier, dir migrations.Direction) error {
	if dir == migrations.Down {
		return g.beforeDown(ctx, q)
	}
	return g.beforeUp(ctx, q)
}

func (g *restructureGuard) After(ctx context.Context, q migrations.Querier, dir migrations.Direction) error {
	if dir == migrations.Down {
		return g.afterDown(ctx, q)
	}
	return g.afterUp(ctx, q)
}

func (g *restructureGuard) beforeUp(ctx context.Context, q migrations.Querier) error {
	for _, column := range []string{"ACC_WKEND_N", "ACC_APWKEND"} {
		bad, err := verify.UnexpandableWeekEndings(ctx, q, column)
		if err != nil {
			return err
		}
		if len(bad) > 0 {
			return fmt.Errorf("%w: %s holds values that are not dates: %v", ErrGuard, column, bad)
		}
	}

	codes, err := verify.ProfitCodeIDs(ctx, q, "CODE")
	if err != nil {
		return err
	}
	for _, code := range codes {
		if _, ok := g.mapping.ToID(code); !ok {
			return fmt.Errorf("%w: PROFIT_CODE.CODE %d has no mapping", ErrGuard, code)
		}
	}
	hist, err := verify.ProfitDetailHistogram(ctx, q, "PROFIT_CODE")
	if err != nil {
		return err
	}
	g.codes, g.histogram = codes, hist
	return nil
}

func (g *restructureGuard) afterUp(ctx context.Context, q migrations.Querier) error {
	if err := checkWeekEndings(ctx, q); err != nil {
		return err
	}

	want := make([]int, 0, len(g.codes))
	for _, code := range g.codes {
		id, _ := g.mapping.ToID(code)
		want = append(want, id)
	}
	want = union(want, g.mapping.Inserted())
	ids, err := verify.ProfitCodeIDs(ctx, q, "ID")
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(ids, want) {
		return fmt.Errorf("%w: PROFIT_CODE.ID is %v, want %v", ErrGuard, ids, want)
	}

	mapped := make(map[int]int64, len(g.histogram))
	for code, n := range g.histogram {
		id, ok := g.mapping.ToID(code)
		if !ok {
			return fmt.Errorf("%w: PROFIT_DETAIL references unmapped code %d", ErrGuard, code)
		}
		mapped[id] += n
	}
	return g.compareHistogram(ctx, q, "PROFIT_CODE_ID", mapped)
}

func (g *restructureGuard) beforeDown(ctx context.Context, q migrations.Querier) error {
	if err := checkWeekEndings(ctx, q); err != nil {
		return err
	}
	bad, err := verify.UncompactableDates(ctx, q, "ACC_APWKEND")
	if err != nil {
		return err
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: ACC_APWKEND dates outside the two-digit-year window: %v", ErrGuard, bad)
	}

	ids, err := verify.ProfitCodeIDs(ctx, q, "ID")
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := g.mapping.ToCode(id); !ok && !g.mapping.IsInserted(id) {
			return fmt.Errorf("%w: PROFIT_CODE.ID %d has no legacy code", ErrGuard, id)
		}
	}
	hist, err := verify.ProfitDetailHistogram(ctx, q, "PROFIT_CODE_ID")
	if err != nil {
		return err
	}
	for _, id := range verify.SortedKeys(hist) {
		if _, ok := g.mapping.ToCode(id); !ok {
			return fmt.Errorf("%w: %d PROFIT_DETAIL rows use profit code %d, which has no legacy code",
				ErrGuard, hist[id], id)
		}
	}
	g.codes, g.histogram = ids, hist
	return nil
}

func (g *restructureGuard) afterDown(ctx context.Context, q migrations.Querier) error {
	var want []int
	for _, id := range g.codes {
		if code, ok := g.mapping.ToCode(id); ok {
			want = append(want, code)
		}
	}
	sort.Ints(want)
	codes, err := verify.ProfitCodeIDs(ctx, q, "CODE")
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(codes, want) {
		return fmt.Errorf("%w: PROFIT_CODE.CODE is %v, want %v", ErrGuard, codes, want)
	}

	mapped := make(map[int]int64, len(g.histogram))
	for id, n := range g.histogram {
		code, _ := g.mapping.ToCode(id)
		mapped[code] += n
	}
	return g.compareHistogram(ctx, q, "PROFIT_CODE", mapped)
}

func (g *restructureGuard) compareHistogram(ctx context.Context, q migrations.Querier, column string, want map[int]int64) error {
	got, err := verify.ProfitDetailHistogram(ctx, q, column)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(got, want) {
		return fmt.Errorf("%w: PROFIT_DETAIL rows per %s are %v, want %v", ErrGuard, column, got, want)
	}
	return nil
}

func checkWeekEndings(ctx context.Context, q migrations.Querier) error {
	mismatches, err := verify.WeekEndingMismatches(ctx, q)
	if err != nil {
		return err
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%w: %d ACC_WKEND2_N values disagree with ACC_WKEND_N, first %s",
			ErrGuard, len(mismatches), mismatches[0])
	}
	return nil
}

func union(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, v := range append(append([]int(nil), a...), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
