package profitsharing

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demoulas/profitsharing-migrator/migrations"
)

const (
	qWeekEnding   = `SELECT "ACC_WKEND_N"::integer FROM "CALDAR_RECORD"`
	qAPWeekEnding = `SELECT "ACC_APWKEND"::integer FROM "CALDAR_RECORD"`
	qMismatches   = `SELECT "ACC_WKEND_N"::integer, "ACC_WKEND2_N" FROM "CALDAR_RECORD"`
	qUncompact    = `SELECT to_char("ACC_APWKEND", 'YYYYMMDD')::integer FROM "CALDAR_RECORD"`
	qCodes        = `SELECT "CODE"::integer FROM "PROFIT_CODE"`
	qIDs          = `SELECT "ID"::integer FROM "PROFIT_CODE"`
	qHistLegacy   = `SELECT "PROFIT_CODE"::integer, count(*) FROM "PROFIT_DETAIL"`
	qHistNew      = `SELECT "PROFIT_CODE_ID"::integer, count(*) FROM "PROFIT_DETAIL"`
)

func newGuard(t *testing.T) (migrations.Guard, sqlmock.Sqlmock, migrations.Querier) {
	t.Helper()
	return newGuardFor(t, loadSeeds(t))
}

func newGuardFor(t *testing.T, seeds *Seeds) (migrations.Guard, sqlmock.Sqlmock, migrations.Querier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newRestructureGuard(seeds.Mapping()), mock, db
}

func ints(col string, values ...int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{col})
	for _, v := range values {
		rows.AddRow(v)
	}
	return rows
}

func histogram(pairs ...int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"code", "count"})
	for i := 0; i+1 < len(pairs); i += 2 {
		rows.AddRow(pairs[i], pairs[i+1])
	}
	return rows
}

func expect(mock sqlmock.Sqlmock, query string, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta(query)).WillReturnRows(rows)
}

func expectBeforeUp(mock sqlmock.Sqlmock) {
	expect(mock, qWeekEnding, ints("v", 241228, 971227))
	expect(mock, qAPWeekEnding, ints("v", 241228, 971227))
	expect(mock, qCodes, ints("CODE", 0, 1, 2, 3, 5, 6, 8))
	expect(mock, qHistLegacy, histogram(0, 120, 1, 4, 8, 7))
}

func TestGuardUp(t *testing.T) {
	g, mock, db := newGuard(t)
	ctx := context.Background()

	expectBeforeUp(mock)
	require.NoError(t, g.Before(ctx, db, migrations.Up))

	expect(mock, qMismatches, sqlmock.NewRows([]string{"a", "b"}).AddRow(241228, 20241228).AddRow(971227, 19971227))
	expect(mock, qIDs, ints("ID", 0, 1, 2, 3, 5, 6, 8, 9))
	expect(mock, qHistNew, histogram(0, 120, 1, 4, 8, 7))
	require.NoError(t, g.After(ctx, db, migrations.Up))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardUpRejectsBadWeekEnding(t *testing.T) {
	g, mock, db := newGuard(t)

	expect(mock, qWeekEnding, ints("v", 241228, 241340))
	err := g.Before(context.Background(), db, migrations.Up)
	require.ErrorIs(t, err, ErrGuard)
	assert.Contains(t, err.Error(), "241340")
}

func TestGuardUpRejectsUnmappedCode(t *testing.T) {
	g, mock, db := newGuard(t)

	expect(mock, qWeekEnding, ints("v"))
	expect(mock, qAPWeekEnding, ints("v"))
	expect(mock, qCodes, ints("CODE", 0, 4))
	err := g.Before(context.Background(), db, migrations.Up)
	require.ErrorIs(t, err, ErrGuard)
	assert.Contains(t, err.Error(), "PROFIT_CODE.CODE 4 has no mapping")
}

func TestGuardUpDetectsLostDetailRows(t *testing.T) {
	g, mock, db := newGuard(t)
	ctx := context.Background()

	expectBeforeUp(mock)
	require.NoError(t, g.Before(ctx, db, migrations.Up))

	expect(mock, qMismatches, sqlmock.NewRows([]string{"a", "b"}))
	expect(mock, qIDs, ints("ID", 0, 1, 2, 3, 5, 6, 8, 9))
	expect(mock, qHistNew, histogram(0, 119, 1, 4, 8, 7))
	err := g.After(ctx, db, migrations.Up)
	require.ErrorIs(t, err, ErrGuard)
	assert.Contains(t, err.Error(), "rows per PROFIT_CODE_ID")
}

func TestGuardUpDetectsWeekEndingMismatch(t *testing.T) {
	g, mock, db := newGuard(t)
	ctx := context.Background()

	expectBeforeUp(mock)
	require.NoError(t, g.Before(ctx, db, migrations.Up))

	expect(mock, qMismatches, sqlmock.NewRows([]string{"a", "b"}).AddRow(971227, 20971227))
	err := g.After(ctx, db, migrations.Up)
	require.ErrorIs(t, err, ErrGuard)
	assert.Contains(t, err.Error(), "want 19971227")
}

func expectBeforeDown(mock sqlmock.Sqlmock, hist *sqlmock.Rows) {
	expect(mock, qMismatches, sqlmock.NewRows([]string{"a", "b"}).AddRow(241228, 20241228))
	expect(mock, qUncompact, ints("v", 20241228))
	expect(mock, qIDs, ints("ID", 0, 1, 2, 3, 5, 6, 8, 9))
	expect(mock, qHistNew, hist)
}

func TestGuardDown(t *testing.T) {
	g, mock, db := newGuard(t)
	ctx := context.Background()

	expectBeforeDown(mock, histogram(0, 3, 6, 1))
	require.NoError(t, g.Before(ctx, db, migrations.Down))

	expect(mock, qCodes, ints("CODE", 0, 1, 2, 3, 5, 6, 8))
	expect(mock, qHistLegacy, histogram(0, 3, 6, 1))
	require.NoError(t, g.After(ctx, db, migrations.Down))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardDownRefusesRowsOnInsertedCode(t *testing.T) {
	g, mock, db := newGuard(t)

	expectBeforeDown(mock, histogram(0, 3, 9, 2))
	err := g.Before(context.Background(), db, migrations.Down)
	require.ErrorIs(t, err, ErrGuard)
	assert.Contains(t, err.Error(), "2 PROFIT_DETAIL rows use profit code 9")
}

func TestGuardDownRefusesOutOfWindowDates(t *testing.T) {
	g, mock, db := newGuard(t)

	expect(mock, qMismatches, sqlmock.NewRows([]string{"a", "b"}))
	expect(mock, qUncompact, ints("v", 20500101))
	err := g.Before(context.Background(), db, migrations.Down)
	require.ErrorIs(t, err, ErrGuard)
	assert.Contains(t, err.Error(), "20500101")
}

func TestGuardDownRefusesUnknownID(t *testing.T) {
	g, mock, db := newGuard(t)

	expect(mock, qMismatches, sqlmock.NewRows([]string{"a", "b"}))
	expect(mock, qUncompact, ints("v"))
	expect(mock, qIDs, ints("ID", 0, 12))
	err := g.Before(context.Background(), db, migrations.Down)
	require.ErrorIs(t, err, ErrGuard)
	assert.Contains(t, err.Error(), "PROFIT_CODE.ID 12 has no legacy code")
}

func TestGuardUpShiftedMapping(t *testing.T) {
	tests := []struct {
		name    string
		after   *sqlmock.Rows
		wantErr string
	}{
		{name: "rewritten", after: histogram(10, 120, 11, 4, 18, 7)},
		{name: "not rewritten", after: histogram(0, 120, 1, 4, 8, 7), wantErr: "want map[10:120 11:4 18:7]"},
		{name: "merged", after: histogram(10, 124, 18, 7), wantErr: "rows per PROFIT_CODE_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mock, db := newGuardFor(t, shiftedSeeds(t))
			ctx := context.Background()

			expectBeforeUp(mock)
			require.NoError(t, g.Before(ctx, db, migrations.Up))

			expect(mock, qMismatches, sqlmock.NewRows([]string{"a", "b"}))
			expect(mock, qIDs, ints("ID", 10, 11, 12, 13, 15, 16, 18, 19))
			expect(mock, qHistNew, tt.after)
			err := g.After(ctx, db, migrations.Up)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrGuard)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGuardUpShiftedMappingChecksIDs(t *testing.T) {
	g, mock, db := newGuardFor(t, shiftedSeeds(t))
	ctx := context.Background()

	expectBeforeUp(mock)
	require.NoError(t, g.Before(ctx, db, migrations.Up))

	expect(mock, qMismatches, sqlmock.NewRows([]string{"a", "b"}))
	expect(mock, qIDs, ints("ID", 0, 1, 2, 3, 5, 6, 8, 9))
	err := g.After(ctx, db, migrations.Up)
	require.ErrorIs(t, err, ErrGuard)
	assert.Contains(t, err.Error(), "want [10 11 12 13 15 16 18 19]")
}

func TestGuardDownShiftedMapping(t *testing.T) {
	tests := []struct {
		name    string
		after   *sqlmock.Rows
		wantErr string
	}{
		{name: "restored", after: histogram(0, 3, 6, 1)},
		{name: "not restored", after: histogram(10, 3, 16, 1), wantErr: "want map[0:3 6:1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mock, db := newGuardFor(t, shiftedSeeds(t))
			ctx := context.Background()

			expect(mock, qMismatches, sqlmock.NewRows([]string{"a", "b"}))
			expect(mock, qUncompact, ints("v", 20241228))
			expect(mock, qIDs, ints("ID", 10, 11, 12, 13, 15, 16, 18, 19))
			expect(mock, qHistNew, histogram(10, 3, 16, 1))
			require.NoError(t, g.Before(ctx, db, migrations.Down))

			expect(mock, qCodes, ints("CODE", 0, 1, 2, 3, 5, 6, 8))
			expect(mock, qHistLegacy, tt.after)
			err := g.After(ctx, db, migrations.Down)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrGuard)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGuardDownShiftedMappingRefusesRowsOnInsertedCode(t *testing.T) {
	g, mock, db := newGuardFor(t, shiftedSeeds(t))

	expect(mock, qMismatches, sqlmock.NewRows([]string{"a", "b"}))
	expect(mock, qUncompact, ints("v"))
	expect(mock, qIDs, ints("ID", 10, 19))
	expect(mock, qHistNew, histogram(10, 1, 19, 2))
	err := g.Before(context.Background(), db, migrations.Down)
	require.ErrorIs(t, err, ErrGuard)
	assert.Contains(t, err.Error(), "2 PROFIT_DETAIL rows use profit code 19")
}
